package guitest

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/catmaid-guitest/internal/artifacts"
	"github.com/kuitang/catmaid-guitest/internal/browser"
	"github.com/kuitang/catmaid-guitest/internal/config"
	"github.com/kuitang/catmaid-guitest/internal/errs"
	"github.com/kuitang/catmaid-guitest/internal/obs"
)

func TestEnabled_MatchesGatePredicate(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		enabled := rapid.Bool().Draw(t, "enabled")
		remote := rapid.Bool().Draw(t, "remote")
		user := rapid.SampledFrom([]string{"", config.PlaceholderUsername, "alice"}).Draw(t, "user")
		key := rapid.SampledFrom([]string{"", config.PlaceholderAccessKey, "k3y"}).Draw(t, "key")

		vars := map[string]string{}
		if user != "" {
			vars[config.EnvSauceUsername] = user
		}
		if key != "" {
			vars[config.EnvSauceAccessKey] = key
		}
		cfg := &config.Config{GUITestsEnabled: enabled, GUITestsRemote: remote}

		validCreds := user == "alice" && key == "k3y"
		want := enabled && (!remote || validCreds)
		if got := Enabled(cfg, config.MapLookup(vars)); got != want {
			t.Fatalf("Enabled(enabled=%t remote=%t user=%q key=%q) = %t, want %t", enabled, remote, user, key, got, want)
		}
	})
}

func TestSetUp_SkipsWhenDisabled(t *testing.T) {
	t.Parallel()
	session := newFakeSession()
	h := New(Options{
		Config:   &config.Config{GUITestsEnabled: false, BaseURL: "http://catmaid.test"},
		Launcher: launcherFor(session),
	})

	ft := newFakeT("TestX")
	bodyRan := false
	ft.Run(func(t T) {
		h.SetUp(t)
		bodyRan = true
	})

	assert.True(t, ft.skipped)
	assert.False(t, bodyRan)
	assert.Contains(t, ft.Logs(), SkipMessage)
	assert.Zero(t, session.Closed(), "no session should have been opened")
}

func TestSetUp_SkipsRemoteWithoutCredentials(t *testing.T) {
	t.Parallel()
	cfg := localConfig()
	cfg.GUITestsRemote = true
	h := New(Options{
		Config: cfg,
		Lookup: config.MapLookup(map[string]string{
			config.EnvSauceUsername:  config.PlaceholderUsername,
			config.EnvSauceAccessKey: config.PlaceholderAccessKey,
		}),
		Launcher: launcherFor(newFakeSession()),
	})

	ft := newFakeT("TestX")
	ft.Run(func(t T) { h.SetUp(t) })
	assert.True(t, ft.skipped)
}

func TestSetUp_ReleasesOnceEvenWhenBodyFails(t *testing.T) {
	t.Parallel()
	session := newFakeSession()
	reporter := &fakeReporter{}
	cfg := localConfig()
	cfg.GUITestsRemote = true
	h := New(Options{
		Config:   cfg,
		Lookup:   config.MapLookup(remoteVars),
		Launcher: launcherFor(session),
		Reporter: reporter,
	})

	var run *Run
	ft := newFakeT("TestBrowser_HomePageLoginLogout")
	ft.Run(func(t T) {
		run = h.SetUp(t)
		t.Fatalf("assertion failed")
	})

	require.NotNil(t, run)
	assert.Equal(t, 1, session.Closed())
	calls := reporter.Calls()
	require.Len(t, calls, 1)
	assert.False(t, calls[0].passed)
	assert.Equal(t, "sess-123", calls[0].jobID)
	assert.Equal(t, config.Credentials{Username: "alice", AccessKey: "k3y"}, calls[0].creds)
	assert.Equal(t, browser.DefaultImplicitWait, session.implicitWait)

	// A second Finish is a no-op.
	require.NoError(t, run.Finish(context.Background(), true))
	assert.Equal(t, 1, session.Closed())
	assert.Len(t, reporter.Calls(), 1)
}

func TestSetUp_PassingTestReportsPassed(t *testing.T) {
	t.Parallel()
	session := newFakeSession()
	reporter := &fakeReporter{}
	cfg := localConfig()
	cfg.GUITestsRemote = true
	h := New(Options{Config: cfg, Lookup: config.MapLookup(remoteVars), Launcher: launcherFor(session), Reporter: reporter})

	ft := newFakeT("TestOK")
	ft.Run(func(t T) { h.SetUp(t) })

	calls := reporter.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].passed)
	assert.Equal(t, 1, session.Closed())
}

func TestFinish_ClosesWhenReportingFails(t *testing.T) {
	t.Parallel()
	session := newFakeSession()
	reporter := &fakeReporter{err: errs.New(errs.Unavailable, "api down")}
	cfg := localConfig()
	cfg.GUITestsRemote = true
	h := New(Options{Config: cfg, Lookup: config.MapLookup(remoteVars), Launcher: launcherFor(session), Reporter: reporter})

	run, err := h.Open(context.Background(), "TestX")
	require.NoError(t, err)

	err = run.Finish(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, errs.Unavailable, errs.CodeOf(err))
	assert.Equal(t, 1, session.Closed())
}

func TestOpen_LocalNeverReports(t *testing.T) {
	t.Parallel()
	session := newFakeSession()
	reporter := &fakeReporter{}
	h := New(Options{Config: localConfig(), Launcher: launcherFor(session), Reporter: reporter})

	run, err := h.Open(context.Background(), "TestX")
	require.NoError(t, err)
	require.NoError(t, run.Finish(context.Background(), false))
	assert.Empty(t, reporter.Calls())
	assert.Equal(t, 1, session.Closed())
}

func TestOpen_RemoteMissingEnvFailsFast(t *testing.T) {
	t.Parallel()
	vars := map[string]string{}
	for k, v := range remoteVars {
		if k != config.EnvCommit {
			vars[k] = v
		}
	}
	cfg := localConfig()
	cfg.GUITestsRemote = true
	launched := false
	h := New(Options{
		Config: cfg,
		Lookup: config.MapLookup(vars),
		Launcher: browser.LauncherFunc(func(context.Context) (browser.Session, error) {
			launched = true
			return newFakeSession(), nil
		}),
	})

	_, err := h.Open(context.Background(), "TestX")
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.CodeOf(err))
	assert.Contains(t, err.Error(), config.EnvCommit)
	assert.False(t, launched)
}

func TestOpen_LaunchFailureIsUnavailable(t *testing.T) {
	t.Parallel()
	h := New(Options{
		Config: localConfig(),
		Launcher: browser.LauncherFunc(func(context.Context) (browser.Session, error) {
			return nil, errors.New("no browser")
		}),
	})
	_, err := h.Open(context.Background(), "TestX")
	require.Error(t, err)
	assert.Equal(t, errs.Unavailable, errs.CodeOf(err))
}

func TestFinish_UploadsArtifactsOnFailureOnly(t *testing.T) {
	t.Parallel()
	store := artifacts.TestStore(t, "gui-failures")
	ctx := context.Background()

	for _, passed := range []bool{true, false} {
		session := newFakeSession()
		h := New(Options{Config: localConfig(), Launcher: launcherFor(session), Artifacts: store, RunID: "run-fixed"})
		name := "TestPassed"
		if !passed {
			name = "TestFailed"
		}
		run, err := h.Open(ctx, name)
		require.NoError(t, err)
		require.NoError(t, run.Finish(ctx, passed))
		assert.Equal(t, 1, session.Closed())

		_, err = store.Get(ctx, "runs/run-fixed/"+name+"/page.html")
		if passed {
			assert.ErrorIs(t, err, artifacts.ErrObjectNotFound)
		} else {
			assert.NoError(t, err)
		}
	}
}

func TestExecute_PanicInFlowClosesOnceAndReportsFailure(t *testing.T) {
	t.Parallel()
	session := newFakeSession()
	reporter := &fakeReporter{}
	cfg := localConfig()
	cfg.GUITestsRemote = true
	h := New(Options{Config: cfg, Lookup: config.MapLookup(remoteVars), Launcher: launcherFor(session), Reporter: reporter})

	run, err := h.Open(context.Background(), "TestPanics")
	require.NoError(t, err)

	require.PanicsWithValue(t, "engine crashed", func() {
		_ = Execute(context.Background(), run, func(context.Context, *Run) error {
			panic("engine crashed")
		})
	})

	assert.Equal(t, 1, session.Closed())
	calls := reporter.Calls()
	require.Len(t, calls, 1)
	assert.False(t, calls[0].passed)

	require.NoError(t, run.Finish(context.Background(), true))
	assert.Equal(t, 1, session.Closed())
}

func TestExecute_ReportsFlowOutcome(t *testing.T) {
	t.Parallel()
	for _, flowErr := range []error{nil, errs.New(errs.AssertionFailed, "logout link still visible")} {
		session := newFakeSession()
		reporter := &fakeReporter{}
		cfg := localConfig()
		cfg.GUITestsRemote = true
		h := New(Options{Config: cfg, Lookup: config.MapLookup(remoteVars), Launcher: launcherFor(session), Reporter: reporter})

		run, err := h.Open(context.Background(), "TestOutcome")
		require.NoError(t, err)

		err = Execute(context.Background(), run, func(context.Context, *Run) error { return flowErr })
		assert.Equal(t, flowErr, err)
		assert.Equal(t, 1, session.Closed())
		calls := reporter.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, flowErr == nil, calls[0].passed)
	}
}

func TestExecute_CancelledContextStillReports(t *testing.T) {
	t.Parallel()
	session := newFakeSession()
	reporter := &fakeReporter{}
	cfg := localConfig()
	cfg.GUITestsRemote = true
	h := New(Options{Config: cfg, Lookup: config.MapLookup(remoteVars), Launcher: launcherFor(session), Reporter: reporter})

	ctx, cancel := context.WithCancel(context.Background())
	run, err := h.Open(ctx, "TestInterrupted")
	require.NoError(t, err)

	err = Execute(ctx, run, func(ctx context.Context, _ *Run) error {
		cancel()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, session.Closed())
	require.Len(t, reporter.Calls(), 1)
}

func TestOpen_LogsCarryEngine(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutputForTests(&buf)
	defer restore()

	cfg := localConfig()
	cfg.Engine = config.EngineRod
	h := New(Options{Config: cfg, Launcher: launcherFor(newFakeSession())})
	run, err := h.Open(context.Background(), "TestEngine")
	require.NoError(t, err)
	require.NoError(t, run.Finish(context.Background(), true))
	assert.Contains(t, buf.String(), `"engine":"rod"`)
	assert.Contains(t, buf.String(), `"pkg":"guitest"`)

	buf.Reset()
	cfg = localConfig()
	cfg.GUITestsRemote = true
	h = New(Options{Config: cfg, Lookup: config.MapLookup(remoteVars), Launcher: launcherFor(newFakeSession()), Reporter: &fakeReporter{}})
	run, err = h.Open(context.Background(), "TestEngine")
	require.NoError(t, err)
	require.NoError(t, run.Finish(context.Background(), true))
	assert.Contains(t, buf.String(), `"engine":"remote"`)
}
