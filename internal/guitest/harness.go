// Package guitest runs browser-driven checks against a CATMAID front end.
//
// A Harness decides whether GUI tests may run, opens one browser session per
// test (locally or on Sauce Labs) and tears it down afterwards, reporting the
// outcome to the browser farm when remote.
package guitest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kuitang/catmaid-guitest/internal/artifacts"
	"github.com/kuitang/catmaid-guitest/internal/browser"
	"github.com/kuitang/catmaid-guitest/internal/config"
	"github.com/kuitang/catmaid-guitest/internal/errs"
	"github.com/kuitang/catmaid-guitest/internal/obs"
	"github.com/kuitang/catmaid-guitest/internal/sauce"
)

// T is the subset of testing.TB the harness uses.
type T interface {
	Helper()
	Name() string
	Failed() bool
	Skip(args ...any)
	Cleanup(func())
	Logf(format string, args ...any)
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// Options configures a Harness. Zero-valued collaborators are derived from Config.
type Options struct {
	Config *config.Config
	// Lookup reads remote credentials and CI metadata. Defaults to the process environment.
	Lookup config.LookupFunc
	// Launcher overrides the engine selected by Config.
	Launcher browser.Launcher
	// Reporter overrides the Sauce Labs client used for remote runs.
	Reporter sauce.Reporter
	// Artifacts overrides the S3 store for failure artifacts.
	Artifacts artifacts.Uploader
	// RunID groups the sessions of one process. Generated when empty.
	RunID string
}

// Harness opens and finishes browser runs.
type Harness struct {
	cfg       *config.Config
	lookup    config.LookupFunc
	launcher  browser.Launcher
	reporter  sauce.Reporter
	artifacts artifacts.Uploader
	runID     string
}

// New creates a Harness.
func New(opts Options) *Harness {
	h := &Harness{
		cfg:       opts.Config,
		lookup:    opts.Lookup,
		launcher:  opts.Launcher,
		reporter:  opts.Reporter,
		artifacts: opts.Artifacts,
		runID:     opts.RunID,
	}
	if h.lookup == nil {
		h.lookup = config.OSLookup
	}
	if h.runID == "" {
		h.runID = obs.NewRunID()
	}
	return h
}

// Config returns the harness configuration.
func (h *Harness) Config() *config.Config { return h.cfg }

// RunID identifies this harness's runs in logs and artifact keys.
func (h *Harness) RunID() string { return h.runID }

// Enabled evaluates the execution gate.
func (h *Harness) Enabled() bool {
	return Enabled(h.cfg, h.lookup)
}

// SkipIfDisabled skips t when the gate is closed.
func (h *Harness) SkipIfDisabled(t T) {
	t.Helper()
	if !h.Enabled() {
		t.Skip(SkipMessage)
	}
}

// SetUp skips t when the gate is closed, otherwise opens a run whose
// teardown is registered with t.Cleanup. The run passes iff t has not
// failed by the time cleanup runs.
func (h *Harness) SetUp(t T) *Run {
	t.Helper()
	h.SkipIfDisabled(t)

	ctx := obs.WithCorrelation(context.Background(), obs.Correlation{TestName: t.Name()})
	run, err := h.Open(ctx, t.Name())
	if err != nil {
		t.Fatalf("open browser session: %v", err)
		return nil
	}
	run.printf = t.Logf
	t.Cleanup(func() {
		if err := run.Finish(ctx, !t.Failed()); err != nil {
			t.Logf("teardown: %v", err)
		}
	})
	return run
}

// Open starts a browser session for the named test.
func (h *Harness) Open(ctx context.Context, name string) (*Run, error) {
	if h.cfg == nil {
		return nil, errs.New(errs.InvalidArgument, "harness has no configuration")
	}
	engine := h.cfg.Engine
	if h.cfg.GUITestsRemote {
		engine = "remote"
	}
	ctx = obs.WithCorrelation(ctx, obs.Correlation{RunID: h.runID, TestName: name, Engine: engine})
	logger := obs.PkgFrom(ctx, "guitest")

	run := &Run{
		name:     name,
		runID:    h.runID,
		engine:   engine,
		baseURL:  h.cfg.BaseURL,
		reporter: sauce.Noop{},
	}
	run.printf = func(format string, args ...any) {
		logger.Info(fmt.Sprintf(format, args...))
	}

	launcher := h.launcher
	if h.cfg.GUITestsRemote {
		env, err := config.LookupRemoteEnv(h.lookup)
		if err != nil {
			return nil, err
		}
		run.remote = true
		run.creds = env.Credentials
		run.reporter = h.reporter
		if run.reporter == nil {
			run.reporter = sauce.NewClient(h.cfg.SauceAPIURL)
		}
		if launcher == nil {
			launcher = browser.RemoteLauncher{HubURL: h.cfg.SauceHubURL, Env: env, PollInterval: h.cfg.PollInterval}
		}
	} else if launcher == nil {
		launcher = localLauncher(h.cfg)
	}

	run.artifacts = h.artifacts
	if run.artifacts == nil && h.cfg.ArtifactsEnabled() {
		store, err := artifacts.New(ctx, artifacts.Config{
			Endpoint:        h.cfg.AWSEndpointS3,
			Region:          h.cfg.AWSRegion,
			AccessKeyID:     h.cfg.AWSAccessKeyID,
			SecretAccessKey: h.cfg.AWSSecretAccessKey,
			BucketName:      h.cfg.ArtifactBucket,
			UsePathStyle:    h.cfg.AWSEndpointS3 != "",
		})
		if err != nil {
			logger.Warn("failure artifacts disabled", "error", err)
		} else {
			run.artifacts = store
		}
	}

	session, err := launcher.Launch(ctx)
	if err != nil {
		if errs.CodeOf(err) == errs.Internal {
			err = errs.Wrap(errs.Unavailable, "launch browser", err)
		}
		return nil, err
	}
	run.session = session

	if err := session.SetImplicitWait(ctx, browser.DefaultImplicitWait); err != nil {
		_ = session.Close()
		return nil, errs.Wrap(errs.Unavailable, "set implicit wait", err)
	}
	logger.Info("browser session ready", "session_id", session.ID(), "remote", run.remote)
	return run, nil
}

func localLauncher(cfg *config.Config) browser.Launcher {
	if cfg.Engine == config.EngineRod {
		return browser.RodLauncher{Headless: cfg.Headless, PollInterval: cfg.PollInterval}
	}
	return browser.PlaywrightLauncher{Browser: cfg.Browser, Headless: cfg.Headless}
}

// Run is one test's browser session. It is not safe for concurrent use,
// except that Finish may be called more than once.
type Run struct {
	name      string
	runID     string
	engine    string
	baseURL   string
	session   browser.Session
	remote    bool
	creds     config.Credentials
	reporter  sauce.Reporter
	artifacts artifacts.Uploader
	printf    func(format string, args ...any)

	once      sync.Once
	finishErr error
}

// Session returns the browser session.
func (r *Run) Session() browser.Session { return r.session }

// URL joins path onto the application's base URL.
func (r *Run) URL(path string) string { return r.baseURL + path }

// Printf writes diagnostic output to the test log.
func (r *Run) Printf(format string, args ...any) { r.printf(format, args...) }

// Finish reports the outcome and closes the session. Only the first call has
// any effect; the session is closed even if reporting or uploads fail.
func (r *Run) Finish(ctx context.Context, passed bool) error {
	r.once.Do(func() {
		r.finishErr = r.finish(ctx, passed)
	})
	return r.finishErr
}

func (r *Run) finish(ctx context.Context, passed bool) (err error) {
	ctx = obs.WithCorrelation(ctx, obs.Correlation{RunID: r.runID, TestName: r.name, SessionID: r.session.ID(), Engine: r.engine})
	logger := obs.PkgFrom(ctx, "guitest")

	defer func() {
		if closeErr := r.session.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close session: %w", closeErr))
		}
		logger.Info("browser session closed", "passed", passed)
	}()

	var errList []error
	if !passed && r.artifacts != nil {
		if _, upErr := r.artifacts.UploadFailure(ctx, r.runID, r.name, r.session); upErr != nil {
			logger.Warn("failure artifacts incomplete", "error", upErr)
			errList = append(errList, upErr)
		}
	}
	if r.remote {
		logger.Info("Link to remote Selenium GUI test job: " + sauce.JobURL(r.session.ID()))
		if repErr := r.reporter.Report(ctx, r.creds, r.session.ID(), passed); repErr != nil {
			logger.Warn("job status not reported", "error", repErr)
			errList = append(errList, repErr)
		}
	}
	return errors.Join(errList...)
}

// Execute runs flow against run and finishes run on every exit path. The run
// passes only if flow returns nil. A panic in flow still closes the session
// and is re-raised afterwards.
func Execute(ctx context.Context, run *Run, flow func(context.Context, *Run) error) (err error) {
	defer func() {
		recovered := recover()
		passed := err == nil && recovered == nil
		// Teardown must not be cut short by an interrupt.
		if finishErr := run.Finish(context.WithoutCancel(ctx), passed); finishErr != nil {
			obs.PkgFrom(ctx, "guitest").Warn("teardown incomplete", "error", finishErr)
		}
		if recovered != nil {
			panic(recovered)
		}
	}()
	return flow(ctx, run)
}
