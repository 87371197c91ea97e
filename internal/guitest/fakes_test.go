package guitest

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/kuitang/catmaid-guitest/internal/browser"
	"github.com/kuitang/catmaid-guitest/internal/config"
	"github.com/kuitang/catmaid-guitest/internal/errs"
)

// fakeT records what the harness does to a test. Run executes the body on its
// own goroutine so Skip and Fatalf can stop it with runtime.Goexit.
type fakeT struct {
	name string

	mu       sync.Mutex
	failed   bool
	skipped  bool
	logs     []string
	cleanups []func()
}

func newFakeT(name string) *fakeT { return &fakeT{name: name} }

func (t *fakeT) Helper()      {}
func (t *fakeT) Name() string { return t.name }

func (t *fakeT) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

func (t *fakeT) Skip(args ...any) {
	t.mu.Lock()
	t.skipped = true
	t.logs = append(t.logs, fmt.Sprint(args...))
	t.mu.Unlock()
	runtime.Goexit()
}

func (t *fakeT) Cleanup(f func()) {
	t.mu.Lock()
	t.cleanups = append(t.cleanups, f)
	t.mu.Unlock()
}

func (t *fakeT) Logf(format string, args ...any) {
	t.mu.Lock()
	t.logs = append(t.logs, fmt.Sprintf(format, args...))
	t.mu.Unlock()
}

func (t *fakeT) Errorf(format string, args ...any) {
	t.mu.Lock()
	t.failed = true
	t.logs = append(t.logs, fmt.Sprintf(format, args...))
	t.mu.Unlock()
}

func (t *fakeT) Fatalf(format string, args ...any) {
	t.Errorf(format, args...)
	runtime.Goexit()
}

// Run executes body like the testing package would, then runs cleanups in reverse.
func (t *fakeT) Run(body func(T)) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			for i := len(t.cleanups) - 1; i >= 0; i-- {
				t.cleanups[i]()
			}
		}()
		body(t)
	}()
	<-done
}

func (t *fakeT) Logs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.logs...)
}

// fakePage models the CATMAID front page: the login form and links react to
// RETURN presses the way the real front end does.
type fakePage struct {
	mu       sync.Mutex
	visible  map[string]bool
	typed    map[string]string
	loggedIn bool
}

func newFakePage() *fakePage {
	return &fakePage{
		visible: map[string]bool{
			SelectorDataView:  true,
			SelectorAccount:   true,
			SelectorPassword:  true,
			SelectorLogin:     true,
			SelectorLoginLink: true,
		},
		typed: map[string]string{},
	}
}

func (p *fakePage) pressReturn(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch selector {
	case SelectorLogin:
		if p.typed[SelectorAccount] == "test" && p.typed[SelectorPassword] == "test" {
			p.loggedIn = true
			p.visible[SelectorLogoutLink] = true
			p.visible[SelectorLoginLink] = false
		}
	case SelectorLogoutLink:
		p.loggedIn = false
		p.visible[SelectorLogoutLink] = false
		p.visible[SelectorLoginLink] = true
	}
}

type fakeSession struct {
	id       string
	page     *fakePage
	title    string
	entries  []browser.LogEntry
	sources  map[string]string
	logsErr  error
	navFails bool

	mu           sync.Mutex
	navigated    []string
	fetched      []string
	closed       int
	implicitWait time.Duration
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		id:      "sess-123",
		page:    newFakePage(),
		title:   "CATMAID",
		sources: map[string]string{},
	}
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.navFails {
		return errs.New(errs.Unavailable, "navigate to "+url)
	}
	s.navigated = append(s.navigated, url)
	return nil
}

func (s *fakeSession) Title(ctx context.Context) (string, error) { return s.title, nil }

func (s *fakeSession) Logs(ctx context.Context) ([]browser.LogEntry, error) {
	return s.entries, s.logsErr
}

func (s *fakeSession) Find(ctx context.Context, selector string) (browser.Element, error) {
	s.page.mu.Lock()
	_, known := s.page.visible[selector]
	s.page.mu.Unlock()
	if !known {
		return nil, fmt.Errorf("%s: %w", selector, browser.ErrNoElement)
	}
	return fakeElement{page: s.page, selector: selector}, nil
}

func (s *fakeSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) (browser.Element, error) {
	s.page.mu.Lock()
	visible := s.page.visible[selector]
	s.page.mu.Unlock()
	if !visible {
		return nil, browser.TimeoutError(selector, "visible", timeout)
	}
	return fakeElement{page: s.page, selector: selector}, nil
}

func (s *fakeSession) WaitInvisible(ctx context.Context, selector string, timeout time.Duration) error {
	s.page.mu.Lock()
	visible := s.page.visible[selector]
	s.page.mu.Unlock()
	if visible {
		return browser.TimeoutError(selector, "invisible", timeout)
	}
	return nil
}

func (s *fakeSession) Fetch(ctx context.Context, url string) (string, error) {
	s.mu.Lock()
	s.fetched = append(s.fetched, url)
	s.mu.Unlock()
	src, ok := s.sources[url]
	if !ok {
		return "", errs.New(errs.NotFound, url)
	}
	return src, nil
}

func (s *fakeSession) PageSource(ctx context.Context) (string, error) {
	return "<html><title>" + s.title + "</title></html>", nil
}

func (s *fakeSession) Screenshot(ctx context.Context) ([]byte, error) { return []byte("png"), nil }

func (s *fakeSession) SetImplicitWait(ctx context.Context, d time.Duration) error {
	s.implicitWait = d
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSession) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeElement struct {
	page     *fakePage
	selector string
}

func (e fakeElement) Type(ctx context.Context, text string) error {
	e.page.mu.Lock()
	e.page.typed[e.selector] += text
	e.page.mu.Unlock()
	return nil
}

func (e fakeElement) PressReturn(ctx context.Context) error {
	e.page.pressReturn(e.selector)
	return nil
}

func (e fakeElement) Displayed(ctx context.Context) (bool, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	return e.page.visible[e.selector], nil
}

type reportCall struct {
	creds  config.Credentials
	jobID  string
	passed bool
}

type fakeReporter struct {
	mu    sync.Mutex
	calls []reportCall
	err   error
}

func (r *fakeReporter) Report(ctx context.Context, creds config.Credentials, jobID string, passed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, reportCall{creds: creds, jobID: jobID, passed: passed})
	return r.err
}

func (r *fakeReporter) Calls() []reportCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reportCall(nil), r.calls...)
}

func launcherFor(s *fakeSession) browser.Launcher {
	return browser.LauncherFunc(func(context.Context) (browser.Session, error) { return s, nil })
}

func localConfig() *config.Config {
	return &config.Config{
		GUITestsEnabled: true,
		BaseURL:         "http://catmaid.test",
		Engine:          config.EnginePlaywright,
		Browser:         config.BrowserFirefox,
		PollInterval:    time.Millisecond,
	}
}

var remoteVars = map[string]string{
	config.EnvSauceUsername:  "alice",
	config.EnvSauceAccessKey: "k3y",
	config.EnvJobNumber:      "12.3",
	config.EnvCommit:         "abc",
	config.EnvBuildNumber:    "12",
	config.EnvTag:            "1.25",
}
