package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/catmaid-guitest/internal/errs"
	"github.com/kuitang/catmaid-guitest/internal/obs"
)

// PlaywrightLauncher starts a local Firefox or Chromium through Playwright.
type PlaywrightLauncher struct {
	Browser  string // "firefox" or "chromium"
	Headless bool
}

func (l PlaywrightLauncher) Launch(ctx context.Context) (Session, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "playwright not available", err)
	}

	browserType := pw.Firefox
	if l.Browser == "chromium" {
		browserType = pw.Chromium
	}
	b, err := browserType.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.Headless),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, errs.Wrap(errs.Unavailable, "could not launch browser", err)
	}
	page, err := b.NewPage()
	if err != nil {
		_ = b.Close()
		_ = pw.Stop()
		return nil, errs.Wrap(errs.Unavailable, "could not create page", err)
	}

	s := &playwrightSession{
		id:      uuid.NewString(),
		pw:      pw,
		browser: b,
		page:    page,
	}
	page.OnConsole(s.onConsole)
	page.OnPageError(s.onPageError)

	obs.PkgFrom(ctx, "browser").Info("browser launched", "engine", "playwright", "browser", browserType.Name(), "headless", l.Headless)
	return s, nil
}

type playwrightSession struct {
	id      string
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page

	mu      sync.Mutex
	entries []LogEntry
}

func (s *playwrightSession) onConsole(msg playwright.ConsoleMessage) {
	text := msg.Text()
	if loc := msg.Location(); loc != nil {
		text = formatLocated(loc.URL, loc.LineNumber, loc.ColumnNumber, text)
	}
	s.mu.Lock()
	s.entries = append(s.entries, LogEntry{Level: consoleLevel(msg.Type()), Message: text})
	s.mu.Unlock()
}

func (s *playwrightSession) onPageError(err error) {
	s.mu.Lock()
	s.entries = append(s.entries, LogEntry{Level: LevelSevere, Message: "Uncaught " + err.Error()})
	s.mu.Unlock()
}

// consoleLevel maps console API message types onto WebDriver log levels.
func consoleLevel(typ string) string {
	switch typ {
	case "error", "assert":
		return LevelSevere
	case "warning", "warn":
		return LevelWarning
	case "debug", "trace":
		return LevelDebug
	default:
		return LevelInfo
	}
}

func (s *playwrightSession) ID() string { return s.id }

func (s *playwrightSession) Navigate(ctx context.Context, url string) error {
	if _, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
	}); err != nil {
		return errs.Wrap(errs.Unavailable, fmt.Sprintf("navigate to %s", url), err)
	}
	return nil
}

func (s *playwrightSession) Title(ctx context.Context) (string, error) {
	return s.page.Title()
}

func (s *playwrightSession) Logs(ctx context.Context) ([]LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.entries
	s.entries = nil
	return out, nil
}

func (s *playwrightSession) Find(ctx context.Context, selector string) (Element, error) {
	all := s.page.Locator(selector)
	n, err := all.Count()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%s: %w", selector, ErrNoElement)
	}
	return playwrightElement{loc: all.First()}, nil
}

func (s *playwrightSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	loc := s.page.Locator(selector).First()
	if err := s.waitFor(loc, playwright.WaitForSelectorStateVisible, timeout); err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return nil, TimeoutError(selector, "visible", timeout)
		}
		return nil, err
	}
	return playwrightElement{loc: loc}, nil
}

func (s *playwrightSession) WaitInvisible(ctx context.Context, selector string, timeout time.Duration) error {
	loc := s.page.Locator(selector).First()
	if err := s.waitFor(loc, playwright.WaitForSelectorStateHidden, timeout); err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return TimeoutError(selector, "invisible", timeout)
		}
		return err
	}
	return nil
}

func (s *playwrightSession) waitFor(loc playwright.Locator, state *playwright.WaitForSelectorState, timeout time.Duration) error {
	return loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   state,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
}

func (s *playwrightSession) Fetch(ctx context.Context, url string) (string, error) {
	if err := s.Navigate(ctx, url); err != nil {
		return "", err
	}
	return s.page.Content()
}

func (s *playwrightSession) PageSource(ctx context.Context) (string, error) {
	return s.page.Content()
}

func (s *playwrightSession) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Screenshot(playwright.PageScreenshotOptions{FullPage: playwright.Bool(true)})
}

func (s *playwrightSession) SetImplicitWait(ctx context.Context, d time.Duration) error {
	applyPageTimeouts(s.page, d)
	return nil
}

// pageTimeouts is the part of playwright.Page that holds default timeouts.
type pageTimeouts interface {
	SetDefaultTimeout(timeout float64)
	SetDefaultNavigationTimeout(timeout float64)
}

// applyPageTimeouts bounds element lookups by the implicit wait while page
// loads keep NavigationTimeout, which takes precedence in Playwright.
func applyPageTimeouts(p pageTimeouts, implicitWait time.Duration) {
	p.SetDefaultTimeout(float64(implicitWait.Milliseconds()))
	p.SetDefaultNavigationTimeout(float64(NavigationTimeout.Milliseconds()))
}

func (s *playwrightSession) Close() error {
	err := s.browser.Close()
	if stopErr := s.pw.Stop(); err == nil {
		err = stopErr
	}
	return err
}

type playwrightElement struct {
	loc playwright.Locator
}

func (e playwrightElement) Type(ctx context.Context, text string) error {
	return e.loc.PressSequentially(text)
}

func (e playwrightElement) PressReturn(ctx context.Context) error {
	return e.loc.Press("Enter")
}

func (e playwrightElement) Displayed(ctx context.Context) (bool, error) {
	return e.loc.IsVisible()
}
