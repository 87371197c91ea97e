// Package browser drives a web browser for GUI tests. Session hides which
// automation stack is underneath: Playwright or Rod for local browsers, a
// WebDriver hub for the remote browser farm.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/kuitang/catmaid-guitest/internal/errs"
)

// Log levels as reported by WebDriver browser logs. Local engines map their
// console message types onto these.
const (
	LevelSevere  = "SEVERE"
	LevelWarning = "WARNING"
	LevelInfo    = "INFO"
	LevelDebug   = "DEBUG"
)

// DefaultImplicitWait is applied to every new session.
const DefaultImplicitWait = 20 * time.Second

// NavigationTimeout bounds a page load, matching WebDriver's default page
// load timeout.
const NavigationTimeout = 300 * time.Second

// DefaultPollInterval paces visibility checks.
const DefaultPollInterval = 500 * time.Millisecond

// LogEntry is one browser console or log record. Either field may be empty
// when the browser reported a malformed entry.
type LogEntry struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Element is a handle to a DOM element.
type Element interface {
	// Type sends text to the element as key presses.
	Type(ctx context.Context, text string) error
	// PressReturn sends the RETURN key.
	PressReturn(ctx context.Context) error
	Displayed(ctx context.Context) (bool, error)
}

// Session is one browser session. It is owned by a single goroutine; only the
// engine's event buffering is synchronized internally.
type Session interface {
	// ID is the remote session id, or a locally generated one.
	ID() string
	Navigate(ctx context.Context, url string) error
	Title(ctx context.Context) (string, error)
	// Logs drains browser log entries collected since the previous call.
	Logs(ctx context.Context) ([]LogEntry, error)
	// Find returns the first element matching a CSS selector.
	Find(ctx context.Context, selector string) (Element, error)
	// WaitVisible blocks until selector matches a displayed element.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	// WaitInvisible blocks until selector matches nothing or only hidden elements.
	WaitInvisible(ctx context.Context, selector string, timeout time.Duration) error
	// Fetch navigates to url and returns the document as the browser serialized it.
	Fetch(ctx context.Context, url string) (string, error)
	PageSource(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	SetImplicitWait(ctx context.Context, d time.Duration) error
	Close() error
}

// Launcher creates sessions.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context) (Session, error)

func (f LauncherFunc) Launch(ctx context.Context) (Session, error) { return f(ctx) }

// ErrNoElement is returned by Find when nothing matches.
var ErrNoElement = errors.New("no such element")

// TimeoutError builds the error returned when a wait expires.
func TimeoutError(selector, state string, timeout time.Duration) error {
	return errs.New(errs.Timeout, fmt.Sprintf("element %s not %s after %s", selector, state, timeout))
}

// poll calls check until it reports true, paced at interval, for at most timeout.
// Expiry yields an errs.Timeout error built by onTimeout; cancellation of the
// parent context is returned as is.
func poll(ctx context.Context, timeout, interval time.Duration, check func(context.Context) (bool, error), onTimeout func() error) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(waitCtx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return onTimeout()
		}
		ok, err := check(waitCtx)
		if err != nil {
			if ctx.Err() == nil && waitCtx.Err() != nil {
				return onTimeout()
			}
			return err
		}
		if ok {
			return nil
		}
	}
}

// formatLocated renders a console message the way WebDriver browser logs do:
// "<url> <line>:<column> <text>".
func formatLocated(url string, line, column int, text string) string {
	if url == "" {
		return text
	}
	return fmt.Sprintf("%s %d:%d %s", url, line, column, text)
}
