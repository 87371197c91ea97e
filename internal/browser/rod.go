package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/kuitang/catmaid-guitest/internal/errs"
	"github.com/kuitang/catmaid-guitest/internal/obs"
)

// RodLauncher starts a local Chrome and drives it over the DevTools protocol.
type RodLauncher struct {
	Headless     bool
	PollInterval time.Duration
}

func (l RodLauncher) Launch(ctx context.Context) (Session, error) {
	lnch := launcher.New().
		Headless(l.Headless).
		Set("no-sandbox").
		Set("disable-gpu")

	controlURL, err := lnch.Launch()
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "failed to launch Chrome", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		lnch.Kill()
		return nil, errs.Wrap(errs.Unavailable, "failed to connect to Chrome", err)
	}
	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = b.Close()
		lnch.Kill()
		return nil, errs.Wrap(errs.Unavailable, "failed to open page", err)
	}

	eventCtx, stop := context.WithCancel(context.Background())
	s := &rodSession{
		browser:  b,
		launcher: lnch,
		page:     page,
		interval: l.PollInterval,
		wait:     DefaultImplicitWait,
		stop:     stop,
	}
	// EachEvent enables the Runtime and Log domains while the loop runs.
	listen := page.Context(eventCtx).EachEvent(
		s.onConsoleAPI,
		s.onException,
		s.onLogEntry,
	)
	go listen()

	obs.PkgFrom(ctx, "browser").Info("browser launched", "engine", "rod", "headless", l.Headless)
	return s, nil
}

type rodSession struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	page     *rod.Page
	interval time.Duration
	wait     time.Duration
	stop     context.CancelFunc

	mu      sync.Mutex
	entries []LogEntry
}

func (s *rodSession) record(level, message string) {
	s.mu.Lock()
	s.entries = append(s.entries, LogEntry{Level: level, Message: message})
	s.mu.Unlock()
}

func (s *rodSession) onConsoleAPI(e *proto.RuntimeConsoleAPICalled) {
	parts := make([]string, 0, len(e.Args))
	for _, arg := range e.Args {
		if arg.Description != "" {
			parts = append(parts, arg.Description)
		} else if !arg.Value.Nil() {
			parts = append(parts, arg.Value.String())
		}
	}
	text := strings.Join(parts, " ")
	if e.StackTrace != nil && len(e.StackTrace.CallFrames) > 0 {
		f := e.StackTrace.CallFrames[0]
		text = formatLocated(f.URL, f.LineNumber+1, f.ColumnNumber+1, text)
	}
	s.record(consoleLevel(string(e.Type)), text)
}

func (s *rodSession) onException(e *proto.RuntimeExceptionThrown) {
	d := e.ExceptionDetails
	if d == nil {
		return
	}
	text := d.Text
	if d.Exception != nil && d.Exception.Description != "" {
		text += " " + d.Exception.Description
	}
	s.record(LevelSevere, formatLocated(d.URL, d.LineNumber+1, d.ColumnNumber+1, text))
}

func (s *rodSession) onLogEntry(e *proto.LogEntryAdded) {
	if e.Entry == nil {
		return
	}
	level := LevelInfo
	switch e.Entry.Level {
	case proto.LogLogEntryLevelError:
		level = LevelSevere
	case proto.LogLogEntryLevelWarning:
		level = LevelWarning
	case proto.LogLogEntryLevelVerbose:
		level = LevelDebug
	}
	text := e.Entry.Text
	if e.Entry.URL != "" {
		text = e.Entry.URL + " - " + text
	}
	s.record(level, text)
}

func (s *rodSession) ID() string { return string(s.page.TargetID) }

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return errs.Wrap(errs.Unavailable, fmt.Sprintf("navigate to %s", url), err)
	}
	if err := p.WaitLoad(); err != nil {
		return errs.Wrap(errs.Unavailable, fmt.Sprintf("load %s", url), err)
	}
	return nil
}

func (s *rodSession) Title(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

func (s *rodSession) Logs(ctx context.Context) ([]LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.entries
	s.entries = nil
	return out, nil
}

func (s *rodSession) Find(ctx context.Context, selector string) (Element, error) {
	el, err := s.page.Context(ctx).Timeout(s.wait).Element(selector)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", selector, ErrNoElement, err)
	}
	return rodElement{el: el}, nil
}

// firstVisible reports the first displayed match, without waiting.
func (s *rodSession) firstVisible(ctx context.Context, selector string) (*rod.Element, error) {
	els, err := s.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	for _, el := range els {
		visible, err := el.Visible()
		if err != nil {
			if isDetachedNode(err) {
				continue
			}
			return nil, err
		}
		if visible {
			return el, nil
		}
	}
	return nil, nil
}

// CDP answers with one of these when a matched node was removed from the
// document before it could be inspected.
var detachedNodeMessages = []string{
	"Could not find node with given id",
	"No node with given id found",
	"Node with given id does not belong to the document",
	"Node is detached from document",
	"cannot find object",
}

func isDetachedNode(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range detachedNodeMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func (s *rodSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	var found *rod.Element
	err := poll(ctx, timeout, s.interval, func(ctx context.Context) (bool, error) {
		el, err := s.firstVisible(ctx, selector)
		found = el
		return el != nil, err
	}, func() error { return TimeoutError(selector, "visible", timeout) })
	if err != nil {
		return nil, err
	}
	return rodElement{el: found}, nil
}

func (s *rodSession) WaitInvisible(ctx context.Context, selector string, timeout time.Duration) error {
	return poll(ctx, timeout, s.interval, func(ctx context.Context) (bool, error) {
		el, err := s.firstVisible(ctx, selector)
		return el == nil, err
	}, func() error { return TimeoutError(selector, "invisible", timeout) })
}

func (s *rodSession) Fetch(ctx context.Context, url string) (string, error) {
	if err := s.Navigate(ctx, url); err != nil {
		return "", err
	}
	return s.PageSource(ctx)
}

func (s *rodSession) PageSource(ctx context.Context) (string, error) {
	return s.page.Context(ctx).HTML()
}

func (s *rodSession) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(true, nil)
}

func (s *rodSession) SetImplicitWait(ctx context.Context, d time.Duration) error {
	s.wait = d
	return nil
}

func (s *rodSession) Close() error {
	s.stop()
	err := s.browser.Close()
	s.launcher.Kill()
	return err
}

type rodElement struct {
	el *rod.Element
}

func (e rodElement) Type(ctx context.Context, text string) error {
	return e.el.Context(ctx).Input(text)
}

func (e rodElement) PressReturn(ctx context.Context) error {
	return e.el.Context(ctx).Type(input.Enter)
}

func (e rodElement) Displayed(ctx context.Context) (bool, error) {
	return e.el.Context(ctx).Visible()
}
