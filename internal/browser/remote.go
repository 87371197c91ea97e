package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tebeka/selenium"
	wdlog "github.com/tebeka/selenium/log"

	"github.com/kuitang/catmaid-guitest/internal/config"
	"github.com/kuitang/catmaid-guitest/internal/errs"
	"github.com/kuitang/catmaid-guitest/internal/logutil"
	"github.com/kuitang/catmaid-guitest/internal/obs"
)

// SauceCapabilities builds the capability descriptor for a Sauce Labs job.
func SauceCapabilities(env config.RemoteEnv) selenium.Capabilities {
	return selenium.Capabilities{
		"platform":                       "Windows 10",
		"browserName":                    "chrome",
		"version":                        "latest",
		"captureHtml":                    true,
		"webdriverRemoteQuietExceptions": false,
		"extendedDebugging":              true,
		"tunnel-identifier":              env.JobNumber,
		"name":                           env.JobName(),
		"build":                          env.BuildNumber,
		"tags":                           env.Tags(),
		"goog:loggingPrefs":              map[string]string{string(wdlog.Browser): string(wdlog.All)},
	}
}

// HubURL embeds the credentials into the hub endpoint as basic auth.
func HubURL(hub string, creds config.Credentials) (string, error) {
	u, err := url.Parse(hub)
	if err != nil || u.Host == "" {
		return "", errs.New(errs.InvalidArgument, fmt.Sprintf("invalid hub url %q", hub))
	}
	u.User = url.UserPassword(creds.Username, creds.AccessKey)
	return u.String(), nil
}

var httpClientOnce sync.Once

// useLoggingHTTPClient installs the logging client in the WebDriver package,
// which reads it from a package variable.
func useLoggingHTTPClient() {
	httpClientOnce.Do(func() {
		selenium.HTTPClient = obs.NewHTTPClient("browser", 0)
	})
}

// RemoteLauncher opens a session on a WebDriver hub.
type RemoteLauncher struct {
	HubURL       string
	Env          config.RemoteEnv
	PollInterval time.Duration
}

func (l RemoteLauncher) Launch(ctx context.Context) (Session, error) {
	hub, err := HubURL(l.HubURL, l.Env.Credentials)
	if err != nil {
		return nil, err
	}
	useLoggingHTTPClient()

	wd, err := selenium.NewRemote(SauceCapabilities(l.Env), hub)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, fmt.Sprintf("open remote session at %s", logutil.RedactURL(hub)), err)
	}
	obs.PkgFrom(ctx, "browser").Info("remote session opened", "engine", "remote", "session_id", wd.SessionID())
	return &remoteSession{wd: wd, interval: l.PollInterval}, nil
}

type remoteSession struct {
	wd       selenium.WebDriver
	interval time.Duration
}

func (s *remoteSession) ID() string { return s.wd.SessionID() }

func (s *remoteSession) Navigate(ctx context.Context, url string) error {
	if err := s.wd.Get(url); err != nil {
		return errs.Wrap(errs.Unavailable, fmt.Sprintf("navigate to %s", url), err)
	}
	return nil
}

func (s *remoteSession) Title(ctx context.Context) (string, error) {
	return s.wd.Title()
}

func (s *remoteSession) Logs(ctx context.Context) ([]LogEntry, error) {
	msgs, err := s.wd.Log(wdlog.Browser)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "read browser log", err)
	}
	out := make([]LogEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, LogEntry{Level: string(m.Level), Message: m.Message})
	}
	return out, nil
}

func (s *remoteSession) Find(ctx context.Context, selector string) (Element, error) {
	el, err := s.wd.FindElement(selenium.ByCSSSelector, selector)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", selector, ErrNoElement, err)
	}
	return remoteElement{el: el}, nil
}

func (s *remoteSession) firstVisible(selector string) (selenium.WebElement, error) {
	els, err := s.wd.FindElements(selenium.ByCSSSelector, selector)
	if err != nil {
		// Some hubs answer "no such element" instead of an empty list.
		if strings.Contains(err.Error(), "no such element") {
			return nil, nil
		}
		return nil, err
	}
	for _, el := range els {
		displayed, err := el.IsDisplayed()
		if err != nil {
			if strings.Contains(err.Error(), "stale element") {
				continue
			}
			return nil, err
		}
		if displayed {
			return el, nil
		}
	}
	return nil, nil
}

func (s *remoteSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	var found selenium.WebElement
	err := poll(ctx, timeout, s.interval, func(context.Context) (bool, error) {
		el, err := s.firstVisible(selector)
		found = el
		return el != nil, err
	}, func() error { return TimeoutError(selector, "visible", timeout) })
	if err != nil {
		return nil, err
	}
	return remoteElement{el: found}, nil
}

func (s *remoteSession) WaitInvisible(ctx context.Context, selector string, timeout time.Duration) error {
	return poll(ctx, timeout, s.interval, func(context.Context) (bool, error) {
		el, err := s.firstVisible(selector)
		return el == nil, err
	}, func() error { return TimeoutError(selector, "invisible", timeout) })
}

func (s *remoteSession) Fetch(ctx context.Context, url string) (string, error) {
	if err := s.Navigate(ctx, url); err != nil {
		return "", err
	}
	return s.wd.PageSource()
}

func (s *remoteSession) PageSource(ctx context.Context) (string, error) {
	return s.wd.PageSource()
}

func (s *remoteSession) Screenshot(ctx context.Context) ([]byte, error) {
	return s.wd.Screenshot()
}

func (s *remoteSession) SetImplicitWait(ctx context.Context, d time.Duration) error {
	return s.wd.SetImplicitWaitTimeout(d)
}

func (s *remoteSession) Close() error {
	return s.wd.Quit()
}

type remoteElement struct {
	el selenium.WebElement
}

func (e remoteElement) Type(ctx context.Context, text string) error {
	return e.el.SendKeys(text)
}

func (e remoteElement) PressReturn(ctx context.Context) error {
	return e.el.SendKeys(selenium.ReturnKey)
}

func (e remoteElement) Displayed(ctx context.Context) (bool, error) {
	return e.el.IsDisplayed()
}
