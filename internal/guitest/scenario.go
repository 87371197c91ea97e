package guitest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kuitang/catmaid-guitest/internal/browser"
	"github.com/kuitang/catmaid-guitest/internal/errs"
	"github.com/kuitang/catmaid-guitest/internal/fixtures"
	"github.com/kuitang/catmaid-guitest/internal/obs"
)

// CATMAID front page selectors.
const (
	SelectorDataView   = "#data_view"
	SelectorAccount    = "#account"
	SelectorPassword   = "#password"
	SelectorLogin      = "#login"
	SelectorLoginLink  = "a#login"
	SelectorLogoutLink = "a#logout"
)

const (
	// PageLoadTimeout bounds waits that depend on a full front-end load.
	PageLoadTimeout = 100 * time.Second
	// ElementTimeout bounds waits for single elements.
	ElementTimeout = 10 * time.Second
)

// ExpectedTitle must be part of the front page title.
const ExpectedTitle = "CATMAID"

// HomePageLoginLogout loads the front page, checks the browser log and title,
// logs in as the fixture user and logs out again.
func HomePageLoginLogout(ctx context.Context, run *Run) error {
	s := run.Session()
	logger := obs.PkgFrom(ctx, "guitest")

	if err := s.Navigate(ctx, run.URL("/")); err != nil {
		return err
	}

	entries, err := s.Logs(ctx)
	if err != nil {
		return err
	}
	if err := ScanLogs(ctx, run, entries); err != nil {
		return err
	}

	title, err := s.Title(ctx)
	if err != nil {
		return errs.Wrap(errs.Unavailable, "read page title", err)
	}
	if !strings.Contains(title, ExpectedTitle) {
		return errs.New(errs.AssertionFailed, fmt.Sprintf("page title %q does not contain %q", title, ExpectedTitle))
	}

	if _, err := s.WaitVisible(ctx, SelectorDataView, PageLoadTimeout); err != nil {
		return err
	}
	logger.Debug("front page loaded")

	account, err := s.WaitVisible(ctx, SelectorAccount, ElementTimeout)
	if err != nil {
		return err
	}
	password, err := s.WaitVisible(ctx, SelectorPassword, ElementTimeout)
	if err != nil {
		return err
	}
	login, err := s.WaitVisible(ctx, SelectorLogin, ElementTimeout)
	if err != nil {
		return err
	}

	if err := account.Type(ctx, fixtures.TestUsername); err != nil {
		return errs.Wrap(errs.Unavailable, "type account", err)
	}
	if err := password.Type(ctx, fixtures.TestPassword); err != nil {
		return errs.Wrap(errs.Unavailable, "type password", err)
	}
	if err := login.PressReturn(ctx); err != nil {
		return errs.Wrap(errs.Unavailable, "submit login", err)
	}

	logout, err := s.WaitVisible(ctx, SelectorLogoutLink, PageLoadTimeout)
	if err != nil {
		return err
	}
	if err := assertDisplayed(ctx, logout, true, "Logout button is displayed"); err != nil {
		return err
	}
	if err := waitHidden(ctx, s, SelectorLoginLink, "Login button is invisible"); err != nil {
		return err
	}
	logger.Debug("logged in")

	if err := logout.PressReturn(ctx); err != nil {
		return errs.Wrap(errs.Unavailable, "submit logout", err)
	}
	if err := waitHidden(ctx, s, SelectorLogoutLink, "Logout button is invisible"); err != nil {
		return err
	}
	loginLink, err := s.WaitVisible(ctx, SelectorLoginLink, ElementTimeout)
	if err != nil {
		return err
	}
	if err := assertDisplayed(ctx, loginLink, true, "Login button is displayed"); err != nil {
		return err
	}
	logger.Debug("logged out")
	return nil
}

func assertDisplayed(ctx context.Context, el browser.Element, want bool, what string) error {
	got, err := el.Displayed(ctx)
	if err != nil {
		return errs.Wrap(errs.Unavailable, what, err)
	}
	if got != want {
		return errs.New(errs.AssertionFailed, what)
	}
	return nil
}

// waitHidden waits for selector to become invisible, then asserts that any
// element still matching it is not displayed. An absent element counts as hidden.
func waitHidden(ctx context.Context, s browser.Session, selector, what string) error {
	if err := s.WaitInvisible(ctx, selector, ElementTimeout); err != nil {
		return err
	}
	el, err := s.Find(ctx, selector)
	if errors.Is(err, browser.ErrNoElement) {
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.Unavailable, what, err)
	}
	return assertDisplayed(ctx, el, false, what)
}
