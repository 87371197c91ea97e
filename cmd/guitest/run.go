package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kuitang/catmaid-guitest/internal/auth"
	"github.com/kuitang/catmaid-guitest/internal/config"
	"github.com/kuitang/catmaid-guitest/internal/db"
	"github.com/kuitang/catmaid-guitest/internal/errs"
	"github.com/kuitang/catmaid-guitest/internal/fixtures"
	"github.com/kuitang/catmaid-guitest/internal/guitest"
	"github.com/kuitang/catmaid-guitest/internal/obs"
)

const flowName = "HomePageLoginLogout"

var skipFixtures bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the home page login/logout flow",
	Long: `Run the home page login/logout flow once.

This command:
1. Creates the fixture records (unless --skip-fixtures)
2. Opens a local or remote browser session
3. Runs the flow and reports the result to Sauce Labs when remote
4. Closes the session and removes the fixture records it created

Exits 0 when GUI tests are disabled.`,
	RunE: runFlow,
}

func init() {
	runCmd.Flags().BoolVar(&skipFixtures, "skip-fixtures", false, "do not create or remove fixture records")
}

func runFlow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), cfg.Summary())

	h := guitest.New(guitest.Options{Config: cfg})
	if !h.Enabled() {
		fmt.Fprintln(cmd.OutOrStdout(), guitest.SkipMessage)
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = obs.WithCorrelation(ctx, obs.Correlation{RunID: h.RunID(), TestName: flowName})

	if !skipFixtures {
		cleanup, err := createFixtures(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()
	}

	run, err := h.Open(ctx, flowName)
	if err != nil {
		return err
	}
	if err := guitest.Execute(ctx, run, guitest.HomePageLoginLogout); err != nil {
		status := "ERROR"
		if errs.IsTestFailure(err) {
			status = "FAIL"
		}
		obs.PkgFrom(ctx, "main").Error("flow failed", "status", status, "code", errs.CodeOf(err), "error", err)
		return fmt.Errorf("%s %s: %s", status, flowName, errs.MessageOf(err))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "PASS %s\n", flowName)
	return nil
}

// createFixtures returns a cleanup that removes what was created.
func createFixtures(ctx context.Context, cfg *config.Config) (func(), error) {
	store, err := db.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	hasher, err := auth.HasherByName(cfg.PasswordHasher)
	if err != nil {
		store.Close()
		return nil, err
	}
	set, createErr := fixtures.Create(ctx, store, hasher)
	cleanup := func() {
		if err := fixtures.Remove(context.WithoutCancel(ctx), store, set); err != nil {
			obs.PkgFrom(ctx, "main").Warn("fixtures not removed", "error", err)
		}
		store.Close()
	}
	if createErr != nil {
		cleanup()
		return nil, errs.Wrap(errs.FailedPrecondition, "create fixtures", createErr)
	}
	return cleanup, nil
}
