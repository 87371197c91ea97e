// Package browser holds the end-to-end GUI tests for the CATMAID front end.
// They are skipped unless GUI_TESTS_ENABLED is set; see internal/config.
package browser

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/kuitang/catmaid-guitest/internal/auth"
	"github.com/kuitang/catmaid-guitest/internal/config"
	"github.com/kuitang/catmaid-guitest/internal/db"
	"github.com/kuitang/catmaid-guitest/internal/fixtures"
	"github.com/kuitang/catmaid-guitest/internal/guitest"
	"github.com/kuitang/catmaid-guitest/internal/obs"
)

var harness *guitest.Harness

// TestMain creates the fixture records once before the tests and removes the
// ones it created afterwards.
func TestMain(m *testing.M) {
	os.Exit(runMain(m))
}

func runMain(m *testing.M) int {
	obs.Init()

	cfg, err := config.Load(config.Flags{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "gui tests: %v\n", err)
		return 1
	}
	harness = guitest.New(guitest.Options{Config: cfg})
	if !harness.Enabled() {
		return m.Run()
	}

	ctx := obs.WithCorrelation(context.Background(), obs.Correlation{RunID: harness.RunID()})
	store, err := db.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gui tests: %v\n", err)
		return 1
	}
	defer store.Close()

	hasher, err := auth.HasherByName(cfg.PasswordHasher)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gui tests: %v\n", err)
		return 1
	}

	set, err := fixtures.Create(ctx, store, hasher)
	defer func() {
		if err := fixtures.Remove(ctx, store, set); err != nil {
			fmt.Fprintf(os.Stderr, "gui tests: remove fixtures: %v\n", err)
		}
	}()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gui tests: create fixtures: %v\n", err)
		return 1
	}

	return m.Run()
}
