package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kuitang/catmaid-guitest/internal/auth"
	"github.com/kuitang/catmaid-guitest/internal/db"
	"github.com/kuitang/catmaid-guitest/internal/fixtures"
)

var statePath string

var fixturesCmd = &cobra.Command{
	Use:   "fixtures",
	Short: "Create or remove fixture records",
	Long: `Manage the records the login/logout flow needs: AnonymousUser, the "test"
user with password "test", and the default "Project list" data view.

Available subcommands:
  create - Get-or-create the records and write the ones created to --state
  remove - Delete exactly the records listed in --state`,
}

var fixturesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create fixture records",
	RunE:  runFixturesCreate,
}

var fixturesRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove fixture records created earlier",
	RunE:  runFixturesRemove,
}

func init() {
	fixturesCmd.PersistentFlags().StringVar(&statePath, "state", "guitest-fixtures.json", "file recording created records")
	fixturesCmd.AddCommand(fixturesCreateCmd, fixturesRemoveCmd)
}

func runFixturesCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	hasher, err := auth.HasherByName(cfg.PasswordHasher)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	store, err := db.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	set, createErr := fixtures.Create(ctx, store, hasher)
	// Record partial progress too so remove can undo it.
	if err := writeState(set); err != nil {
		return err
	}
	if createErr != nil {
		return createErr
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %d record(s), state in %s\n", len(set.Created), statePath)
	return nil
}

func runFixturesRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	f, err := os.Open(statePath)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	set, err := fixtures.Load(f)
	f.Close()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, err := db.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	n := len(set.Created)
	if err := fixtures.Remove(ctx, store, set); err != nil {
		// Keep what is left for a retry.
		if werr := writeState(set); werr != nil {
			return fmt.Errorf("%w (and state not saved: %v)", err, werr)
		}
		return err
	}
	if err := os.Remove(statePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d record(s)\n", n)
	return nil
}

func writeState(set *fixtures.Set) error {
	f, err := os.Create(statePath)
	if err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := set.Save(f); err != nil {
		f.Close()
		return fmt.Errorf("write state: %w", err)
	}
	return f.Close()
}
