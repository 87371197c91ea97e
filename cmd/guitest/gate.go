package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kuitang/catmaid-guitest/internal/config"
	"github.com/kuitang/catmaid-guitest/internal/guitest"
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Show whether GUI tests would run",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprint(out, cfg.Summary())
		if cfg.GUITestsRemote {
			fmt.Fprintf(out, "  Sauce credentials: %t\n", config.CredentialsAvailable(config.OSLookup))
		}
		if guitest.Enabled(cfg, config.OSLookup) {
			fmt.Fprintln(out, "enabled")
		} else {
			fmt.Fprintln(out, guitest.SkipMessage)
		}
		return nil
	},
}
