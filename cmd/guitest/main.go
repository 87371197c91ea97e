// Command guitest runs the CATMAID login/logout browser check outside of
// `go test` and manages the fixture records it relies on.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kuitang/catmaid-guitest/internal/config"
	"github.com/kuitang/catmaid-guitest/internal/obs"
)

var (
	configFile string
	enabled    bool
	remote     bool
	baseURL    string
	engine     string
	browserArg string
)

var rootCmd = &cobra.Command{
	Use:   "guitest",
	Short: "CATMAID front-end GUI test harness",
	Long: `guitest drives a browser through CATMAID's home page, login and logout.

Configuration comes from the environment (GUI_TESTS_ENABLED, GUI_TESTS_REMOTE,
CATMAID_BASE_URL, SAUCE_* ...), an optional YAML file and the flags below.

Available subcommands:
  run      - Create fixtures, run the login/logout flow, remove fixtures
  fixtures - Create or remove fixture records
  gate     - Show whether GUI tests would run`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		obs.Init()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "YAML config file (default $GUI_TESTS_CONFIG)")
	pf.BoolVar(&enabled, "enabled", false, "override GUI_TESTS_ENABLED")
	pf.BoolVar(&remote, "remote", false, "override GUI_TESTS_REMOTE")
	pf.StringVar(&baseURL, "base-url", "", "override CATMAID_BASE_URL")
	pf.StringVar(&engine, "engine", "", "local engine: playwright or rod")
	pf.StringVar(&browserArg, "browser", "", "playwright browser: firefox or chromium")

	rootCmd.AddCommand(runCmd, fixturesCmd, gateCmd)
}

// loadConfig applies only the flags the user actually set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := config.Flags{
		ConfigFile: configFile,
		BaseURL:    baseURL,
		Engine:     engine,
		Browser:    browserArg,
	}
	if cmd.Flags().Changed("enabled") {
		flags.Enabled = &enabled
	}
	if cmd.Flags().Changed("remote") {
		flags.Remote = &remote
	}
	return config.Load(flags)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
