package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"suiterunner/cmd/cli/runcmd"
)

var RootCmd = &cobra.Command{
	Use:   "srctl",
	Short: "SuiteRunner - a scheduling service for automated test suites",
	Long: `SuiteRunner schedules automated test suites and keeps a record of their runs.

At a minimum, you need to start the server, the engine and at least 1 worker.
For local use, "run all" starts everything in a single process.`,
}

func init() {
	RootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	RootCmd.AddCommand(runcmd.Command)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v", err)
		os.Exit(1)
	}
}
