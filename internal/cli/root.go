package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var rootCmd = &cobra.Command{
	Use:   "cronwatch",
	Short: "Cron run collector - ingests cron logs, tracks success rates, alerts on failures",
	Long: `cronwatch tails the newline-delimited JSON log written by cron jobs,
stores every run exactly once in a local SQLite database, keeps rolling
success-rate statistics and raises a desktop or webhook alert whenever a
job exits with a non-zero code.

Run "cronwatch run" to start the collector daemon, "cronwatch stats" to
print the current statistics and "cronwatch watch" for a live view.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "cronwatch %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
