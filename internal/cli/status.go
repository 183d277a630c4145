package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/cronwatch/internal/core"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the collector daemon is running",
	Long: `Report whether a collector daemon holds the daemon lock, with its PID,
start time, uptime and resident memory.

A PID left behind by a daemon that crashed is reported as stale; it never
prevents a new daemon from starting.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := lockPath()
		if err != nil {
			return err
		}
		status, err := core.ReadDaemonStatus(path)
		if err != nil {
			return fmt.Errorf("reading daemon status: %w", err)
		}

		out := cmd.OutOrStdout()
		if statusJSON {
			return writeJSON(out, status)
		}
		fmt.Fprint(out, renderDaemonStatus(status))
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")
	rootCmd.AddCommand(statusCmd)
}
