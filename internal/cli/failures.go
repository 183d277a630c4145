package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/cronwatch/internal/observability"
	"github.com/valter-silva-au/cronwatch/internal/storage"
	"github.com/valter-silva-au/cronwatch/pkg/models"
)

var (
	failuresLimit int
	failuresSince string
	failuresJSON  bool
)

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List recent failed cron runs",
	Long: `List the most recent failed runs, newest first, with their exit code,
severity and message. Use --since to restrict the list to a trailing window.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Events == nil {
			return fmt.Errorf("store not initialized")
		}
		if failuresLimit <= 0 {
			return fmt.Errorf("--limit must be positive, got %d", failuresLimit)
		}

		var window storage.Window
		if failuresSince != "" {
			w, err := observability.ParseWindow(failuresSince)
			if err != nil {
				return fmt.Errorf("parsing --since: %w", err)
			}
			now := time.Now().UTC()
			window = storage.Window{Since: now.Add(-w.Length), Until: now}
		}

		events, err := Events.Query(commandContext(cmd), window, storage.Filter{
			Outcome:    storage.OnlyFailures,
			Limit:      failuresLimit,
			Descending: true,
		})
		if err != nil {
			return fmt.Errorf("listing failures: %w", err)
		}

		out := cmd.OutOrStdout()
		if failuresJSON {
			if events == nil {
				events = []models.CronEvent{}
			}
			return writeJSON(out, events)
		}

		if len(events) == 0 {
			fmt.Fprintln(out, "No failures recorded.")
			return nil
		}
		fmt.Fprintf(out, "  %-23s %-5s %-8s %s\n", "TIME", "EXIT", "SEVERITY", "MESSAGE")
		fmt.Fprintf(out, "  %-23s %-5s %-8s %s\n", "----", "----", "--------", "-------")
		for _, e := range events {
			sev := observability.ClassifySeverity(e.ExitCode)
			fmt.Fprintf(out, "  %-23s %-5d %-8s %s\n",
				e.Timestamp.UTC().Format(displayTime),
				e.ExitCode,
				sev,
				observability.Truncate(e.Message, observability.DefaultMaxMessage))
		}
		return nil
	},
}

func init() {
	failuresCmd.Flags().IntVar(&failuresLimit, "limit", 20, "Maximum number of failures to list")
	failuresCmd.Flags().StringVar(&failuresSince, "since", "", "Only failures within this trailing window (e.g. 24h, 7d)")
	failuresCmd.Flags().BoolVar(&failuresJSON, "json", false, "Output failures as JSON")
	rootCmd.AddCommand(failuresCmd)
}
