package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/cronwatch/internal/observability"
	"github.com/valter-silva-au/cronwatch/pkg/models"
)

var (
	statsWindow string
	statsJSON   bool
	statsCached bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Display cron run statistics",
	Long: `Display runs, failures, success rate and average interval between runs
for the last 24 hours and 7 days, plus the most recent failure.

Statistics are computed from the store at the moment of the call. Use
--window to compute a single window of any length (e.g. 12h, 30d, 90m) and
--cached to print the values last published by the daemon instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if statsCached {
			return printCachedStats(cmd, out)
		}
		if Stats == nil {
			return fmt.Errorf("aggregator not initialized")
		}

		ctx := commandContext(cmd)
		asOf := time.Now().UTC()
		stats, err := Stats.ComputeStats(ctx, asOf)
		if err != nil {
			return fmt.Errorf("computing stats: %w", err)
		}

		if statsWindow != "" {
			w, err := observability.ParseWindow(statsWindow)
			if err != nil {
				return fmt.Errorf("parsing --window: %w", err)
			}
			ws, err := Stats.WindowStats(ctx, asOf, w)
			if err != nil {
				return fmt.Errorf("computing %s window: %w", w.Name, err)
			}
			stats.Windows = []observability.WindowStats{ws}
		}

		if statsJSON {
			return writeJSON(out, stats)
		}
		fmt.Fprint(out, renderStats(stats))
		return nil
	},
}

func printCachedStats(cmd *cobra.Command, out io.Writer) error {
	if Events == nil {
		return fmt.Errorf("store not initialized")
	}
	snapshots, err := Events.Snapshots(commandContext(cmd))
	if err != nil {
		return fmt.Errorf("reading cached stats: %w", err)
	}

	if statsJSON {
		if snapshots == nil {
			snapshots = []models.MetricSnapshot{}
		}
		return writeJSON(out, snapshots)
	}

	if len(snapshots) == 0 {
		fmt.Fprintln(out, "No cached stats yet. They are published by \"cronwatch run\".")
		return nil
	}
	fmt.Fprintf(out, "Cached stats (computed %s)\n\n", snapshots[0].ComputedAt.UTC().Format(displayTime))
	for _, s := range snapshots {
		fmt.Fprintf(out, "  %-28s %s\n", s.Name, formatSnapshotValue(s))
	}
	return nil
}

func formatSnapshotValue(s models.MetricSnapshot) string {
	if s.Name == models.MetricLastFailureAt {
		return time.Unix(int64(s.Value), 0).UTC().Format(displayTime)
	}
	if s.Value == float64(int64(s.Value)) {
		return fmt.Sprintf("%d", int64(s.Value))
	}
	return fmt.Sprintf("%.3f", s.Value)
}

func writeJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("formatting JSON: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func init() {
	statsCmd.Flags().StringVar(&statsWindow, "window", "", "Compute a single trailing window (e.g. 24h, 7d, 90m)")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output stats as JSON")
	statsCmd.Flags().BoolVar(&statsCached, "cached", false, "Print the stats last published by the daemon")
	rootCmd.AddCommand(statsCmd)
}
