package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	crdb "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/valter-silva-au/cronwatch/internal/core"
)

var runPollInterval time.Duration

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the collector daemon in the foreground",
	Long: `Run the collector daemon until SIGINT or SIGTERM.

The daemon polls the source log every daemon.poll_interval, stores new
entries, alerts on new failures and republishes statistics every
daemon.stats_interval. With daemon.watch_fs it also wakes as soon as the
log is written. With daemon.http_addr it serves /healthz, /status, /stats
and /metrics.

--poll-interval overrides daemon.poll_interval for this run.

Only one daemon may run at a time; a second one exits immediately.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Daemon == nil {
			return fmt.Errorf("daemon not initialized")
		}
		if cmd.Flags().Changed("poll-interval") || runPollInterval != 0 {
			if err := Daemon.SetPollInterval(runPollInterval); err != nil {
				return fmt.Errorf("invalid --poll-interval: %w", err)
			}
		}

		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := Daemon.Run(ctx); err != nil {
			if errors.Is(err, core.ErrAlreadyRunning) {
				if hint := crdb.FlattenHints(err); hint != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), hint)
				}
				return fmt.Errorf("another cronwatch daemon is already running: %w", err)
			}
			return fmt.Errorf("running daemon: %w", err)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().DurationVar(&runPollInterval, "poll-interval", 0, "Override daemon.poll_interval (e.g. 500ms, 10s)")
	rootCmd.AddCommand(runCmd)
}
