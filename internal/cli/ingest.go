package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/cronwatch/internal/core"
)

var ingestNotify bool

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Parse every entry already in the source log",
	Long: `Read the whole source log from the beginning and store every entry that
is not stored yet. Entries already in the store are skipped as duplicates.

Historical failures do not raise alerts unless --notify is given. The read
position is saved at the end of the file, so a daemon started afterwards
only processes new lines.

ingest takes the daemon lock and refuses to run while the daemon is up.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Pipeline == nil {
			return fmt.Errorf("pipeline not initialized")
		}
		path, err := lockPath()
		if err != nil {
			return err
		}

		lock, err := core.AcquireDaemonLock(path)
		if err != nil {
			if errors.Is(err, core.ErrAlreadyRunning) {
				return fmt.Errorf("the collector daemon is running and owns the store, stop it first: %w", err)
			}
			return fmt.Errorf("acquiring daemon lock: %w", err)
		}
		defer func() { _ = lock.Release() }()

		report, err := Pipeline.ParseExisting(commandContext(cmd), ingestNotify)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", Pipeline.SourcePath(), err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Parsed %s\n", Pipeline.SourcePath())
		fmt.Fprintf(out, "  %-12s %d\n", "Lines:", report.Lines)
		fmt.Fprintf(out, "  %-12s %d\n", "Inserted:", report.Inserted)
		fmt.Fprintf(out, "  %-12s %d\n", "Duplicates:", report.Duplicates)
		fmt.Fprintf(out, "  %-12s %d\n", "Malformed:", report.Malformed)
		if ingestNotify {
			fmt.Fprintf(out, "  %-12s %d\n", "Notified:", report.Notified)
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestNotify, "notify", false, "Alert on failures that were not stored yet")
	rootCmd.AddCommand(ingestCmd)
}
