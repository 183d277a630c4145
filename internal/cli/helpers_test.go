package cli

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/cronwatch/internal/core"
	"github.com/valter-silva-au/cronwatch/internal/observability"
	"github.com/valter-silva-au/cronwatch/internal/storage"
	"github.com/valter-silva-au/cronwatch/pkg/models"
)

var t0 = time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)

// --- Fake implementations ---

type fakeIngester struct {
	report models.IngestionReport
	err    error
	calls  int
	notify bool
}

func (f *fakeIngester) ParseExisting(_ context.Context, notify bool) (models.IngestionReport, error) {
	f.calls++
	f.notify = notify
	return f.report, f.err
}

func (f *fakeIngester) SourcePath() string { return "/var/log/ladder.jsonl" }

type fakeStats struct {
	stats     observability.Stats
	window    observability.WindowStats
	err       error
	gotWindow observability.Window
}

func (f *fakeStats) ComputeStats(_ context.Context, asOf time.Time) (observability.Stats, error) {
	s := f.stats
	s.AsOf = asOf
	return s, f.err
}

func (f *fakeStats) WindowStats(_ context.Context, _ time.Time, w observability.Window) (observability.WindowStats, error) {
	f.gotWindow = w
	ws := f.window
	ws.Window = w.Name
	return ws, f.err
}

type fakeEvents struct {
	events    []models.CronEvent
	snapshots []models.MetricSnapshot
	err       error

	gotWindow storage.Window
	gotFilter storage.Filter
}

func (f *fakeEvents) Query(_ context.Context, window storage.Window, filter storage.Filter) ([]models.CronEvent, error) {
	f.gotWindow = window
	f.gotFilter = filter
	return f.events, f.err
}

func (f *fakeEvents) Snapshots(context.Context) ([]models.MetricSnapshot, error) {
	return f.snapshots, f.err
}

type fakeDaemon struct {
	runFn        func(ctx context.Context) error
	pollInterval time.Duration
}

func (f *fakeDaemon) Run(ctx context.Context) error { return f.runFn(ctx) }

func (f *fakeDaemon) SetPollInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", d)
	}
	f.pollInterval = d
	return nil
}

// --- Test helpers ---

// withServices resets every package-level service for the duration of the
// test and installs a config whose lock lives in a temp dir.
func withServices(t *testing.T) *models.Config {
	t.Helper()
	origBase, origMgr, origCfg, origLogger := BasePath, ConfigMgr, Config, Logger
	origPipeline, origStats, origEvents, origDaemon := Pipeline, Stats, Events, Daemon
	t.Cleanup(func() {
		BasePath, ConfigMgr, Config, Logger = origBase, origMgr, origCfg, origLogger
		Pipeline, Stats, Events, Daemon = origPipeline, origStats, origEvents, origDaemon
	})

	dir := t.TempDir()
	BasePath = dir
	ConfigMgr = core.NewConfigurationManager(dir)
	Config = core.DefaultConfig(dir)
	Pipeline, Stats, Events, Daemon = nil, nil, nil, nil
	return Config
}

// run invokes cmd's RunE with output captured.
func run(t *testing.T, cmd *cobra.Command) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	defer func() {
		cmd.SetOut(nil)
		cmd.SetErr(nil)
	}()
	err := cmd.RunE(cmd, []string{})
	return buf.String(), err
}

func scenarioStats() observability.Stats {
	avg := 1.0
	return observability.Stats{
		Windows: []observability.WindowStats{
			{Window: "24h", TotalRuns: 3, FailedRuns: 1, SuccessRate: 2.0 / 3.0, AvgIntervalMinutes: &avg},
			{Window: "7d", TotalRuns: 3, FailedRuns: 1, SuccessRate: 2.0 / 3.0, AvgIntervalMinutes: &avg},
		},
		LastFailure:  &models.CronEvent{Timestamp: t0.Add(time.Minute), ExitCode: 1, Message: "timeout"},
		TotalEntries: 3,
	}
}
