package internal

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/cronwatch/internal/cli"
	"github.com/valter-silva-au/cronwatch/internal/storage"
)

func TestResolveBasePath_EnvSet(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("CRONWATCH_HOME", tmpDir)

	if got := ResolveBasePath(); got != tmpDir {
		t.Errorf("ResolveBasePath() = %q, want %q", got, tmpDir)
	}
}

func TestResolveBasePath_FallsBackToHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("CRONWATCH_HOME", "")
	t.Setenv("HOME", home)

	want := filepath.Join(home, ".cronwatch")
	if got := ResolveBasePath(); got != want {
		t.Errorf("ResolveBasePath() = %q, want %q", got, want)
	}
}

// writeConfig writes a config.yaml that keeps every path inside base and
// disables desktop notifications and the file watcher.
func writeConfig(t *testing.T, base, source string) {
	t.Helper()
	writeConfigWatching(t, base, source, false)
}

func writeConfigWatching(t *testing.T, base, source string, watch bool) {
	t.Helper()
	content := "source:\n" +
		"  path: " + source + "\n" +
		"daemon:\n" +
		"  poll_interval: 1s\n" +
		"  stats_interval: 1m\n" +
		"  watch_fs: " + strconv.FormatBool(watch) + "\n" +
		"notify:\n" +
		"  enabled: false\n" +
		"log:\n" +
		"  level: error\n"
	if err := os.WriteFile(filepath.Join(base, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNewApp_WiresServices(t *testing.T) {
	base := t.TempDir()
	source := filepath.Join(base, "logs", "ladder.jsonl")
	writeConfig(t, base, source)

	app, err := NewApp(base)
	if err != nil {
		t.Fatalf("NewApp() error: %v", err)
	}
	defer app.Close()

	if app.Config.Source.Path != source {
		t.Errorf("source path = %q, want %q", app.Config.Source.Path, source)
	}
	if app.Config.Daemon.PollInterval != time.Second {
		t.Errorf("poll interval = %s, want 1s", app.Config.Daemon.PollInterval)
	}
	if _, err := os.Stat(filepath.Join(base, "ladder.db")); err != nil {
		t.Errorf("expected database in base path: %v", err)
	}

	if cli.BasePath != base {
		t.Errorf("cli.BasePath = %q, want %q", cli.BasePath, base)
	}
	if cli.Config != app.Config {
		t.Error("cli.Config not set to app config")
	}
	if cli.Pipeline == nil || cli.Stats == nil || cli.Events == nil || cli.Daemon == nil || cli.Logger == nil {
		t.Error("expected every cli service to be set")
	}
	if cli.Pipeline.SourcePath() != source {
		t.Errorf("pipeline source = %q, want %q", cli.Pipeline.SourcePath(), source)
	}
}

func TestNewApp_IngestAndAggregate(t *testing.T) {
	base := t.TempDir()
	source := filepath.Join(base, "ladder.jsonl")
	writeConfig(t, base, source)

	lines := `{"ts":"2023-01-01T12:00:00Z","exit":0,"msg":"ok"}
{"ts":"2023-01-01T12:01:00Z","exit":1,"msg":"timeout"}
{"ts":"2023-01-01T12:02:00Z","exit":0,"msg":"ok"}
not json
`
	if err := os.WriteFile(source, []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}

	app, err := NewApp(base)
	if err != nil {
		t.Fatalf("NewApp() error: %v", err)
	}
	defer app.Close()

	ctx := context.Background()
	report, err := app.Pipeline.ParseExisting(ctx, false)
	if err != nil {
		t.Fatalf("ParseExisting() error: %v", err)
	}
	if report.Inserted != 3 || report.Malformed != 1 {
		t.Errorf("report = %+v, want 3 inserted and 1 malformed", report)
	}

	asOf := time.Date(2023, 1, 1, 13, 0, 0, 0, time.UTC)
	stats, err := app.Aggregator.ComputeStats(ctx, asOf)
	if err != nil {
		t.Fatalf("ComputeStats() error: %v", err)
	}
	if stats.TotalEntries != 3 {
		t.Errorf("total entries = %d, want 3", stats.TotalEntries)
	}
	day, ok := stats.Window("24h")
	if !ok {
		t.Fatal("expected a 24h window")
	}
	if day.TotalRuns != 3 || day.FailedRuns != 1 {
		t.Errorf("24h window = %+v, want 3 runs and 1 failure", day)
	}
	if stats.LastFailure == nil || stats.LastFailure.Message != "timeout" {
		t.Errorf("last failure = %+v, want timeout", stats.LastFailure)
	}

	// The cursor survives a restart so nothing is read twice.
	if err := app.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	again, err := NewApp(base)
	if err != nil {
		t.Fatalf("second NewApp() error: %v", err)
	}
	defer again.Close()
	report, err = again.Pipeline.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() after restart error: %v", err)
	}
	if report.Lines != 0 {
		t.Errorf("expected no lines after restart, got %+v", report)
	}
	events, err := again.Store.Query(ctx, storage.Window{}, storage.Filter{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("expected 3 stored events, got %d", len(events))
	}
}

func TestDaemon_WatcherFailureFallsBackToPolling(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeConfigWatching(t, base, filepath.Join(blocker, "ladder.jsonl"), true)

	app, err := NewApp(base)
	if err != nil {
		t.Fatalf("NewApp() error: %v", err)
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := app.Daemon.Run(ctx); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 250*time.Millisecond {
		t.Errorf("daemon stopped after %s, want it to keep polling until cancelled", elapsed)
	}
}

func TestNewApp_InvalidConfig(t *testing.T) {
	base := t.TempDir()
	content := "daemon:\n  poll_interval: 0s\n"
	if err := os.WriteFile(filepath.Join(base, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := NewApp(base)
	if err == nil {
		t.Fatal("expected error for invalid config")
	}
	if !strings.Contains(err.Error(), "loading configuration") {
		t.Errorf("error = %v, want loading configuration", err)
	}
}

func TestApp_CloseOnPartialApp(t *testing.T) {
	a := &App{}
	if err := a.Close(); err != nil {
		t.Errorf("Close() on empty App returned %v", err)
	}
}
