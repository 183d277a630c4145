package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Helper ---

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// --- Load tests ---

func TestLoad_Defaults_WhenNoFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := NewConfigurationManager(dir).Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "ladder.db"), cfg.Store.Path)
	assert.Equal(t, filepath.Join(dir, "cronwatch.pid"), cfg.Daemon.LockPath)
	assert.Equal(t, filepath.Join(dir, "collector.log"), cfg.Log.File)
	assert.Equal(t, 30*time.Second, cfg.Daemon.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.Daemon.StatsInterval)
	assert.True(t, cfg.Daemon.WatchFS)
	assert.Empty(t, cfg.Daemon.HTTPAddr)
	assert.True(t, cfg.Notify.Enabled)
	assert.Equal(t, "auto", cfg.Notify.Command)
	assert.Equal(t, 100, cfg.Notify.MaxMessage)
	assert.Equal(t, 30, cfg.Notify.RatePerMinute)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, strings.HasPrefix(cfg.Source.Path, "~"), "source path should be expanded, got %s", cfg.Source.Path)
	assert.True(t, strings.HasSuffix(cfg.Source.Path, filepath.Join("logs", "ladder.jsonl")))
}

func TestLoad_ReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
source:
  path: /var/log/cron/ladder.jsonl
daemon:
  poll_interval: 10s
  stats_interval: 2m
  http_addr: 127.0.0.1:9090
notify:
  command: notify-send
  webhook_url: https://hooks.example.com/services/T000/B000
  max_message: 80
log:
  level: debug
  json: true
`)

	cfg, err := NewConfigurationManager(dir).Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/log/cron/ladder.jsonl", cfg.Source.Path)
	assert.Equal(t, 10*time.Second, cfg.Daemon.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.Daemon.StatsInterval)
	assert.Equal(t, "127.0.0.1:9090", cfg.Daemon.HTTPAddr)
	assert.Equal(t, "notify-send", cfg.Notify.Command)
	assert.Equal(t, "https://hooks.example.com/services/T000/B000", cfg.Notify.WebhookURL)
	assert.Equal(t, 80, cfg.Notify.MaxMessage)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, filepath.Join(dir, "ladder.db"), cfg.Store.Path)
	assert.Equal(t, 30, cfg.Notify.RatePerMinute)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "daemon:\n  poll_interval: 10s\n")
	t.Setenv("CRONWATCH_DAEMON_POLL_INTERVAL", "45s")
	t.Setenv("CRONWATCH_NOTIFY_ENABLED", "false")

	cfg, err := NewConfigurationManager(dir).Load()
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Daemon.PollInterval)
	assert.False(t, cfg.Notify.Enabled)
}

func TestLoad_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "store:\n  path: ~/data/ladder.db\n")

	cfg, err := NewConfigurationManager(dir).Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data", "ladder.db"), cfg.Store.Path)
}

func TestLoad_InvalidValues(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
daemon:
  poll_interval: 0s
notify:
  command: growl
log:
  level: verbose
`)

	_, err := NewConfigurationManager(dir).Load()
	require.Error(t, err)
	for _, key := range []string{"daemon.poll_interval", "notify.command", "log.level"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "daemon: [unclosed\n")

	_, err := NewConfigurationManager(dir).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.yaml")
}

func TestValidate_Nil(t *testing.T) {
	assert.Error(t, NewConfigurationManager(t.TempDir()).Validate(nil))
}

func TestValidate_BadHTTPAddrAndWebhook(t *testing.T) {
	cm := NewConfigurationManager(t.TempDir())
	cfg := DefaultConfig(t.TempDir())
	cfg.Daemon.HTTPAddr = "no port"
	cfg.Notify.WebhookURL = "not a url"

	err := cm.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon.http_addr")
	assert.Contains(t, err.Error(), "notify.webhook_url")
}

// --- WriteDefault tests ---

func TestWriteDefault_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	cm := NewConfigurationManager(dir)

	path, err := cm.WriteDefault(false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "poll_interval: 30s")
	assert.Contains(t, string(data), "stats_interval: 5m0s")

	cfg, err := cm.Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Daemon.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.Daemon.StatsInterval)
}

func TestWriteDefault_RefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "log:\n  level: warn\n")
	cm := NewConfigurationManager(dir)

	_, err := cm.WriteDefault(false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	_, err = cm.WriteDefault(true)
	require.NoError(t, err)
	cfg, err := cm.Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"PollInterval":  "poll_interval",
		"RatePerMinute": "rate_per_minute",
		"HTTPAddr":      "http_addr",
		"WebhookURL":    "webhook_url",
		"Path":          "path",
	}
	for in, want := range cases {
		assert.Equal(t, want, snakeCase(in), in)
	}
}
