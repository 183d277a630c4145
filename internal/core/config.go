// Package core contains the business logic for cronwatch: configuration,
// the ingestion pipeline, the daemon controller and its exclusive lock.
package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/valter-silva-au/cronwatch/pkg/models"
)

// ConfigFileName is the name of the config file inside the base directory.
const ConfigFileName = "config.yaml"

// EnvPrefix prefixes every environment override, e.g. CRONWATCH_DAEMON_POLL_INTERVAL.
const EnvPrefix = "CRONWATCH"

var validate = validator.New()

// ConfigurationManager defines the interface for loading, validating and
// writing the cronwatch configuration.
type ConfigurationManager interface {
	Load() (*models.Config, error)
	Validate(cfg *models.Config) error
	WriteDefault(force bool) (string, error)
	ConfigPath() string
}

// viperConfigManager implements ConfigurationManager using Viper for
// reading config.yaml and environment overrides.
type viperConfigManager struct {
	basePath string
}

// NewConfigurationManager creates a ConfigurationManager that reads
// config.yaml from basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// DefaultConfig returns the configuration used when no file or environment
// override is present.
func DefaultConfig(basePath string) *models.Config {
	return &models.Config{
		Source: models.SourceConfig{
			Path: filepath.Join("~", "logs", "ladder.jsonl"),
		},
		Store: models.StoreConfig{
			Path: filepath.Join(basePath, "ladder.db"),
		},
		Daemon: models.DaemonConfig{
			PollInterval:  30 * time.Second,
			StatsInterval: 5 * time.Minute,
			LockPath:      filepath.Join(basePath, "cronwatch.pid"),
			WatchFS:       true,
		},
		Notify: models.NotifyConfig{
			Enabled:       true,
			Command:       "auto",
			MaxMessage:    100,
			RatePerMinute: 30,
		},
		Log: models.LogConfig{
			Level: "info",
			File:  filepath.Join(basePath, "collector.log"),
		},
	}
}

// ConfigPath returns the path of config.yaml.
func (cm *viperConfigManager) ConfigPath() string {
	return filepath.Join(cm.basePath, ConfigFileName)
}

// Load reads config.yaml, applies CRONWATCH_* environment overrides, expands
// a leading ~ in paths and validates the result. A missing file yields the
// defaults.
func (cm *viperConfigManager) Load() (*models.Config, error) {
	def := DefaultConfig(cm.basePath)

	v := viper.New()
	v.SetConfigName(strings.TrimSuffix(ConfigFileName, filepath.Ext(ConfigFileName)))
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so AutomaticEnv can override it on Unmarshal.
	v.SetDefault("source.path", def.Source.Path)
	v.SetDefault("store.path", def.Store.Path)
	v.SetDefault("daemon.poll_interval", def.Daemon.PollInterval)
	v.SetDefault("daemon.stats_interval", def.Daemon.StatsInterval)
	v.SetDefault("daemon.lock_path", def.Daemon.LockPath)
	v.SetDefault("daemon.watch_fs", def.Daemon.WatchFS)
	v.SetDefault("daemon.http_addr", def.Daemon.HTTPAddr)
	v.SetDefault("notify.enabled", def.Notify.Enabled)
	v.SetDefault("notify.command", def.Notify.Command)
	v.SetDefault("notify.webhook_url", def.Notify.WebhookURL)
	v.SetDefault("notify.max_message", def.Notify.MaxMessage)
	v.SetDefault("notify.rate_per_minute", def.Notify.RatePerMinute)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.json", def.Log.JSON)
	v.SetDefault("log.file", def.Log.File)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading %s: %w", cm.ConfigPath(), err)
		}
	}

	var cfg models.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	home, _ := os.UserHomeDir()
	cfg.Source.Path = expandHome(cfg.Source.Path, home)
	cfg.Store.Path = expandHome(cfg.Store.Path, home)
	cfg.Daemon.LockPath = expandHome(cfg.Daemon.LockPath, home)
	cfg.Log.File = expandHome(cfg.Log.File, home)

	if err := cm.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its struct tags and returns one error naming
// every invalid key.
func (cm *viperConfigManager) Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// WriteDefault writes the default configuration to config.yaml. An existing
// file is only replaced when force is set.
func (cm *viperConfigManager) WriteDefault(force bool) (string, error) {
	path := cm.ConfigPath()
	if !force {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	data, err := RenderConfig(DefaultConfig(cm.basePath))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(cm.basePath, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", cm.basePath, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// RenderConfig encodes cfg as YAML with durations written the way Viper
// reads them back ("30s", "5m0s").
func RenderConfig(cfg *models.Config) ([]byte, error) {
	doc := map[string]any{
		"source": map[string]any{"path": cfg.Source.Path},
		"store":  map[string]any{"path": cfg.Store.Path},
		"daemon": map[string]any{
			"poll_interval":  cfg.Daemon.PollInterval.String(),
			"stats_interval": cfg.Daemon.StatsInterval.String(),
			"lock_path":      cfg.Daemon.LockPath,
			"watch_fs":       cfg.Daemon.WatchFS,
			"http_addr":      cfg.Daemon.HTTPAddr,
		},
		"notify": map[string]any{
			"enabled":         cfg.Notify.Enabled,
			"command":         cfg.Notify.Command,
			"webhook_url":     cfg.Notify.WebhookURL,
			"max_message":     cfg.Notify.MaxMessage,
			"rate_per_minute": cfg.Notify.RatePerMinute,
		},
		"log": map[string]any{
			"level": cfg.Log.Level,
			"json":  cfg.Log.JSON,
			"file":  cfg.Log.File,
		},
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return data, nil
}

// describeFieldError turns "Config.Daemon.PollInterval" into the YAML key
// "daemon.poll_interval" and names the failed rule.
func describeFieldError(fe validator.FieldError) string {
	parts := strings.Split(fe.Namespace(), ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snakeCase(p)
	}
	key := strings.Join(parts, ".")
	if fe.Param() != "" {
		return fmt.Sprintf("%s must satisfy %s=%s, got %v", key, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s must satisfy %s, got %v", key, fe.Tag(), fe.Value())
}

func snakeCase(s string) string {
	switch s {
	case "HTTPAddr":
		return "http_addr"
	case "WebhookURL":
		return "webhook_url"
	case "WatchFS":
		return "watch_fs"
	case "JSON":
		return "json"
	}
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func expandHome(path, home string) string {
	if home == "" {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
