package models

import "time"

// Config holds every setting cronwatch reads from config.yaml via Viper.
type Config struct {
	Source SourceConfig `yaml:"source" mapstructure:"source"`
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Daemon DaemonConfig `yaml:"daemon" mapstructure:"daemon"`
	Notify NotifyConfig `yaml:"notify" mapstructure:"notify"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// SourceConfig locates the newline-delimited JSON log written by cron jobs.
type SourceConfig struct {
	Path string `yaml:"path" mapstructure:"path" validate:"required"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path" validate:"required"`
}

// DaemonConfig controls the polling loop.
type DaemonConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval" mapstructure:"poll_interval" validate:"gt=0"`
	StatsInterval time.Duration `yaml:"stats_interval" mapstructure:"stats_interval" validate:"gt=0"`
	LockPath      string        `yaml:"lock_path" mapstructure:"lock_path" validate:"required"`
	WatchFS       bool          `yaml:"watch_fs" mapstructure:"watch_fs"`
	HTTPAddr      string        `yaml:"http_addr,omitempty" mapstructure:"http_addr" validate:"omitempty,hostname_port"`
}

// NotifyConfig selects how failure alerts are delivered.
type NotifyConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	Command       string `yaml:"command" mapstructure:"command" validate:"oneof=auto terminal-notifier notify-send none"`
	WebhookURL    string `yaml:"webhook_url,omitempty" mapstructure:"webhook_url" validate:"omitempty,url"`
	MaxMessage    int    `yaml:"max_message" mapstructure:"max_message" validate:"gt=0"`
	RatePerMinute int    `yaml:"rate_per_minute" mapstructure:"rate_per_minute" validate:"gte=0"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json" mapstructure:"json"`
	File  string `yaml:"file,omitempty" mapstructure:"file"`
}
