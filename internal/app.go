// Package internal provides the App struct that wires all components of
// cronwatch together and initializes the CLI layer.
package internal

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/valter-silva-au/cronwatch/internal/cli"
	"github.com/valter-silva-au/cronwatch/internal/core"
	"github.com/valter-silva-au/cronwatch/internal/logging"
	"github.com/valter-silva-au/cronwatch/internal/metrics"
	"github.com/valter-silva-au/cronwatch/internal/observability"
	"github.com/valter-silva-au/cronwatch/internal/storage"
	"github.com/valter-silva-au/cronwatch/pkg/models"
)

// App holds all service dependencies for cronwatch.
type App struct {
	BasePath string

	// Configuration
	ConfigMgr core.ConfigurationManager
	Config    *models.Config
	Logger    *zap.SugaredLogger

	// Storage layer
	Store *storage.Store

	// Ingestion and aggregation
	Tailer     *observability.Tailer
	Notifier   observability.Notifier
	Pipeline   *core.Pipeline
	Aggregator *observability.Aggregator

	// Observability
	Collectors *metrics.Collectors

	Daemon *core.Daemon
}

// NewApp creates and wires all application components. The CLI package
// variables are set as a side effect.
func NewApp(basePath string) (*App, error) {
	ctx := context.Background()
	a := &App{BasePath: basePath}

	a.ConfigMgr = core.NewConfigurationManager(basePath)
	cfg, err := a.ConfigMgr.Load()
	if err != nil {
		return nil, errors.Wrap(err, "loading configuration")
	}
	a.Config = cfg

	a.Logger, err = logging.New(cfg.Log)
	if err != nil {
		return nil, errors.Wrap(err, "creating logger")
	}

	a.Store, err = storage.Open(ctx, cfg.Store.Path, logging.Component(a.Logger, "storage"))
	if err != nil {
		return nil, err
	}

	cursor, err := a.Store.LoadCursor(ctx, cfg.Source.Path)
	if err != nil {
		_ = a.Store.Close()
		return nil, err
	}
	a.Tailer = observability.NewTailer(cfg.Source.Path, cursor)

	a.Notifier = observability.NewNotifier(cfg.Notify, logging.Component(a.Logger, "notifier"))
	a.Collectors = metrics.NewCollectors()

	a.Pipeline = core.NewPipeline(core.PipelineOptions{
		Tailer:     a.Tailer,
		Store:      a.Store,
		Notifier:   a.Notifier,
		MaxMessage: cfg.Notify.MaxMessage,
		Observer:   a.Collectors,
		Logger:     logging.Component(a.Logger, "pipeline"),
	})
	a.Aggregator = observability.NewAggregator(a.Store, a.Store)

	opts := core.DaemonOptions{
		Pipeline:      a.Pipeline,
		Aggregator:    a.Aggregator,
		LockPath:      cfg.Daemon.LockPath,
		PollInterval:  cfg.Daemon.PollInterval,
		StatsInterval: cfg.Daemon.StatsInterval,
		Observer:      a.Collectors,
		Logger:        logging.Component(a.Logger, "daemon"),
	}
	if cfg.Daemon.WatchFS {
		wake := make(chan struct{}, 1)
		opts.Wake = wake
		opts.Sidecars = append(opts.Sidecars, a.watchSidecar(wake))
	}
	if cfg.Daemon.HTTPAddr != "" {
		srv := metrics.NewServer(metrics.ServerOptions{
			Addr:       cfg.Daemon.HTTPAddr,
			Collectors: a.Collectors,
			Stats:      a.Aggregator,
			Daemon:     func() core.DaemonSnapshot { return a.Daemon.Snapshot() },
			LockPath:   cfg.Daemon.LockPath,
			Logger:     logging.Component(a.Logger, "http"),
		})
		opts.Sidecars = append(opts.Sidecars, srv.Serve)
	}
	a.Daemon = core.NewDaemon(opts)

	cli.BasePath = basePath
	cli.ConfigMgr = a.ConfigMgr
	cli.Config = cfg
	cli.Logger = a.Logger
	cli.Pipeline = a.Pipeline
	cli.Stats = a.Aggregator
	cli.Events = a.Store
	cli.Daemon = a.Daemon

	return a, nil
}

// watchSidecar opens the file watcher only while the daemon runs, so
// one-shot commands never hold inotify handles. Change signals are relayed
// to wake. A watcher that cannot start leaves the daemon on interval polling.
func (a *App) watchSidecar(wake chan<- struct{}) core.Sidecar {
	return func(ctx context.Context) error {
		logger := logging.Component(a.Logger, "fswatch")
		w, err := observability.WatchFile(a.Config.Source.Path, logger)
		if err != nil {
			logger.Warnw("File watcher unavailable, falling back to interval polling",
				"path", a.Config.Source.Path, "poll_interval", a.Config.Daemon.PollInterval, "error", err)
			return nil
		}
		defer func() { _ = w.Close() }()

		go w.Run(ctx)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-w.Wake():
				select {
				case wake <- struct{}{}:
				default:
				}
			}
		}
	}
}

// Close releases the store and flushes the logger. It is safe to call Close
// on a partially initialized App.
func (a *App) Close() error {
	var err error
	if a.Store != nil {
		err = a.Store.Close()
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return err
}

// ResolveBasePath determines the cronwatch home directory. It checks the
// CRONWATCH_HOME env var, then falls back to ~/.cronwatch.
func ResolveBasePath() string {
	if home := os.Getenv("CRONWATCH_HOME"); home != "" {
		return home
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cronwatch"
	}
	return filepath.Join(home, ".cronwatch")
}
