package cli

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/valter-silva-au/cronwatch/internal/core"
	"github.com/valter-silva-au/cronwatch/internal/observability"
	"github.com/valter-silva-au/cronwatch/internal/storage"
	"github.com/valter-silva-au/cronwatch/pkg/models"
)

// Ingester parses the source log into the store.
type Ingester interface {
	ParseExisting(ctx context.Context, notify bool) (models.IngestionReport, error)
	SourcePath() string
}

// StatsService computes aggregated statistics on demand.
type StatsService interface {
	ComputeStats(ctx context.Context, asOf time.Time) (observability.Stats, error)
	WindowStats(ctx context.Context, asOf time.Time, w observability.Window) (observability.WindowStats, error)
}

// EventReader reads the stored events and the snapshot cache.
type EventReader interface {
	Query(ctx context.Context, window storage.Window, filter storage.Filter) ([]models.CronEvent, error)
	Snapshots(ctx context.Context) ([]models.MetricSnapshot, error)
}

// DaemonRunner runs the polling loop until its context is cancelled.
type DaemonRunner interface {
	Run(ctx context.Context) error
	SetPollInterval(d time.Duration) error
}

// Service instances, set during app initialization in app.go.
var (
	BasePath  string
	ConfigMgr core.ConfigurationManager
	Config    *models.Config
	Logger    *zap.SugaredLogger

	Pipeline Ingester
	Stats    StatsService
	Events   EventReader
	Daemon   DaemonRunner
)
