package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/valter-silva-au/cronwatch/internal/observability"
)

// DaemonState is a step in the daemon lifecycle.
type DaemonState int32

const (
	StateStopped DaemonState = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s DaemonState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Tick kinds reported to the Observer.
const (
	TickIngest = "ingest"
	TickStats  = "stats"
)

// Sidecar is a service that lives as long as the daemon loop, such as the
// HTTP status server or the file watcher. It must return when ctx is done.
type Sidecar func(ctx context.Context) error

// DaemonOptions configures a Daemon. Pipeline, Aggregator, LockPath and both
// intervals are required.
type DaemonOptions struct {
	Pipeline      *Pipeline
	Aggregator    *observability.Aggregator
	LockPath      string
	PollInterval  time.Duration
	StatsInterval time.Duration
	// Wake, when set, triggers an ingestion tick ahead of the poll interval.
	Wake     <-chan struct{}
	Sidecars []Sidecar
	Observer Observer
	Logger   *zap.SugaredLogger
}

// Daemon owns the polling loop. It runs ingestion on the poll interval and
// publishes stats on the stats interval, one tick at a time, while holding
// the exclusive daemon lock.
type Daemon struct {
	opts     DaemonOptions
	observer Observer
	logger   *zap.SugaredLogger

	state atomic.Int32

	mu        sync.RWMutex
	startedAt time.Time
	lastTick  time.Time
	lastErr   error
	totals    TickTotals
}

// TickTotals accumulates ingestion results since the daemon started.
type TickTotals struct {
	Ticks      int `json:"ticks"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Malformed  int `json:"malformed"`
	Notified   int `json:"notified"`
	Failures   int `json:"failures"`
}

// NewDaemon creates a stopped Daemon.
func NewDaemon(opts DaemonOptions) *Daemon {
	d := &Daemon{opts: opts, observer: opts.Observer, logger: opts.Logger}
	if d.observer == nil {
		d.observer = nopObserver{}
	}
	if d.logger == nil {
		d.logger = zap.NewNop().Sugar()
	}
	return d
}

// SetPollInterval overrides the configured poll interval. It is only valid
// while the daemon is stopped.
func (d *Daemon) SetPollInterval(interval time.Duration) error {
	if interval <= 0 {
		return errors.Newf("poll interval must be positive, got %s", interval)
	}
	if !d.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return errors.Newf("cannot change poll interval while daemon is %s", d.State())
	}
	d.opts.PollInterval = interval
	d.state.Store(int32(StateStopped))
	return nil
}

// State returns the current lifecycle state.
func (d *Daemon) State() DaemonState {
	return DaemonState(d.state.Load())
}

// DaemonSnapshot is the in-process view of a running daemon.
type DaemonSnapshot struct {
	State     string     `json:"state"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	LastTick  *time.Time `json:"last_tick,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Totals    TickTotals `json:"totals"`
}

// Snapshot returns the daemon's state and counters.
func (d *Daemon) Snapshot() DaemonSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	snap := DaemonSnapshot{State: d.State().String(), Totals: d.totals}
	if !d.startedAt.IsZero() {
		t := d.startedAt
		snap.StartedAt = &t
	}
	if !d.lastTick.IsZero() {
		t := d.lastTick
		snap.LastTick = &t
	}
	if d.lastErr != nil {
		snap.LastError = d.lastErr.Error()
	}
	return snap
}

// Run acquires the daemon lock and loops until ctx is cancelled. A second
// daemon fails immediately with an error matching ErrAlreadyRunning. On
// cancellation the tick in progress runs to completion before the lock is
// released. Per-tick failures are logged and retried on the next tick.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return errors.Newf("daemon is %s", d.State())
	}
	defer d.state.Store(int32(StateStopped))

	lock, err := AcquireDaemonLock(d.opts.LockPath)
	if err != nil {
		d.logger.Errorw("Cannot start daemon", "lock", d.opts.LockPath, "error", err)
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			d.logger.Warnw("Failed to release daemon lock", "lock", d.opts.LockPath, "error", err)
		}
	}()

	d.mu.Lock()
	d.startedAt = time.Now().UTC()
	d.mu.Unlock()
	d.state.Store(int32(StateRunning))
	d.logger.Infow("Daemon started",
		"source", d.opts.Pipeline.SourcePath(),
		"poll_interval", d.opts.PollInterval,
		"stats_interval", d.opts.StatsInterval)

	g, gctx := errgroup.WithContext(ctx)
	stopReporting := context.AfterFunc(gctx, func() {
		d.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	})
	defer stopReporting()
	for _, sidecar := range d.opts.Sidecars {
		g.Go(func() error { return sidecar(gctx) })
	}
	g.Go(func() error {
		d.loop(gctx)
		return nil
	})

	err = g.Wait()
	d.logger.Infow("Daemon stopped")
	return err
}

func (d *Daemon) loop(ctx context.Context) {
	// Ticks must not be interrupted mid-batch by shutdown. Alert pacing is
	// the exception: it stops as soon as shutdown is requested.
	tickCtx := observability.StopPacingOn(context.WithoutCancel(ctx), ctx.Done())

	if ctx.Err() == nil {
		d.ingest(tickCtx)
		d.publish(tickCtx)
	}

	poll := time.NewTicker(d.opts.PollInterval)
	defer poll.Stop()
	stats := time.NewTicker(d.opts.StatsInterval)
	defer stats.Stop()

	for {
		// select picks randomly among ready cases; shutdown wins.
		if ctx.Err() != nil {
			d.state.Store(int32(StateStopping))
			d.logger.Infow("Shutdown requested, stopping daemon")
			return
		}
		select {
		case <-ctx.Done():
		case <-poll.C:
			if ctx.Err() == nil {
				d.ingest(tickCtx)
			}
		case <-d.opts.Wake:
			if ctx.Err() == nil {
				d.ingest(tickCtx)
			}
		case <-stats.C:
			if ctx.Err() == nil {
				d.publish(tickCtx)
			}
		}
	}
}

func (d *Daemon) ingest(ctx context.Context) {
	id := uuid.NewString()
	start := time.Now()
	report, err := d.opts.Pipeline.RunOnce(ctx)
	elapsed := time.Since(start)
	d.observer.TickCompleted(TickIngest, elapsed, err)

	d.mu.Lock()
	d.lastTick = time.Now().UTC()
	d.lastErr = err
	d.totals.Ticks++
	d.totals.Inserted += report.Inserted
	d.totals.Duplicates += report.Duplicates
	d.totals.Malformed += report.Malformed
	d.totals.Notified += report.Notified
	if err != nil {
		d.totals.Failures++
	}
	d.mu.Unlock()

	if err != nil {
		d.logger.Errorw("Ingestion tick failed, will retry", "tick", id, "error", err)
		return
	}
	d.logger.Debugw("Ingestion tick", "tick", id, "inserted", report.Inserted, "elapsed", elapsed)
}

func (d *Daemon) publish(ctx context.Context) {
	id := uuid.NewString()
	start := time.Now()
	stats, err := d.opts.Aggregator.Publish(ctx, time.Now().UTC())
	d.observer.TickCompleted(TickStats, time.Since(start), err)
	if err != nil {
		d.mu.Lock()
		d.lastErr = err
		d.totals.Failures++
		d.mu.Unlock()
		d.logger.Errorw("Stats tick failed, will retry", "tick", id, "error", err)
		return
	}
	d.observer.StatsPublished(stats)
	d.logger.Debugw("Stats published", "tick", id, "total_entries", stats.TotalEntries)
}
