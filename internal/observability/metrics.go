package observability

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/valter-silva-au/cronwatch/internal/storage"
	"github.com/valter-silva-au/cronwatch/pkg/models"
)

// Window is a trailing time span ending at the computation instant.
type Window struct {
	Name   string        `json:"name"`
	Length time.Duration `json:"length"`
}

// Standard windows.
var (
	Last24Hours = Window{Name: "24h", Length: 24 * time.Hour}
	Last7Days   = Window{Name: "7d", Length: 7 * 24 * time.Hour}
)

// StandardWindows returns the windows published by default.
func StandardWindows() []Window {
	return []Window{Last24Hours, Last7Days}
}

// ParseWindow accepts "24h", "7d" or any Go duration such as "90m". A
// trailing "d" counts whole days.
func ParseWindow(s string) (Window, error) {
	var days int
	if n, err := fmt.Sscanf(s, "%dd", &days); err == nil && n == 1 && fmt.Sprintf("%dd", days) == s {
		if days <= 0 {
			return Window{}, fmt.Errorf("window %q must be positive", s)
		}
		return Window{Name: s, Length: time.Duration(days) * 24 * time.Hour}, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return Window{}, fmt.Errorf("parsing window %q: %w", s, err)
	}
	if d <= 0 {
		return Window{}, fmt.Errorf("window %q must be positive", s)
	}
	return Window{Name: s, Length: d}, nil
}

// WindowStats holds the metrics computed over one window.
type WindowStats struct {
	Window      string    `json:"window"`
	Since       time.Time `json:"since"`
	Until       time.Time `json:"until"`
	TotalRuns   int       `json:"total_runs"`
	FailedRuns  int       `json:"failed_runs"`
	SuccessRate float64   `json:"success_rate"`

	// AvgIntervalMinutes is nil when the window holds fewer than two runs.
	AvgIntervalMinutes *float64 `json:"avg_interval_minutes,omitempty"`
}

// Stats is the full set of metrics computed at one instant.
type Stats struct {
	AsOf         time.Time         `json:"as_of"`
	Windows      []WindowStats     `json:"windows"`
	LastFailure  *models.CronEvent `json:"last_failure,omitempty"`
	TotalEntries int               `json:"total_entries"`
}

// Window returns the stats for the named window.
func (s Stats) Window(name string) (WindowStats, bool) {
	for _, w := range s.Windows {
		if w.Window == name {
			return w, true
		}
	}
	return WindowStats{}, false
}

// Snapshots flattens s into cacheable metrics. Windowed names carry the
// window as a suffix. Absent values produce no snapshot.
func (s Stats) Snapshots() []models.MetricSnapshot {
	snap := func(name string, v float64) models.MetricSnapshot {
		return models.MetricSnapshot{Name: name, Value: v, ComputedAt: s.AsOf}
	}

	var out []models.MetricSnapshot
	for _, w := range s.Windows {
		suffix := "_" + w.Window
		out = append(out,
			snap(models.MetricTotalRuns+suffix, float64(w.TotalRuns)),
			snap(models.MetricFailedRuns+suffix, float64(w.FailedRuns)),
			snap(models.MetricSuccessRate+suffix, w.SuccessRate),
		)
		if w.AvgIntervalMinutes != nil {
			out = append(out, snap(models.MetricAvgIntervalMinutes+suffix, *w.AvgIntervalMinutes))
		}
	}
	if s.LastFailure != nil {
		out = append(out, snap(models.MetricLastFailureAt, float64(s.LastFailure.Timestamp.Unix())))
	}
	out = append(out, snap(models.MetricTotalEntries, float64(s.TotalEntries)))
	return out
}

// EventStore is the read side of the store the Aggregator needs.
type EventStore interface {
	Query(ctx context.Context, window storage.Window, filter storage.Filter) ([]models.CronEvent, error)
	Count(ctx context.Context) (int, error)
	LastFailure(ctx context.Context) (*models.CronEvent, error)
}

// SnapshotStore receives published snapshots.
type SnapshotStore interface {
	ReplaceSnapshots(ctx context.Context, snapshots []models.MetricSnapshot) error
}

// Aggregator derives statistics from the event store. Every computation
// reads the store afresh; the only state kept is the last published Stats.
type Aggregator struct {
	events    EventStore
	snapshots SnapshotStore
	windows   []Window

	mu     sync.RWMutex
	latest *Stats
}

// NewAggregator creates an Aggregator over events. snapshots may be nil, in
// which case Publish only updates the in-memory copy. With no windows the
// standard windows are used.
func NewAggregator(events EventStore, snapshots SnapshotStore, windows ...Window) *Aggregator {
	if len(windows) == 0 {
		windows = StandardWindows()
	}
	return &Aggregator{events: events, snapshots: snapshots, windows: windows}
}

// Windows returns the windows computed by ComputeStats.
func (a *Aggregator) Windows() []Window {
	return slices.Clone(a.windows)
}

// WindowStats computes the metrics for the events with timestamps in
// [asOf-w.Length, asOf], both ends inclusive.
func (a *Aggregator) WindowStats(ctx context.Context, asOf time.Time, w Window) (WindowStats, error) {
	since := asOf.Add(-w.Length)
	events, err := a.events.Query(ctx, storage.Window{Since: since, Until: asOf}, storage.Filter{})
	if err != nil {
		return WindowStats{}, fmt.Errorf("querying %s window: %w", w.Name, err)
	}
	ws := Summarize(events)
	ws.Window = w.Name
	ws.Since = since.UTC()
	ws.Until = asOf.UTC()
	return ws, nil
}

// ComputeStats computes every configured window plus the unbounded metrics.
func (a *Aggregator) ComputeStats(ctx context.Context, asOf time.Time) (Stats, error) {
	stats := Stats{AsOf: asOf.UTC()}
	for _, w := range a.windows {
		ws, err := a.WindowStats(ctx, asOf, w)
		if err != nil {
			return Stats{}, err
		}
		stats.Windows = append(stats.Windows, ws)
	}

	last, err := a.events.LastFailure(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("finding last failure: %w", err)
	}
	stats.LastFailure = last

	total, err := a.events.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("counting entries: %w", err)
	}
	stats.TotalEntries = total
	return stats, nil
}

// Publish computes stats at asOf, replaces the snapshot cache with them and
// makes them available through Latest.
func (a *Aggregator) Publish(ctx context.Context, asOf time.Time) (Stats, error) {
	stats, err := a.ComputeStats(ctx, asOf)
	if err != nil {
		return Stats{}, err
	}
	if a.snapshots != nil {
		if err := a.snapshots.ReplaceSnapshots(ctx, stats.Snapshots()); err != nil {
			return Stats{}, fmt.Errorf("publishing snapshots: %w", err)
		}
	}

	a.mu.Lock()
	a.latest = &stats
	a.mu.Unlock()
	return stats, nil
}

// Latest returns the most recently published stats.
func (a *Aggregator) Latest() (Stats, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.latest == nil {
		return Stats{}, false
	}
	return *a.latest, true
}

// Summarize computes window metrics over events in any order. Events are
// sorted by timestamp before intervals are measured.
func Summarize(events []models.CronEvent) WindowStats {
	var ws WindowStats
	ws.TotalRuns = len(events)
	for _, e := range events {
		if e.Failed() {
			ws.FailedRuns++
		}
	}
	if ws.TotalRuns > 0 {
		ws.SuccessRate = float64(ws.TotalRuns-ws.FailedRuns) / float64(ws.TotalRuns)
	}

	if len(events) >= 2 {
		times := make([]time.Time, len(events))
		for i, e := range events {
			times[i] = e.Timestamp
		}
		slices.SortFunc(times, func(a, b time.Time) int { return a.Compare(b) })

		var total time.Duration
		for i := 1; i < len(times); i++ {
			total += times[i].Sub(times[i-1])
		}
		avg := total.Minutes() / float64(len(times)-1)
		ws.AvgIntervalMinutes = &avg
	}
	return ws
}
