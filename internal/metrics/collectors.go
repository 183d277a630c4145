// Package metrics exposes cronwatch's ingestion and aggregation state as
// Prometheus collectors and serves them, together with JSON status
// endpoints, over HTTP.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/valter-silva-au/cronwatch/internal/core"
	"github.com/valter-silva-au/cronwatch/internal/observability"
	"github.com/valter-silva-au/cronwatch/pkg/models"
)

const namespace = "cronwatch"

// Collectors holds every cronwatch metric on a private registry. It
// implements core.Observer.
type Collectors struct {
	registry *prometheus.Registry

	lines         prometheus.Counter
	events        *prometheus.CounterVec
	resets        prometheus.Counter
	notifications *prometheus.CounterVec
	tickDuration  *prometheus.HistogramVec
	tickErrors    *prometheus.CounterVec

	windowRuns        *prometheus.GaugeVec
	windowFailures    *prometheus.GaugeVec
	windowSuccessRate *prometheus.GaugeVec
	windowAvgInterval *prometheus.GaugeVec
	lastFailure       prometheus.Gauge
	totalEntries      prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var _ core.Observer = (*Collectors)(nil)

// NewCollectors registers the cronwatch metrics, plus the Go runtime and
// process collectors, on a new registry.
func NewCollectors() *Collectors {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collectors{
		registry: reg,
		lines: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_read_total",
			Help:      "Complete lines read from the source log.",
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_total",
			Help:      "Parsed log lines by ingestion result.",
		}, []string{"result"}),
		resets: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tail_resets_total",
			Help:      "Times the source log was found truncated or rotated.",
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Failure alerts by severity and delivery result.",
		}, []string{"severity", "result"}),
		tickDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of daemon ticks.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		tickErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_errors_total",
			Help:      "Daemon ticks that failed and will be retried.",
		}, []string{"kind"}),
		windowRuns: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_runs",
			Help:      "Runs with a timestamp inside the window.",
		}, []string{"window"}),
		windowFailures: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_failed_runs",
			Help:      "Failed runs inside the window.",
		}, []string{"window"}),
		windowSuccessRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_success_ratio",
			Help:      "Successful runs divided by runs inside the window; 0 when empty.",
		}, []string{"window"}),
		windowAvgInterval: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_avg_interval_minutes",
			Help:      "Mean minutes between consecutive runs; absent below two runs.",
		}, []string{"window"}),
		lastFailure: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_failure_timestamp_seconds",
			Help:      "Unix time of the most recent failed run; 0 when none.",
		}),
		totalEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stored_entries",
			Help:      "Entries held in the event store.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served by the status server.",
		}, []string{"method", "path", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Registry returns the registry the collectors are registered on.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// BatchProcessed records one pipeline batch.
func (c *Collectors) BatchProcessed(report models.IngestionReport, reset bool) {
	c.lines.Add(float64(report.Lines))
	c.events.WithLabelValues(string(models.Inserted)).Add(float64(report.Inserted))
	c.events.WithLabelValues(string(models.Duplicate)).Add(float64(report.Duplicates))
	c.events.WithLabelValues("malformed").Add(float64(report.Malformed))
	if reset {
		c.resets.Inc()
	}
}

// NotificationSent records one alert delivery attempt.
func (c *Collectors) NotificationSent(severity observability.AlertSeverity, err error) {
	result := "delivered"
	if err != nil {
		result = "failed"
	}
	c.notifications.WithLabelValues(string(severity), result).Inc()
}

// TickCompleted records the duration and outcome of a daemon tick.
func (c *Collectors) TickCompleted(kind string, elapsed time.Duration, err error) {
	c.tickDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	if err != nil {
		c.tickErrors.WithLabelValues(kind).Inc()
	}
}

// StatsPublished mirrors freshly published stats into the window gauges.
func (c *Collectors) StatsPublished(stats observability.Stats) {
	for _, w := range stats.Windows {
		c.windowRuns.WithLabelValues(w.Window).Set(float64(w.TotalRuns))
		c.windowFailures.WithLabelValues(w.Window).Set(float64(w.FailedRuns))
		c.windowSuccessRate.WithLabelValues(w.Window).Set(w.SuccessRate)
		if w.AvgIntervalMinutes != nil {
			c.windowAvgInterval.WithLabelValues(w.Window).Set(*w.AvgIntervalMinutes)
		} else {
			c.windowAvgInterval.DeleteLabelValues(w.Window)
		}
	}
	if stats.LastFailure != nil {
		c.lastFailure.Set(float64(stats.LastFailure.Timestamp.Unix()))
	} else {
		c.lastFailure.Set(0)
	}
	c.totalEntries.Set(float64(stats.TotalEntries))
}
