package models

import "time"

// Metric names published to the snapshot cache. Windowed metrics are
// suffixed with the window name, e.g. "success_rate_24h".
const (
	MetricTotalRuns          = "total_runs"
	MetricFailedRuns         = "failed_runs"
	MetricSuccessRate        = "success_rate"
	MetricAvgIntervalMinutes = "avg_interval_minutes"
	MetricLastFailureAt      = "last_failure_at"
	MetricTotalEntries       = "total_entries"
)

// MetricSnapshot is one cached aggregate value.
type MetricSnapshot struct {
	Name       string    `json:"name"`
	Value      float64   `json:"value"`
	ComputedAt time.Time `json:"computed_at"`
}
