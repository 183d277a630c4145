package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/valter-silva-au/cronwatch/internal/observability"
	"github.com/valter-silva-au/cronwatch/pkg/models"
)

func TestCollectors_BatchProcessed(t *testing.T) {
	c := NewCollectors()
	c.BatchProcessed(models.IngestionReport{Lines: 5, Inserted: 3, Duplicates: 1, Malformed: 1}, false)
	c.BatchProcessed(models.IngestionReport{Lines: 2, Inserted: 2}, true)

	assert.Equal(t, 7.0, testutil.ToFloat64(c.lines))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.events.WithLabelValues("inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.events.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.events.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.resets))
}

func TestCollectors_NotificationSent(t *testing.T) {
	c := NewCollectors()
	c.NotificationSent(observability.SeverityHigh, nil)
	c.NotificationSent(observability.SeverityMedium, nil)
	c.NotificationSent(observability.SeverityMedium, errors.New("no sink"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.notifications.WithLabelValues("high", "delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.notifications.WithLabelValues("medium", "delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.notifications.WithLabelValues("medium", "failed")))
}

func TestCollectors_TickCompleted(t *testing.T) {
	c := NewCollectors()
	c.TickCompleted("ingest", 20*time.Millisecond, nil)
	c.TickCompleted("ingest", 30*time.Millisecond, errors.New("disk I/O error"))
	c.TickCompleted("stats", time.Millisecond, nil)

	assert.Equal(t, 2, testutil.CollectAndCount(c.tickDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tickErrors.WithLabelValues("ingest")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.tickErrors.WithLabelValues("stats")))
}

func TestCollectors_StatsPublished(t *testing.T) {
	c := NewCollectors()
	avg := 1.0
	failedAt := time.Date(2023, 1, 1, 12, 1, 0, 0, time.UTC)
	c.StatsPublished(observability.Stats{
		Windows: []observability.WindowStats{
			{Window: "24h", TotalRuns: 3, FailedRuns: 1, SuccessRate: 2.0 / 3.0, AvgIntervalMinutes: &avg},
			{Window: "7d", TotalRuns: 1, SuccessRate: 1},
		},
		LastFailure:  &models.CronEvent{Timestamp: failedAt, ExitCode: 1},
		TotalEntries: 4,
	})

	assert.Equal(t, 3.0, testutil.ToFloat64(c.windowRuns.WithLabelValues("24h")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.windowFailures.WithLabelValues("24h")))
	assert.InDelta(t, 0.667, testutil.ToFloat64(c.windowSuccessRate.WithLabelValues("24h")), 0.001)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.windowAvgInterval.WithLabelValues("24h")))
	assert.Equal(t, float64(failedAt.Unix()), testutil.ToFloat64(c.lastFailure))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.totalEntries))

	// The 7d window has a single run, so no interval series exists for it.
	assert.Equal(t, 1, testutil.CollectAndCount(c.windowAvgInterval))

	// A later publish without enough runs removes the stale series.
	c.StatsPublished(observability.Stats{
		Windows: []observability.WindowStats{{Window: "24h"}},
	})
	assert.Equal(t, 0, testutil.CollectAndCount(c.windowAvgInterval))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.lastFailure))
}
