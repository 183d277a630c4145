package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valter-silva-au/cronwatch/internal/core"
	"github.com/valter-silva-au/cronwatch/internal/observability"
)

type fakeStats struct {
	latest   *observability.Stats
	computed observability.Stats
	err      error
	computes int
}

func (f *fakeStats) Latest() (observability.Stats, bool) {
	if f.latest == nil {
		return observability.Stats{}, false
	}
	return *f.latest, true
}

func (f *fakeStats) ComputeStats(_ context.Context, asOf time.Time) (observability.Stats, error) {
	f.computes++
	if f.err != nil {
		return observability.Stats{}, f.err
	}
	s := f.computed
	s.AsOf = asOf
	return s, nil
}

func newTestServer(t *testing.T, stats *fakeStats, daemon func() core.DaemonSnapshot) (*Server, *Collectors) {
	t.Helper()
	c := NewCollectors()
	return NewServer(ServerOptions{
		Collectors: c,
		Stats:      stats,
		Daemon:     daemon,
		LockPath:   filepath.Join(t.TempDir(), "cronwatch.pid"),
	}), c
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestServer_Healthz(t *testing.T) {
	s, _ := newTestServer(t, &fakeStats{}, nil)
	rec := get(t, s.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestServer_StatsPrefersLatest(t *testing.T) {
	stats := &fakeStats{latest: &observability.Stats{TotalEntries: 7}}
	s, _ := newTestServer(t, stats, nil)

	rec := get(t, s.Handler(), "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var got observability.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 7, got.TotalEntries)
	assert.Zero(t, stats.computes)

	rec = get(t, s.Handler(), "/stats?fresh=true")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, stats.computes)
}

func TestServer_StatsComputesBeforeFirstPublish(t *testing.T) {
	stats := &fakeStats{computed: observability.Stats{TotalEntries: 3}}
	s, _ := newTestServer(t, stats, nil)

	rec := get(t, s.Handler(), "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var got observability.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 3, got.TotalEntries)
	assert.False(t, got.AsOf.IsZero())
}

func TestServer_StatsError(t *testing.T) {
	s, _ := newTestServer(t, &fakeStats{err: errors.New("database is locked")}, nil)
	rec := get(t, s.Handler(), "/stats")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "database is locked")
}

func TestServer_Status(t *testing.T) {
	snap := core.DaemonSnapshot{State: "running", Totals: core.TickTotals{Ticks: 4, Inserted: 2}}
	s, _ := newTestServer(t, &fakeStats{}, func() core.DaemonSnapshot { return snap })

	rec := get(t, s.Handler(), "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var got StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.False(t, got.Lock.Running)
	require.NotNil(t, got.Daemon)
	assert.Equal(t, "running", got.Daemon.State)
	assert.Equal(t, 4, got.Daemon.Totals.Ticks)
}

func TestServer_MetricsExposesCollectorsAndCountsRequests(t *testing.T) {
	s, c := newTestServer(t, &fakeStats{}, nil)
	c.TickCompleted(core.TickIngest, time.Millisecond, nil)
	get(t, s.Handler(), "/healthz")

	rec := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "cronwatch_tick_duration_seconds")
	assert.Contains(t, body, `cronwatch_http_requests_total{method="GET",path="/healthz",status="200"} 1`)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "/healthz", "200")))
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	s, _ := newTestServer(t, &fakeStats{}, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK && strings.TrimSpace(string(body)) == "ok"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_ServeReportsListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	c := NewCollectors()
	s := NewServer(ServerOptions{Addr: ln.Addr().String(), Collectors: c, Stats: &fakeStats{}})
	err = s.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on")
}
