package metrics

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/valter-silva-au/cronwatch/internal/core"
	"github.com/valter-silva-au/cronwatch/internal/observability"
)

const shutdownTimeout = 5 * time.Second

// StatsSource provides the stats served on /stats.
type StatsSource interface {
	Latest() (observability.Stats, bool)
	ComputeStats(ctx context.Context, asOf time.Time) (observability.Stats, error)
}

// ServerOptions configures a Server. Collectors and Stats are required.
type ServerOptions struct {
	Addr       string
	Collectors *Collectors
	Stats      StatsSource
	// Daemon reports the in-process daemon; nil when no daemon runs here.
	Daemon   func() core.DaemonSnapshot
	LockPath string
	Logger   *zap.SugaredLogger
}

// Server is the read-only HTTP surface: /healthz, /status, /stats and
// /metrics.
type Server struct {
	opts   ServerOptions
	logger *zap.SugaredLogger
	router chi.Router
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Lock   core.DaemonStatus    `json:"lock"`
	Daemon *core.DaemonSnapshot `json:"daemon,omitempty"`
}

// NewServer builds the router for opts.
func NewServer(opts ServerOptions) *Server {
	s := &Server{opts: opts, logger: opts.Logger}
	if s.logger == nil {
		s.logger = zap.NewNop().Sugar()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)
	r.Get("/healthz", s.healthz)
	r.Get("/status", s.status)
	r.Get("/stats", s.stats)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Collectors.Registry(), promhttp.HandlerOpts{}))
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on opts.Addr until ctx is done, then shuts down gracefully.
// It has the shape of a core.Sidecar.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", s.opts.Addr)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("Status server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "status server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutting down status server")
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	lock, err := core.ReadDaemonStatus(s.opts.LockPath)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := StatusResponse{Lock: lock}
	if s.opts.Daemon != nil {
		snap := s.opts.Daemon()
		resp.Daemon = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

// stats serves the last published stats, or computes them when the daemon
// has not published yet or ?fresh=true is given.
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	fresh, _ := strconv.ParseBool(r.URL.Query().Get("fresh"))
	if !fresh {
		if latest, ok := s.opts.Stats.Latest(); ok {
			writeJSON(w, http.StatusOK, latest)
			return
		}
	}
	stats, err := s.opts.Stats.ComputeStats(r.Context(), time.Now().UTC())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Errorw("Status request failed", "error", err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// instrument records request counts and latency by chi route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c := s.opts.Collectors
		c.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		c.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
