// Package mcp provides an MCP (Model Context Protocol) server that exposes
// cronwatch's stats, daemon status and recent failures as MCP tools.
package mcp

import (
	"context"
	"fmt"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/valter-silva-au/cronwatch/internal/core"
	"github.com/valter-silva-au/cronwatch/internal/observability"
	"github.com/valter-silva-au/cronwatch/internal/storage"
	"github.com/valter-silva-au/cronwatch/pkg/models"
)

const defaultFailureLimit = 20

// StatsReader computes aggregated statistics.
type StatsReader interface {
	ComputeStats(ctx context.Context, asOf time.Time) (observability.Stats, error)
	WindowStats(ctx context.Context, asOf time.Time, w observability.Window) (observability.WindowStats, error)
}

// EventReader lists stored events.
type EventReader interface {
	Query(ctx context.Context, window storage.Window, filter storage.Filter) ([]models.CronEvent, error)
}

// Server wraps cronwatch services and exposes them as MCP tools.
type Server struct {
	server   *gomcp.Server
	stats    StatsReader
	events   EventReader
	lockPath string
	now      func() time.Time
}

// NewServer creates a new MCP server over the given services.
func NewServer(stats StatsReader, events EventReader, lockPath, version string) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{
		stats:    stats,
		events:   events,
		lockPath: lockPath,
		now:      func() time.Time { return time.Now().UTC() },
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "cronwatch", Version: version},
		nil,
	)

	s.registerTools()

	return s
}

// Run serves MCP over stdio, blocking until the client disconnects or the
// context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type getStatsInput struct {
	Window string `json:"window,omitempty" jsonschema:"restrict to one trailing window (e.g. 24h, 7d, 90m). Defaults to the standard 24h and 7d windows."`
}

type windowOutput struct {
	Window             string   `json:"window"`
	Since              string   `json:"since"`
	Until              string   `json:"until"`
	TotalRuns          int      `json:"total_runs"`
	FailedRuns         int      `json:"failed_runs"`
	SuccessRate        float64  `json:"success_rate"`
	AvgIntervalMinutes *float64 `json:"avg_interval_minutes,omitempty"`
}

type eventOutput struct {
	Timestamp  string `json:"timestamp"`
	ExitCode   int    `json:"exit_code"`
	Message    string `json:"message"`
	IngestedAt string `json:"ingested_at,omitempty"`
}

type statsOutput struct {
	AsOf         string         `json:"as_of"`
	Windows      []windowOutput `json:"windows"`
	LastFailure  *eventOutput   `json:"last_failure,omitempty"`
	TotalEntries int            `json:"total_entries"`
}

type getStatusInput struct{}

type statusOutput struct {
	Running       bool   `json:"running"`
	PID           int    `json:"pid,omitempty"`
	LockPath      string `json:"lock_path"`
	Started       string `json:"started,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds,omitempty"`
	RSSBytes      uint64 `json:"rss_bytes,omitempty"`
	Stale         bool   `json:"stale,omitempty"`
}

type listFailuresInput struct {
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of failures to return, newest first. Defaults to 20."`
	Since string `json:"since,omitempty" jsonschema:"only failures within this trailing window (e.g. 24h, 7d)"`
}

type listFailuresOutput struct {
	Failures []eventOutput `json:"failures"`
	Count    int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_stats",
		Description: "Get cron run statistics: runs, failures, success rate and average interval per window, plus the last failure and total stored entries.",
	}, s.handleGetStats)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_status",
		Description: "Report whether the cronwatch daemon is running, with its PID, uptime and memory use.",
	}, s.handleGetStatus)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_failures",
		Description: "List the most recent failed cron runs, newest first.",
	}, s.handleListFailures)
}

// --- Tool handlers ---

func (s *Server) handleGetStats(ctx context.Context, _ *gomcp.CallToolRequest, input getStatsInput) (*gomcp.CallToolResult, statsOutput, error) {
	asOf := s.now()

	stats, err := s.stats.ComputeStats(ctx, asOf)
	if err != nil {
		return errorResult(fmt.Sprintf("computing stats: %s", err)), statsOutput{}, nil
	}

	if input.Window != "" {
		w, err := observability.ParseWindow(input.Window)
		if err != nil {
			return errorResult(err.Error()), statsOutput{}, nil
		}
		ws, err := s.stats.WindowStats(ctx, asOf, w)
		if err != nil {
			return errorResult(fmt.Sprintf("computing %s window: %s", w.Name, err)), statsOutput{}, nil
		}
		stats.Windows = []observability.WindowStats{ws}
	}

	return nil, statsToOutput(stats), nil
}

func (s *Server) handleGetStatus(_ context.Context, _ *gomcp.CallToolRequest, _ getStatusInput) (*gomcp.CallToolResult, statusOutput, error) {
	status, err := core.ReadDaemonStatus(s.lockPath)
	if err != nil {
		return errorResult(fmt.Sprintf("reading daemon status: %s", err)), statusOutput{}, nil
	}

	out := statusOutput{
		Running:       status.Running,
		PID:           status.PID,
		LockPath:      status.LockPath,
		UptimeSeconds: int64(status.Uptime / time.Second),
		RSSBytes:      status.RSSBytes,
		Stale:         status.Stale,
	}
	if status.Started != nil {
		out.Started = status.Started.UTC().Format(time.RFC3339)
	}
	return nil, out, nil
}

func (s *Server) handleListFailures(ctx context.Context, _ *gomcp.CallToolRequest, input listFailuresInput) (*gomcp.CallToolResult, listFailuresOutput, error) {
	if input.Limit < 0 {
		return errorResult("limit must not be negative"), listFailuresOutput{}, nil
	}
	limit := input.Limit
	if limit == 0 {
		limit = defaultFailureLimit
	}

	var window storage.Window
	if input.Since != "" {
		w, err := observability.ParseWindow(input.Since)
		if err != nil {
			return errorResult(err.Error()), listFailuresOutput{}, nil
		}
		now := s.now()
		window = storage.Window{Since: now.Add(-w.Length), Until: now}
	}

	events, err := s.events.Query(ctx, window, storage.Filter{
		Outcome:    storage.OnlyFailures,
		Limit:      limit,
		Descending: true,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("listing failures: %s", err)), listFailuresOutput{}, nil
	}

	out := listFailuresOutput{
		Failures: make([]eventOutput, len(events)),
		Count:    len(events),
	}
	for i, e := range events {
		out.Failures[i] = eventToOutput(e)
	}
	return nil, out, nil
}

// --- Helpers ---

func statsToOutput(stats observability.Stats) statsOutput {
	out := statsOutput{
		AsOf:         stats.AsOf.Format(time.RFC3339),
		Windows:      make([]windowOutput, len(stats.Windows)),
		TotalEntries: stats.TotalEntries,
	}
	for i, w := range stats.Windows {
		out.Windows[i] = windowOutput{
			Window:             w.Window,
			Since:              w.Since.Format(time.RFC3339),
			Until:              w.Until.Format(time.RFC3339),
			TotalRuns:          w.TotalRuns,
			FailedRuns:         w.FailedRuns,
			SuccessRate:        w.SuccessRate,
			AvgIntervalMinutes: w.AvgIntervalMinutes,
		}
	}
	if stats.LastFailure != nil {
		e := eventToOutput(*stats.LastFailure)
		out.LastFailure = &e
	}
	return out
}

func eventToOutput(e models.CronEvent) eventOutput {
	out := eventOutput{
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		ExitCode:  e.ExitCode,
		Message:   e.Message,
	}
	if !e.IngestedAt.IsZero() {
		out.IngestedAt = e.IngestedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}
