package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/valter-silva-au/cronwatch/pkg/models"
)

// ErrSinkUnavailable is returned when the delivery mechanism for an alert is
// not present on this host, e.g. terminal-notifier is not installed.
var ErrSinkUnavailable = errors.New("notification sink unavailable")

// Notifier delivers failure alerts. Implementations return an error when
// delivery fails; callers log it and carry on.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, alert Alert) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, alert Alert) error {
	return f(ctx, alert)
}

// Desktop notification commands.
const (
	CommandAuto             = "auto"
	CommandTerminalNotifier = "terminal-notifier"
	CommandNotifySend       = "notify-send"
	CommandNone             = "none"
)

// DefaultCommandTimeout bounds one run of the desktop notification command.
const DefaultCommandTimeout = 10 * time.Second

// CommandNotifier raises a desktop notification by running
// terminal-notifier (macOS) or notify-send (Linux).
type CommandNotifier struct {
	command  string
	timeout  time.Duration
	lookPath func(file string) (string, error)
	run      func(ctx context.Context, path string, args ...string) error
}

// NewCommandNotifier creates a CommandNotifier for the given command name.
// CommandAuto picks terminal-notifier on macOS and notify-send elsewhere.
// The binary is looked up on every call, so installing it later takes
// effect without a restart.
func NewCommandNotifier(command string) *CommandNotifier {
	return &CommandNotifier{
		command:  command,
		timeout:  DefaultCommandTimeout,
		lookPath: exec.LookPath,
		run:      runCommand,
	}
}

// Notify runs the notification command for alert. It returns an error
// wrapping ErrSinkUnavailable if the command is not installed.
func (n *CommandNotifier) Notify(ctx context.Context, alert Alert) error {
	name := n.command
	if name == "" || name == CommandAuto {
		name = defaultCommand(runtime.GOOS)
	}

	path, err := n.lookPath(name)
	if err != nil {
		return errors.Wrapf(ErrSinkUnavailable, "%s not found in PATH", name)
	}

	var args []string
	switch name {
	case CommandTerminalNotifier:
		args = []string{
			"-title", alert.Title,
			"-message", alert.Body(),
			"-sound", alertSound(alert.Severity),
			"-group", "cronwatch",
		}
	case CommandNotifySend:
		args = []string{
			"-u", alertUrgency(alert.Severity),
			"-a", "cronwatch",
			alert.Title,
			alert.Body(),
		}
	default:
		return errors.Newf("unsupported notification command %q", name)
	}

	runCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.run(runCtx, path, args...); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return errors.Wrapf(err, "%s timed out after %s", name, n.timeout)
		}
		return errors.Wrapf(err, "running %s", name)
	}
	return nil
}

func defaultCommand(goos string) string {
	if goos == "darwin" {
		return CommandTerminalNotifier
	}
	return CommandNotifySend
}

func alertSound(severity AlertSeverity) string {
	if severity == SeverityHigh {
		return "Sosumi"
	}
	return "Basso"
}

func alertUrgency(severity AlertSeverity) string {
	if severity == SeverityHigh {
		return "critical"
	}
	return "normal"
}

func runCommand(ctx context.Context, path string, args ...string) error {
	cmd := exec.CommandContext(ctx, path, args...)
	// A killed notifier may leave children holding the output pipe.
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// webhookNotifier posts alerts to a Slack-compatible incoming webhook.
type webhookNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewWebhookNotifier creates a Notifier that posts alerts to the given
// Slack-compatible webhook URL.
func NewWebhookNotifier(webhookURL string) Notifier {
	return &webhookNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Notify posts alert to the webhook.
func (w *webhookNotifier) Notify(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(buildSlackMessage(alert))
	if err != nil {
		return fmt.Errorf("marshaling webhook message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func buildSlackMessage(alert Alert) slackMessage {
	text := fmt.Sprintf("%s *[%s]* %s\n_%s_",
		severityEmoji(alert.Severity),
		strings.ToUpper(string(alert.Severity)),
		alert.Body(),
		alert.Timestamp.UTC().Format("2006-01-02 15:04 UTC"),
	)
	return slackMessage{
		Text: alert.Title + ": " + alert.Body(),
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: alert.Title}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: text}},
		},
	}
}

func severityEmoji(severity AlertSeverity) string {
	switch severity {
	case SeverityHigh:
		return "\U0001f534"
	case SeverityMedium:
		return "\U0001f7e1"
	default:
		return "❓"
	}
}

// logNotifier writes alerts to the structured log. It never fails.
type logNotifier struct {
	logger *zap.SugaredLogger
}

// NewLogNotifier creates a Notifier that records every alert as a warning.
func NewLogNotifier(logger *zap.SugaredLogger) Notifier {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &logNotifier{logger: logger}
}

func (l *logNotifier) Notify(_ context.Context, alert Alert) error {
	l.logger.Warnw(alert.Title,
		"exit_code", alert.ExitCode,
		"message", alert.Message,
		"severity", alert.Severity,
		"timestamp", alert.Timestamp,
	)
	return nil
}

// MultiNotifier delivers each alert to every wrapped notifier. One failing
// sink does not stop delivery to the others; their errors are combined.
type MultiNotifier []Notifier

// Notify fans alert out to every notifier in m.
func (m MultiNotifier) Notify(ctx context.Context, alert Alert) error {
	var combined error
	for _, n := range m {
		if err := n.Notify(ctx, alert); err != nil {
			combined = errors.CombineErrors(combined, err)
		}
	}
	return combined
}

// rateLimitedNotifier paces delivery. Alerts beyond the rate wait for a
// token; none are dropped.
type rateLimitedNotifier struct {
	next    Notifier
	limiter *rate.Limiter
}

// NewRateLimitedNotifier wraps next so that at most perMinute alerts are
// delivered per minute after an initial burst of perMinute. A non-positive
// perMinute disables pacing and returns next unchanged.
func NewRateLimitedNotifier(next Notifier, perMinute int) Notifier {
	if perMinute <= 0 {
		return next
	}
	return &rateLimitedNotifier{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

// Notify waits for a delivery slot, then delivers. The wait ends early when
// the pacing stop channel attached with StopPacingOn is closed; the alert is
// then delivered at once.
func (r *rateLimitedNotifier) Notify(ctx context.Context, alert Alert) error {
	res := r.limiter.Reserve()
	if delay := res.Delay(); delay > 0 {
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
			res.Cancel()
			return errors.Wrap(context.DeadlineExceeded, "waiting for notification slot")
		}
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-pacingStop(ctx):
		case <-ctx.Done():
			res.Cancel()
			return errors.Wrap(ctx.Err(), "waiting for notification slot")
		}
	}
	return r.next.Notify(ctx, alert)
}

type pacingStopKey struct{}

// StopPacingOn returns a copy of ctx under which rate-limited notifiers stop
// waiting for a slot once stop is closed. The daemon attaches its shutdown
// signal.
func StopPacingOn(ctx context.Context, stop <-chan struct{}) context.Context {
	return context.WithValue(ctx, pacingStopKey{}, stop)
}

// pacingStop returns the stop channel attached to ctx, or nil, which never
// fires.
func pacingStop(ctx context.Context) <-chan struct{} {
	stop, _ := ctx.Value(pacingStopKey{}).(<-chan struct{})
	return stop
}

// NewNotifier assembles the notifier described by cfg. Alerts are always
// logged; desktop and webhook delivery are added when configured. A
// disabled config still logs.
func NewNotifier(cfg models.NotifyConfig, logger *zap.SugaredLogger) Notifier {
	sinks := MultiNotifier{NewLogNotifier(logger)}
	if !cfg.Enabled {
		return sinks
	}
	if cfg.Command != CommandNone {
		sinks = append(sinks, NewCommandNotifier(cfg.Command))
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, NewWebhookNotifier(cfg.WebhookURL))
	}
	return NewRateLimitedNotifier(sinks, cfg.RatePerMinute)
}
