package observability

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/valter-silva-au/cronwatch/pkg/models"
)

// AlertSeverity represents the urgency of a failure alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
)

// DefaultMaxMessage bounds the job message carried by an alert.
const DefaultMaxMessage = 100

const alertTitle = "Cron Job Failed"

// Alert is what a Notifier delivers for one failed run.
type Alert struct {
	Title     string        `json:"title"`
	ExitCode  int           `json:"exit_code"`
	Message   string        `json:"message"`
	Severity  AlertSeverity `json:"severity"`
	Timestamp time.Time     `json:"timestamp"`
}

// ClassifySeverity maps an exit code to an alert severity. Codes 126 and
// above mean the command could not run or was killed by a signal, as do
// negative codes reported by some supervisors.
func ClassifySeverity(exitCode int) AlertSeverity {
	if exitCode >= 126 || exitCode < 0 {
		return SeverityHigh
	}
	return SeverityMedium
}

// NewAlert builds the alert for a failed event, truncating its message to
// maxMessage characters. A non-positive maxMessage uses DefaultMaxMessage.
func NewAlert(event models.CronEvent, maxMessage int) Alert {
	if maxMessage <= 0 {
		maxMessage = DefaultMaxMessage
	}
	return Alert{
		Title:     alertTitle,
		ExitCode:  event.ExitCode,
		Message:   Truncate(event.Message, maxMessage),
		Severity:  ClassifySeverity(event.ExitCode),
		Timestamp: event.Timestamp,
	}
}

// Body is the single line shown under the alert title.
func (a Alert) Body() string {
	if a.Message == "" {
		return fmt.Sprintf("Exit code %d", a.ExitCode)
	}
	return fmt.Sprintf("Exit code %d: %s", a.ExitCode, a.Message)
}

// Truncate shortens s to at most n characters without splitting a rune.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
