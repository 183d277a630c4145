package observability

import (
	"strings"
	"testing"
	"unicode/utf8"

	"pgregory.net/rapid"

	"github.com/valter-silva-au/cronwatch/pkg/models"
)

// Property 4: a truncated message is a valid-UTF-8 prefix of the original
// holding at most the limit in characters.
func TestProperty_TruncateIsBoundedPrefix(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "s")
		n := rapid.IntRange(0, 200).Draw(t, "n")

		got := Truncate(s, n)
		if !strings.HasPrefix(s, got) {
			t.Fatalf("Truncate(%q, %d) = %q is not a prefix", s, n, got)
		}
		if c := utf8.RuneCountInString(got); c > n {
			t.Fatalf("Truncate(%q, %d) has %d characters", s, n, c)
		}
		if utf8.RuneCountInString(s) <= n && got != s {
			t.Fatalf("short input must be unchanged: %q -> %q", s, got)
		}
	})
}

// Property 5: every non-zero exit code classifies to exactly one of the
// known severities, and the alert carries the exit code unchanged.
func TestProperty_AlertCarriesExitCode(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		exit := rapid.IntRange(-255, 255).Filter(func(v int) bool { return v != 0 }).Draw(t, "exit")
		alert := NewAlert(models.CronEvent{ExitCode: exit, Message: "job"}, DefaultMaxMessage)

		if alert.ExitCode != exit {
			t.Fatalf("exit code = %d, want %d", alert.ExitCode, exit)
		}
		if alert.Severity != SeverityHigh && alert.Severity != SeverityMedium {
			t.Fatalf("unknown severity %q", alert.Severity)
		}
		if (exit >= 126 || exit < 0) != (alert.Severity == SeverityHigh) {
			t.Fatalf("exit %d classified as %s", exit, alert.Severity)
		}
	})
}
