package observability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/valter-silva-au/cronwatch/pkg/models"
)

// ErrBlankLine is returned by Parse for empty or whitespace-only lines.
// Callers skip these without counting them as malformed.
var ErrBlankLine = errors.New("blank line")

// MalformedLineError reports a non-blank line that is not a valid ladder
// entry. Line holds the raw text for diagnostics.
type MalformedLineError struct {
	Line   string
	Reason string
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("malformed line: %s", e.Reason)
}

// ladderEntry is the wire shape of one log line. Fields are kept raw so that
// missing, null and wrong-typed values can be told apart.
type ladderEntry struct {
	TS   json.RawMessage `json:"ts"`
	Exit json.RawMessage `json:"exit"`
	Msg  json.RawMessage `json:"msg"`
}

// Parse decodes one raw log line into a CronEvent. It returns ErrBlankLine
// for blank input and a *MalformedLineError for anything else that cannot be
// decoded. The returned timestamp is normalized to UTC.
func Parse(line string) (models.CronEvent, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return models.CronEvent{}, ErrBlankLine
	}

	malformed := func(reason string) (models.CronEvent, error) {
		return models.CronEvent{}, &MalformedLineError{Line: line, Reason: reason}
	}

	var entry ladderEntry
	if err := json.Unmarshal([]byte(trimmed), &entry); err != nil {
		return malformed("invalid JSON: " + err.Error())
	}

	if !present(entry.TS) {
		return malformed("missing field ts")
	}
	var ts string
	if err := json.Unmarshal(entry.TS, &ts); err != nil {
		return malformed("field ts must be a string")
	}
	timestamp, err := ParseTimestamp(ts)
	if err != nil {
		return malformed(fmt.Sprintf("field ts %q is not an ISO-8601 timestamp", ts))
	}

	if !present(entry.Exit) {
		return malformed("missing field exit")
	}
	exitCode, ok := decodeInteger(entry.Exit)
	if !ok {
		return malformed(fmt.Sprintf("field exit must be an integer, got %s", entry.Exit))
	}

	if !present(entry.Msg) {
		return malformed("missing field msg")
	}
	var msg string
	if err := json.Unmarshal(entry.Msg, &msg); err != nil {
		return malformed("field msg must be a string")
	}

	return models.CronEvent{
		Timestamp: timestamp,
		ExitCode:  exitCode,
		Message:   msg,
	}, nil
}

// ParseTimestamp reads an ISO-8601 instant and normalizes it to UTC.
func ParseTimestamp(s string) (time.Time, error) {
	return models.ParseTimestamp(s)
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// decodeInteger accepts only bare JSON integers. Quoted numbers, fractions
// and exponents are rejected.
func decodeInteger(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	v, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return int(v), true
}
