package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/valter-silva-au/cronwatch/pkg/models"
)

// Window bounds a query by event timestamp. Since is inclusive, Until is
// inclusive. A zero bound is open.
type Window struct {
	Since time.Time
	Until time.Time
}

// Outcome restricts a query to successful or failed runs.
type Outcome int

const (
	AnyOutcome Outcome = iota
	OnlySuccesses
	OnlyFailures
)

// Filter narrows a Query beyond its time window.
type Filter struct {
	Outcome    Outcome
	Limit      int
	Descending bool
}

// Insert stores event unless an event with the same timestamp, exit code and
// message already exists, in which case it reports models.Duplicate. Any
// error is a storage failure; a write is never dropped silently.
func (s *Store) Insert(ctx context.Context, event models.CronEvent) (models.InsertResult, error) {
	ingestedAt := event.IngestedAt
	if ingestedAt.IsZero() {
		ingestedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO cron_entries (timestamp, exit_code, message, parsed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(timestamp, exit_code, message) DO NOTHING`,
		formatTimestamp(event.Timestamp),
		event.ExitCode,
		event.Message,
		formatTimestamp(ingestedAt),
	)
	if err != nil {
		return "", errors.Wrap(err, "insert cron entry")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return "", errors.Wrap(err, "insert cron entry: rows affected")
	}
	if n == 0 {
		return models.Duplicate, nil
	}
	return models.Inserted, nil
}

// Query returns the events inside window that match filter, ordered by
// timestamp (ascending unless filter.Descending).
func (s *Store) Query(ctx context.Context, window Window, filter Filter) ([]models.CronEvent, error) {
	var (
		where []string
		args  []any
	)
	if !window.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, formatTimestamp(window.Since))
	}
	if !window.Until.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, formatTimestamp(window.Until))
	}
	switch filter.Outcome {
	case OnlySuccesses:
		where = append(where, "exit_code = 0")
	case OnlyFailures:
		where = append(where, "exit_code != 0")
	}

	var b strings.Builder
	b.WriteString("SELECT timestamp, exit_code, message, parsed_at FROM cron_entries")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	if filter.Descending {
		b.WriteString(" ORDER BY timestamp DESC, id DESC")
	} else {
		b.WriteString(" ORDER BY timestamp ASC, id ASC")
	}
	if filter.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, errors.Wrap(err, "query cron entries")
	}
	defer rows.Close()

	var events []models.CronEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate cron entries")
	}
	return events, nil
}

// Count returns the total number of stored events.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cron_entries").Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count cron entries")
	}
	return n, nil
}

// LastFailure returns the failed event with the latest timestamp, or nil if
// no failure has ever been stored.
func (s *Store) LastFailure(ctx context.Context) (*models.CronEvent, error) {
	events, err := s.Query(ctx, Window{}, Filter{Outcome: OnlyFailures, Limit: 1, Descending: true})
	if err != nil {
		return nil, errors.Wrap(err, "last failure")
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (models.CronEvent, error) {
	var (
		ts, parsedAt string
		event        models.CronEvent
	)
	if err := row.Scan(&ts, &event.ExitCode, &event.Message, &parsedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.CronEvent{}, err
		}
		return models.CronEvent{}, errors.Wrap(err, "scan cron entry")
	}

	var err error
	if event.Timestamp, err = parseTimestamp(ts); err != nil {
		return models.CronEvent{}, err
	}
	if event.IngestedAt, err = parseTimestamp(parsedAt); err != nil {
		return models.CronEvent{}, err
	}
	return event, nil
}
