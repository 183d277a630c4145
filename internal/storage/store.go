// Package storage persists cron events, the metric snapshot cache and the
// tail cursor in a single local SQLite database.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/valter-silva-au/cronwatch/pkg/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timestampLayout is fixed-width so that lexical order in SQLite matches
// chronological order. Values are always stored in UTC.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the SQLite-backed event store. It is safe for one writer and any
// number of concurrent readers.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.SugaredLogger
}

// Open opens (creating if needed) the database at path and applies any
// pending migrations. If logger is nil the store operates silently.
func Open(ctx context.Context, path string, logger *zap.SugaredLogger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create store directory for %s", path)
	}

	// WAL lets dashboards and the CLI read while the daemon writes.
	dsn := "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "connect to %s", path)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Infow("Database initialized", "path", path, "wal_mode", true)

	return &Store{db: db, path: path, logger: logger}, nil
}

// NewWithDB wraps an existing handle without running migrations. The caller
// owns the schema; this is used with sqlmock in tests.
func NewWithDB(db *sql.DB, logger *zap.SugaredLogger) *Store {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{db: db, logger: logger}
}

func migrate(ctx context.Context, db *sql.DB) error {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return errors.Wrap(err, "read migrations")
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, sub)
	if err != nil {
		return errors.Wrap(err, "create migration provider")
	}
	if _, err := provider.Up(ctx); err != nil {
		return errors.Wrap(err, "apply migrations")
	}
	return nil
}

// Path returns the database file path, or "" for stores built with NewWithDB.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "close database")
	}
	return nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(timestampLayout, s); err == nil {
		return t.UTC(), nil
	}
	// Databases written by the earlier collector hold RFC 3339 or naive
	// ISO-8601 values.
	t, err := models.ParseTimestamp(s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse stored timestamp %q", s)
	}
	return t, nil
}
