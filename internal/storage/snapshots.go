package storage

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/valter-silva-au/cronwatch/pkg/models"
)

// ReplaceSnapshots atomically swaps the cached metrics for snapshots.
// Metrics missing from snapshots are removed so readers see them as absent.
func (s *Store) ReplaceSnapshots(ctx context.Context, snapshots []models.MetricSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin snapshot tx")
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM stats_cache"); err != nil {
		tx.Rollback()
		return errors.Wrap(err, "clear stats cache")
	}

	for _, snap := range snapshots {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO stats_cache (metric, value, computed_at) VALUES (?, ?, ?)",
			snap.Name, snap.Value, formatTimestamp(snap.ComputedAt),
		); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "cache metric %s", snap.Name)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit snapshot tx")
	}
	return nil
}

// Snapshots returns every cached metric ordered by name.
func (s *Store) Snapshots(ctx context.Context) ([]models.MetricSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT metric, value, computed_at FROM stats_cache ORDER BY metric")
	if err != nil {
		return nil, errors.Wrap(err, "query stats cache")
	}
	defer rows.Close()

	var snapshots []models.MetricSnapshot
	for rows.Next() {
		var (
			snap       models.MetricSnapshot
			computedAt string
		)
		if err := rows.Scan(&snap.Name, &snap.Value, &computedAt); err != nil {
			return nil, errors.Wrap(err, "scan stats cache")
		}
		if snap.ComputedAt, err = parseTimestamp(computedAt); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate stats cache")
	}
	return snapshots, nil
}
