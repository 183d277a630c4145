package storage

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/valter-silva-au/cronwatch/pkg/models"
)

// SaveCursor records how far the tailer has consumed cursor.Path.
func (s *Store) SaveCursor(ctx context.Context, cursor models.TailCursor) error {
	updatedAt := cursor.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tail_cursor (path, byte_offset, device, inode, head_len, head_sum, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			byte_offset = excluded.byte_offset,
			device = excluded.device,
			inode = excluded.inode,
			head_len = excluded.head_len,
			head_sum = excluded.head_sum,
			updated_at = excluded.updated_at`,
		cursor.Path,
		cursor.Offset,
		int64(cursor.Identity.Device),
		int64(cursor.Identity.Inode),
		cursor.Identity.HeadLen,
		strconv.FormatUint(cursor.Identity.HeadSum, 16),
		formatTimestamp(updatedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "save cursor for %s", cursor.Path)
	}
	return nil
}

// LoadCursor returns the saved cursor for path, or nil if none was saved.
func (s *Store) LoadCursor(ctx context.Context, path string) (*models.TailCursor, error) {
	var (
		cursor         = models.TailCursor{Path: path}
		device, inode  int64
		sum, updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT byte_offset, device, inode, head_len, head_sum, updated_at FROM tail_cursor WHERE path = ?",
		path,
	).Scan(&cursor.Offset, &device, &inode, &cursor.Identity.HeadLen, &sum, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load cursor for %s", path)
	}

	cursor.Identity.Device = uint64(device)
	cursor.Identity.Inode = uint64(inode)
	if sum != "" {
		if cursor.Identity.HeadSum, err = strconv.ParseUint(sum, 16, 64); err != nil {
			return nil, errors.Wrapf(err, "parse cursor checksum for %s", path)
		}
	}
	if cursor.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	return &cursor, nil
}
