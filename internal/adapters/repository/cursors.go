package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/okian/pulse/internal/domain/model"
)

// Cursor returns the stored cursor for key; ok is false when none was written.
func (s *Store) Cursor(ctx context.Context, key string) (model.Cursor, bool, error) {
	if s.closed.Load() {
		return model.Cursor{}, false, ErrClosed
	}
	var (
		c  = model.Cursor{Key: key}
		at int64
	)
	err := s.db.QueryRowContext(ctx, "SELECT value, updated_at FROM ingest_cursors WHERE key = ?", key).Scan(&c.Value, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Cursor{}, false, nil
	}
	if err != nil {
		return model.Cursor{}, false, fmt.Errorf("repository: read cursor: %w", err)
	}
	c.UpdatedAt = fromNanos(at)
	return c, true, nil
}

// SetCursor writes the cursor for key.
func (s *Store) SetCursor(ctx context.Context, key, value string) error {
	return s.runTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO ingest_cursors (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, nanos(s.now()))
		if err != nil {
			return fmt.Errorf("repository: write cursor: %w", err)
		}
		return nil
	})
}
