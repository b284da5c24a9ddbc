package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CacheGet returns the entry for key when it has not expired at now.
func (s *Store) CacheGet(ctx context.Context, key string, now time.Time) ([]byte, time.Time, bool, error) {
	if s.closed.Load() {
		return nil, time.Time{}, false, ErrClosed
	}
	var (
		data []byte
		exp  int64
	)
	err := s.db.QueryRowContext(ctx, "SELECT data, expires_at FROM context_cache WHERE key = ? AND expires_at > ?",
		key, nanos(now)).Scan(&data, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("repository: cache get: %w", err)
	}
	return data, fromNanos(exp), true, nil
}

// CachePut writes data under key, replacing any previous entry.
func (s *Store) CachePut(ctx context.Context, key string, data []byte, expiresAt time.Time) error {
	return s.runTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO context_cache (key, data, expires_at) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`,
			key, data, nanos(expiresAt))
		if err != nil {
			return fmt.Errorf("repository: cache put: %w", err)
		}
		return nil
	})
}

// CachePurge deletes entries expired at now and returns how many were removed.
func (s *Store) CachePurge(ctx context.Context, now time.Time) (int, error) {
	var n int64
	err := s.runTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM context_cache WHERE expires_at <= ?", nanos(now))
		if err != nil {
			return fmt.Errorf("repository: cache purge: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}
