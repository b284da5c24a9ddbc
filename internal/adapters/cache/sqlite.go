package cache

import (
	"context"
	"time"
)

// Table is the persistence SQLite needs; repository.Store implements it.
type Table interface {
	CacheGet(ctx context.Context, key string, now time.Time) ([]byte, time.Time, bool, error)
	CachePut(ctx context.Context, key string, data []byte, expiresAt time.Time) error
	CachePurge(ctx context.Context, now time.Time) (int, error)
}

// SQLite keeps entries in the context_cache table so they survive restarts
// and are shared by processes using the same database.
type SQLite struct {
	table Table
}

// NewSQLite wraps a cache table.
func NewSQLite(t Table) *SQLite {
	return &SQLite{table: t}
}

// Get implements Cache.
func (s *SQLite) Get(ctx context.Context, key string, now time.Time) ([]byte, time.Time, bool, error) {
	return s.table.CacheGet(ctx, key, now)
}

// Put implements Cache.
func (s *SQLite) Put(ctx context.Context, key string, data []byte, expiresAt time.Time) error {
	return s.table.CachePut(ctx, key, data, expiresAt)
}

// Purge implements Cache.
func (s *SQLite) Purge(ctx context.Context, now time.Time) (int, error) {
	return s.table.CachePurge(ctx, now)
}
