// Package cache stores context builder entries with an absolute expiry.
//
// Entries with now >= expires_at are absent. Writes replace the whole entry
// for a key, so concurrent writers race only on which complete value wins.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache is implemented by Memory and SQLite.
type Cache interface {
	Get(ctx context.Context, key string, now time.Time) (data []byte, expiresAt time.Time, ok bool, err error)
	Put(ctx context.Context, key string, data []byte, expiresAt time.Time) error
	Purge(ctx context.Context, now time.Time) (int, error)
}

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Memory is a process-local Cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry)}
}

// Get returns a copy of the live entry for key.
func (m *Memory) Get(_ context.Context, key string, now time.Time) ([]byte, time.Time, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || !now.Before(e.expiresAt) {
		return nil, time.Time{}, false, nil
	}
	return append([]byte(nil), e.data...), e.expiresAt, true, nil
}

// Put stores a copy of data.
func (m *Memory) Put(_ context.Context, key string, data []byte, expiresAt time.Time) error {
	cp := append([]byte(nil), data...)
	m.mu.Lock()
	m.entries[key] = entry{data: cp, expiresAt: expiresAt}
	m.mu.Unlock()
	return nil
}

// Purge drops expired entries.
func (m *Memory) Purge(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
