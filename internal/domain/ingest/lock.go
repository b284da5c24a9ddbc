package ingest

import (
	"context"
	"sync"
)

// scopeLocks serializes runs per scope. Different scopes never contend.
type scopeLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{slots: make(map[string]chan struct{})}
}

func (l *scopeLocks) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// acquire blocks until the scope is free or ctx is done.
func (l *scopeLocks) acquire(ctx context.Context, key string) (func(), error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
