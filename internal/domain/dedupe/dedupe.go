// Package dedupe tracks keys of in-flight work so a key is pending at most once.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deduper records in-flight keys, e.g. the scope of a queued ingestion job.
type Deduper interface {
	// SeenAndRecord atomically checks if key is in flight and records it if not.
	// Returns true if the key is already pending or the set is full, false if
	// it was newly recorded and the caller owns it.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord releases a key once its work finished or was never started
	// (e.g. queue backpressure), allowing the next submission through.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

// inMemoryDeduper implements Deduper with a guarded map.
// For bounded mode (maxSize > 0) new keys are rejected at capacity; pending
// work is never evicted.
type inMemoryDeduper struct {
	mu      sync.Mutex
	pending map[string]struct{}
	maxSize int
	size    atomic.Int64
}

const defaultMaxSize = 1024

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.pending = make(map[string]struct{})
	return d
}

// SeenAndRecord implements Deduper.
func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.pending[key]; exists {
		return true
	}
	if d.maxSize > 0 && len(d.pending) >= d.maxSize {
		return true
	}
	d.pending[key] = struct{}{}
	d.size.Add(1)
	return false
}

// Unrecord implements Deduper. Unknown keys are ignored.
func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.pending[key]; exists {
		delete(d.pending, key)
		d.size.Add(-1)
	}
}

// Size returns the current number of pending keys.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
