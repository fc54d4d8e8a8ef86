// Package memory provides an in-process, map-backed reference
// implementation of tieredcache.Backend. A real deployment would plug
// in a networked or SQL-backed driver instead; this implementation
// exists so the repository's own tests and cmd/cacheserver have a
// concrete, fast tier to exercise the coordinator against.
package memory

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     any
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Backend is a mutex-guarded map with lazy TTL expiry: an expired entry
// is only removed when next observed by Get, Add, or Flush, not by a
// background sweep. Safe for concurrent use.
type Backend struct {
	mu   sync.Mutex
	name string
	data map[string]entry
}

// New creates a Backend identified by name for admin/status reporting
// (e.g. "memory-l1").
func New(name string) *Backend {
	return &Backend{name: name, data: make(map[string]entry)}
}

// Name implements tieredcache.Backend.
func (b *Backend) Name() string { return b.name }

// Get implements tieredcache.Backend.
func (b *Backend) Get(_ context.Context, key string) (any, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.data[key]
	if !ok {
		return nil, false, nil
	}
	if e.expired(time.Now()) {
		delete(b.data, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set implements tieredcache.Backend. ttl <= 0 means no expiry.
func (b *Backend) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = newEntry(value, ttl)
	return nil
}

// Add implements tieredcache.Backend.
func (b *Backend) Add(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.data[key]; ok && !e.expired(time.Now()) {
		return false, nil
	}
	b.data[key] = newEntry(value, ttl)
	return true, nil
}

// Delete implements tieredcache.Backend.
func (b *Backend) Delete(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.data[key]
	delete(b.data, key)
	return ok, nil
}

// Flush implements tieredcache.Backend.
func (b *Backend) Flush(_ context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = make(map[string]entry)
	return true, nil
}

// Len reports the number of entries currently held, including any not
// yet lazily evicted. Exposed for tests that need to assert on
// backend-direct state.
func (b *Backend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Peek returns the raw stored value for key without going through the
// TTL-expiry check, for tests that inspect a layer's backend directly.
func (b *Backend) Peek(key string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.data[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

func newEntry(value any, ttl time.Duration) entry {
	if ttl <= 0 {
		return entry{value: value}
	}
	return entry{value: value, expiresAt: time.Now().Add(ttl)}
}
