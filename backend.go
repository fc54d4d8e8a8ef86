package tieredcache

import (
	"context"
	"time"
)

// Backend is the capability contract a cache tier's storage driver must
// satisfy. Values passed to Set/Add are opaque to the backend — it
// stores and returns whatever it is given, whether that is a
// WrappedValue or (in compatibility mode) a raw legacy value written by
// an external writer. Individual backend drivers (local in-memory map,
// networked key/value stores, SQL-backed stores) are external
// collaborators; this package only depends on this interface. See
// internal/backend/memory for a minimal reference implementation used
// by this repository's own tests and demo server.
type Backend interface {
	// Get returns the stored value and true, or (nil, false, nil) on a
	// miss. A non-nil error indicates a transient backend failure.
	Get(ctx context.Context, key string) (value any, found bool, err error)
	// Set unconditionally stores value under key with the given TTL.
	// ttl <= 0 means no backend-enforced expiry.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Add stores value under key only if key is not already present,
	// returning whether the value was stored.
	Add(ctx context.Context, key string, value any, ttl time.Duration) (stored bool, err error)
	// Delete removes key, returning whether anything was removed.
	Delete(ctx context.Context, key string) (removed bool, err error)
	// Flush clears every key the backend holds.
	Flush(ctx context.Context) (ok bool, err error)

	// Name identifies the backend implementation for admin/status
	// reporting (e.g. "memory", "redis").
	Name() string
}
