// Package tieredcache provides a tiered cache façade: an ordered stack of
// heterogeneous cache backends (fast local memory, shared network caches,
// durable stores) presented as a single key/value cache, coordinated under
// partial failure by a per-tier circuit breaker.
//
// The package implements the coordinator, the guarded per-tier layer, the
// circuit breaker, and the wrapped-value/dependency-metadata formats. It
// deliberately does not implement backend drivers, key hashing/serialization
// conventions, or logging sinks — those are supplied by the caller through
// the Backend, Dependency, Clock, and Logger interfaces.
package tieredcache

import "time"

// WrappedValue is the envelope every guarded layer stores: a payload plus
// an optional absolute expiry and optional dependency metadata. It is
// immutable once constructed.
type WrappedValue struct {
	value          interface{}
	expiresAt      *int64 // absolute Unix seconds; nil means no façade-enforced expiry
	dependencyMeta *DependencyMetadata
}

// NewWrappedValue constructs a WrappedValue. expiresAt is an absolute Unix
// second timestamp; pass nil for "no façade-enforced expiry — rely on
// backend TTL".
func NewWrappedValue(value interface{}, expiresAt *int64, dep *DependencyMetadata) WrappedValue {
	return WrappedValue{value: value, expiresAt: expiresAt, dependencyMeta: dep}
}

// Value returns the wrapped payload.
func (w WrappedValue) Value() interface{} { return w.value }

// ExpiresAt returns the absolute Unix-second expiry, or nil if the value
// has no façade-enforced expiry.
func (w WrappedValue) ExpiresAt() *int64 { return w.expiresAt }

// DependencyMeta returns the dependency metadata snapshot, or nil.
func (w WrappedValue) DependencyMeta() *DependencyMetadata { return w.dependencyMeta }

// Expired reports whether the value's absolute expiry has passed as of now.
// A nil ExpiresAt is never expired by this check (backend TTL still
// applies, but the façade does not enforce it).
func (w WrappedValue) Expired(now time.Time) bool {
	if w.expiresAt == nil {
		return false
	}
	return now.Unix() >= *w.expiresAt
}

// RemainingTTL returns max(0, expiresAt-now) as a duration, or 0 if
// ExpiresAt is nil (meaning "not enforced here").
func (w WrappedValue) RemainingTTL(now time.Time) time.Duration {
	if w.expiresAt == nil {
		return 0
	}
	remaining := *w.expiresAt - now.Unix()
	if remaining < 0 {
		remaining = 0
	}
	return time.Duration(remaining) * time.Second
}

// absoluteExpiry computes the expiresAt field for a write: now+ttl when
// ttl > 0, else nil (no façade-enforced expiry).
func absoluteExpiry(now time.Time, ttl time.Duration) *int64 {
	if ttl <= 0 {
		return nil
	}
	ts := now.Add(ttl).Unix()
	return &ts
}
