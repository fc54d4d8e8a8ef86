package tieredcache

import "time"

// WriteStrategy selects how a write propagates across layers.
type WriteStrategy string

const (
	// WriteThrough attempts every layer and succeeds if any layer
	// accepted the write.
	WriteThrough WriteStrategy = "through"
	// WriteFirst stops at the first layer that accepts the write.
	WriteFirst WriteStrategy = "first"
)

// RecoveryStrategy selects whether a deeper-tier read hit back-fills
// healthy higher tiers.
type RecoveryStrategy string

const (
	// RecoveryNatural never back-fills; higher tiers repopulate only
	// through their own ordinary writes. This is the coordinator's
	// default.
	RecoveryNatural RecoveryStrategy = "natural"
	// RecoveryPopulate back-fills healthy higher tiers on a deeper-tier
	// hit, using the source value's remaining TTL.
	RecoveryPopulate RecoveryStrategy = "populate"
)

// BreakerConfig configures a layer's circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the failure ratio, in (0, 1], that trips the
	// breaker once a full window has been observed. Default 0.5.
	FailureThreshold float64
	// WindowSize is the number of most recent outcomes retained. Default 10.
	WindowSize int
	// Timeout is how long the breaker stays Open before probing again.
	// Default 30s.
	Timeout time.Duration
	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the breaker. Default 1.
	SuccessThreshold int
}

// PopulateLimiter throttles recovery-populate back-fill attempts so a
// burst of deep-tier hits cannot thunder a recovering higher tier. The
// coordinator calls Allow once per read that would back-fill; a false
// result skips that read's whole back-fill, for every higher layer
// (logged, never an error). A nil
// PopulateLimiter in Options means back-fills are never throttled.
type PopulateLimiter interface {
	Allow() bool
}

// LayerConfig describes one tier in priority order (index 0 is the
// highest priority, consulted first on read).
type LayerConfig struct {
	// Backend is the per-tier storage driver. Required.
	Backend Backend
	// TTL is the per-tier TTL ceiling; 0 means no ceiling.
	TTL time.Duration
	// Breaker overrides Options.DefaultBreakerConfig for this layer
	// only. Zero value uses the default.
	Breaker BreakerConfig
}

// Options configures a Coordinator. Layers is the only required field.
type Options struct {
	// Layers is the ordered, fixed-after-construction priority list of
	// tiers. Must be non-empty.
	Layers []LayerConfig
	// WriteStrategy selects write fan-out behavior. Default WriteThrough.
	WriteStrategy WriteStrategy
	// RecoveryStrategy selects whether deeper-tier hits back-fill
	// higher tiers. Default RecoveryNatural.
	RecoveryStrategy RecoveryStrategy
	// StrictMode rejects non-wrapped reads instead of auto-wrapping
	// them. Default false (compatibility mode).
	StrictMode bool
	// DefaultBreakerConfig is used for any layer that does not set its
	// own Breaker.
	DefaultBreakerConfig BreakerConfig
	// Clock is injectable for deterministic tests. Defaults to the
	// system wall clock.
	Clock Clock
	// Logger receives warnings about transient backend/format errors.
	// Defaults to a no-op logger.
	Logger Logger
	// PopulateLimiter optionally throttles recovery-populate back-fill
	// writes. Defaults to unthrottled.
	PopulateLimiter PopulateLimiter
	// Observer optionally receives per-call and per-populate outcome
	// events, e.g. to feed an external metrics sink. Defaults to no
	// observation.
	Observer Observer
}
