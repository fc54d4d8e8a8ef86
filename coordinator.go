package tieredcache

import (
	"context"
	"fmt"
	"time"

	"github.com/pozitronik/tieredcache/internal/breaker"
)

// Coordinator is the tiered cache façade itself: an ordered stack of
// guarded layers presented as a single key/value cache. A Coordinator is
// safe for concurrent use by multiple goroutines; the layer vector and
// strategy fields are fixed after New returns.
type Coordinator struct {
	layers           []*guardedLayer
	writeStrategy    WriteStrategy
	recoveryStrategy RecoveryStrategy
	strictMode       bool
	clock            Clock
	logger           Logger
	populateLimiter  PopulateLimiter
	observer         Observer
}

// New constructs a Coordinator. It validates the layer vector and
// strategy options and returns a Configuration error (see errors.go) if
// construction cannot proceed; there is no partial/degraded
// construction.
func New(opts Options) (*Coordinator, error) {
	if len(opts.Layers) == 0 {
		return nil, ErrNoLayers
	}
	for _, l := range opts.Layers {
		if l.Backend == nil {
			return nil, ErrNilBackend
		}
	}

	writeStrategy := opts.WriteStrategy
	if writeStrategy == "" {
		writeStrategy = WriteThrough
	}
	if writeStrategy != WriteThrough && writeStrategy != WriteFirst {
		return nil, ErrInvalidWriteStrategy
	}

	recoveryStrategy := opts.RecoveryStrategy
	if recoveryStrategy == "" {
		recoveryStrategy = RecoveryNatural
	}
	if recoveryStrategy != RecoveryNatural && recoveryStrategy != RecoveryPopulate {
		return nil, ErrInvalidRecoveryStrategy
	}

	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	observer := opts.Observer
	if observer == nil {
		observer = noopObserver{}
	}

	layers := make([]*guardedLayer, len(opts.Layers))
	for i, lc := range opts.Layers {
		layers[i] = newGuardedLayer(i, lc, opts.DefaultBreakerConfig, clock, observer)
	}

	return &Coordinator{
		layers:           layers,
		writeStrategy:    writeStrategy,
		recoveryStrategy: recoveryStrategy,
		strictMode:       opts.StrictMode,
		clock:            clock,
		logger:           logger,
		populateLimiter:  opts.PopulateLimiter,
		observer:         observer,
	}, nil
}

// Get walks the layers in priority order and returns the first
// non-expired hit. found is false only when every layer missed, errored,
// or was circuit-open. dep is the recreated Dependency for the hit
// layer's dependency metadata, or nil if the entry carries none (or its
// class could not be recreated, in which case a warning is logged and
// the value is still returned — a missing dependency factory degrades
// invalidation, not availability).
func (c *Coordinator) Get(ctx context.Context, key string) (value any, dep Dependency, found bool) {
	for i, layer := range c.layers {
		raw, ok, err := layer.getValue(ctx, key)
		if err != nil {
			c.logger.Warn("tieredcache: layer get failed", "layer", i, "error", err)
			continue
		}
		if !ok {
			continue
		}

		wrapped, isWrapped := raw.(WrappedValue)
		if !isWrapped {
			if c.strictMode {
				layer.cb.RecordFailure()
				c.logger.Warn("tieredcache: non-wrapped value rejected in strict mode", "layer", i)
				continue
			}
			wrapped = NewWrappedValue(raw, nil, nil)
		}

		if wrapped.Expired(c.clock.Now()) {
			continue
		}

		var resultDep Dependency
		if meta := wrapped.DependencyMeta(); meta != nil {
			d, rerr := meta.Recreate()
			if rerr != nil {
				c.logger.Warn("tieredcache: dependency recreate failed", "class", meta.ClassName, "error", rerr)
			} else {
				resultDep = d
			}
		}

		if i > 0 && c.recoveryStrategy == RecoveryPopulate {
			c.populate(ctx, key, wrapped, i)
		}

		return wrapped.Value(), resultDep, true
	}
	return nil, nil, false
}

// populate back-fills healthy (closed-breaker) layers above the hit
// layer with the hit value, clamped to each layer's TTL ceiling and the
// source value's remaining lifetime. A throttled or skipped back-fill is
// never an error — it only delays when the layer repopulates.
func (c *Coordinator) populate(ctx context.Context, key string, hit WrappedValue, hitIndex int) {
	if c.populateLimiter != nil && !c.populateLimiter.Allow() {
		c.observer.PopulateThrottled()
		c.logger.Debug("tieredcache: recovery populate throttled", "key", key)
		return
	}
	now := c.clock.Now()
	for j := 0; j < hitIndex; j++ {
		layer := c.layers[j]
		if layer.cb.GetState() != breaker.StateClosed {
			c.observer.PopulateResult(j, OutcomeSkippedOpen)
			continue
		}
		remaining := remainingTTLForBackfill(hit.ExpiresAt(), layer.getTTL(), now)
		toStore := NewWrappedValue(hit.Value(), absoluteExpiry(now, remaining), hit.DependencyMeta())
		ok, err := layer.setRaw(ctx, key, toStore, remaining)
		if err != nil {
			c.logger.Warn("tieredcache: recovery populate failed", "layer", j, "error", err)
		}
		if err != nil || !ok {
			c.observer.PopulateResult(j, OutcomeFail)
			continue
		}
		c.observer.PopulateResult(j, OutcomeSuccess)
	}
}

// remainingTTLForBackfill computes the TTL for a back-fill write: no
// façade-enforced source expiry falls back to the target layer's own
// ceiling (or 0, meaning no backend TTL); otherwise the remaining
// lifetime is floored at one second (to tolerate clock skew) and capped
// at the target layer's ceiling.
func remainingTTLForBackfill(sourceExpiresAt *int64, layerTTL time.Duration, now time.Time) time.Duration {
	if sourceExpiresAt == nil {
		return layerTTL
	}
	remaining := time.Duration(*sourceExpiresAt-now.Unix()) * time.Second
	if remaining < time.Second {
		remaining = time.Second
	}
	if layerTTL > 0 && remaining > layerTTL {
		remaining = layerTTL
	}
	return remaining
}

// Set stores value under key with no dependency metadata.
func (c *Coordinator) Set(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	return c.write(ctx, key, value, ttl, nil, false)
}

// SetWithDependency stores value under key alongside dep's captured
// metadata, so a later Get can recreate dep for the host framework's
// invalidation check.
func (c *Coordinator) SetWithDependency(ctx context.Context, key string, value any, ttl time.Duration, dep Dependency) (bool, error) {
	return c.write(ctx, key, value, ttl, FromDependency(dep), false)
}

// Add stores value under key only where each layer does not already
// hold it, with no dependency metadata.
func (c *Coordinator) Add(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	return c.write(ctx, key, value, ttl, nil, true)
}

// AddWithDependency is Add's dependency-carrying counterpart.
func (c *Coordinator) AddWithDependency(ctx context.Context, key string, value any, ttl time.Duration, dep Dependency) (bool, error) {
	return c.write(ctx, key, value, ttl, FromDependency(dep), true)
}

// SetEnvelope accepts the legacy two-element wire form (value,
// dependency) for callers bridging from the host framework's untyped
// write API. payload is either the value itself (dependency=nil) or a
// [2]any{value, dependency} pair, where a non-nil second element must
// satisfy Dependency. Prefer Set/SetWithDependency in new Go code; this
// exists for compatibility with the legacy envelope format.
func (c *Coordinator) SetEnvelope(ctx context.Context, key string, payload any, ttl time.Duration) (bool, error) {
	value, dep, err := extractEnvelope(payload)
	if err != nil {
		return false, err
	}
	return c.write(ctx, key, value, ttl, FromDependency(dep), false)
}

func extractEnvelope(payload any) (value any, dep Dependency, err error) {
	pair, ok := payload.([2]any)
	if !ok {
		return payload, nil, nil
	}
	value = pair[0]
	if pair[1] == nil {
		return value, nil, nil
	}
	d, ok := pair[1].(Dependency)
	if !ok {
		return nil, nil, fmt.Errorf("%w: got %T", ErrInvalidDependencyEnvelope, pair[1])
	}
	return value, d, nil
}

// write fans a single value out to the layers according to
// writeStrategy, clamping each layer's effective TTL to its configured
// ceiling. It returns true iff at least one layer accepted the write.
func (c *Coordinator) write(ctx context.Context, key string, value any, ttl time.Duration, dep *DependencyMetadata, add bool) (bool, error) {
	anySuccess := false
	for i, layer := range c.layers {
		effectiveTTL := layer.clampTTL(ttl)

		var ok bool
		var err error
		if add {
			ok, err = layer.addValue(ctx, key, value, effectiveTTL, dep)
		} else {
			ok, err = layer.setValue(ctx, key, value, effectiveTTL, dep)
		}
		if err != nil {
			c.logger.Warn("tieredcache: layer write failed", "layer", i, "error", err)
			continue
		}
		if ok {
			if c.writeStrategy == WriteFirst {
				return true, nil
			}
			anySuccess = true
		}
	}
	return anySuccess, nil
}

// Delete fans out to every layer unconditionally and reports true if any
// layer removed something. Write strategy does not apply to delete.
func (c *Coordinator) Delete(ctx context.Context, key string) bool {
	anySuccess := false
	for i, layer := range c.layers {
		removed, err := layer.deleteValue(ctx, key)
		if err != nil {
			c.logger.Warn("tieredcache: layer delete failed", "layer", i, "error", err)
			continue
		}
		if removed {
			anySuccess = true
		}
	}
	return anySuccess
}

// Flush clears every layer unconditionally and reports true if any layer
// reported success.
func (c *Coordinator) Flush(ctx context.Context) bool {
	anySuccess := false
	for i, layer := range c.layers {
		ok, err := layer.flush(ctx)
		if err != nil {
			c.logger.Warn("tieredcache: layer flush failed", "layer", i, "error", err)
			continue
		}
		if ok {
			anySuccess = true
		}
	}
	return anySuccess
}

// GetLayerStatus reports, per layer in priority order, its backend
// identity and current breaker health.
func (c *Coordinator) GetLayerStatus() []LayerStatus {
	result := make([]LayerStatus, len(c.layers))
	for i, layer := range c.layers {
		result[i] = LayerStatus{
			Index:        i,
			BackendClass: layer.backend.Name(),
			BreakerClass: breaker.Class,
			BreakerState: layer.cb.GetState().String(),
			Stats:        statsFromBreaker(layer.cb.GetStats()),
		}
	}
	return result
}

// ForceLayerOpen forces layer i's breaker open. An out-of-range index is
// a no-op.
func (c *Coordinator) ForceLayerOpen(i int) {
	if i < 0 || i >= len(c.layers) {
		return
	}
	c.layers[i].cb.ForceOpen()
}

// ForceLayerClose forces layer i's breaker closed, clearing its window.
// An out-of-range index is a no-op.
func (c *Coordinator) ForceLayerClose(i int) {
	if i < 0 || i >= len(c.layers) {
		return
	}
	c.layers[i].cb.ForceClose()
}

// ResetCircuitBreakers resets every layer's breaker to an empty closed
// state.
func (c *Coordinator) ResetCircuitBreakers() {
	for _, layer := range c.layers {
		layer.cb.Reset()
	}
}

// UpdateLayerConfig applies a hot-reloaded, non-structural config change
// to layer i: a new TTL ceiling and breaker thresholds. It never changes
// the number of layers or a layer's backend, and it never resets a
// breaker's current state — only its thresholds going forward. An
// out-of-range index is a no-op and returns false.
func (c *Coordinator) UpdateLayerConfig(i int, ttl time.Duration, bc BreakerConfig) bool {
	if i < 0 || i >= len(c.layers) {
		return false
	}
	c.layers[i].updateConfig(ttl, bc)
	return true
}
