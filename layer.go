package tieredcache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pozitronik/tieredcache/internal/breaker"
)

// guardedLayer pairs one tier's Backend with its own circuit breaker and
// TTL ceiling. Every operation follows the same pattern: if the breaker
// doesn't allow the request, the backend is never touched and an
// "unavailable" result is returned; otherwise the backend is invoked and
// the outcome (success/failure) is recorded on the breaker.
type guardedLayer struct {
	index   int
	backend Backend
	cb      *breaker.Breaker
	ttl     atomic.Int64 // nanoseconds; per-tier ceiling, 0 means no ceiling
	clock   Clock
	obs     Observer
}

func newGuardedLayer(index int, cfg LayerConfig, defaultBreaker BreakerConfig, clock Clock, obs Observer) *guardedLayer {
	bc := cfg.Breaker
	if bc == (BreakerConfig{}) {
		bc = defaultBreaker
	}
	l := &guardedLayer{
		index:   index,
		backend: cfg.Backend,
		clock:   clock,
		obs:     obs,
		cb: breaker.New(breaker.Config{
			FailureThreshold: bc.FailureThreshold,
			WindowSize:       bc.WindowSize,
			Timeout:          bc.Timeout,
			SuccessThreshold: bc.SuccessThreshold,
		}, clockAdapter{clock}),
	}
	l.ttl.Store(int64(cfg.TTL))
	return l
}

// getTTL returns the layer's current TTL ceiling.
func (l *guardedLayer) getTTL() time.Duration {
	return time.Duration(l.ttl.Load())
}

// updateConfig applies a hot-reloaded, non-structural config change: a new
// TTL ceiling and breaker thresholds. It never touches the breaker's
// current state (open/closed/half-open), only its thresholds.
func (l *guardedLayer) updateConfig(ttl time.Duration, bc BreakerConfig) {
	l.ttl.Store(int64(ttl))
	l.cb.UpdateConfig(breaker.Config{
		FailureThreshold: bc.FailureThreshold,
		WindowSize:       bc.WindowSize,
		Timeout:          bc.Timeout,
		SuccessThreshold: bc.SuccessThreshold,
	})
}

// clockAdapter bridges the public Clock interface to the internal
// breaker package's identical Clock interface, avoiding an import of
// this package from internal/breaker.
type clockAdapter struct{ Clock }

// clampTTL applies the per-tier ceiling: min(requestedTTL, layerTTL)
// when layerTTL > 0, else requestedTTL unchanged.
func (l *guardedLayer) clampTTL(requested time.Duration) time.Duration {
	ttl := l.getTTL()
	if ttl > 0 && (requested <= 0 || requested > ttl) {
		return ttl
	}
	return requested
}

// getValue returns whatever the backend yielded: a WrappedValue, a raw
// legacy value, or a miss. Interpretation is the coordinator's
// responsibility. ok=false with err=nil means either a genuine miss or
// the breaker rejected the call (unavailable); the coordinator treats
// both the same way (continue to the next layer).
func (l *guardedLayer) getValue(ctx context.Context, key string) (value any, ok bool, err error) {
	if !l.cb.AllowsRequest() {
		l.obs.LayerCall(l.index, OutcomeUnavailable)
		return nil, false, nil
	}
	v, found, err := l.backend.Get(ctx, key)
	if err != nil {
		l.cb.RecordFailure()
		l.obs.LayerCall(l.index, OutcomeFail)
		return nil, false, err
	}
	l.cb.RecordSuccess()
	l.obs.LayerCall(l.index, OutcomeSuccess)
	return v, found, nil
}

// setValue wraps value into a WrappedValue(value, now+ttl or nil,
// depMeta) and stores it at the already-clamped ttl. Returns false
// (success=false, err=nil) when the breaker rejects the call.
func (l *guardedLayer) setValue(ctx context.Context, key string, value any, ttl time.Duration, dep *DependencyMetadata) (bool, error) {
	if !l.cb.AllowsRequest() {
		l.obs.LayerCall(l.index, OutcomeUnavailable)
		return false, nil
	}
	wrapped := NewWrappedValue(value, absoluteExpiry(l.clock.Now(), ttl), dep)
	if err := l.backend.Set(ctx, key, wrapped, ttl); err != nil {
		l.cb.RecordFailure()
		l.obs.LayerCall(l.index, OutcomeFail)
		return false, err
	}
	l.cb.RecordSuccess()
	l.obs.LayerCall(l.index, OutcomeSuccess)
	return true, nil
}

// addValue is setValue's add-if-absent counterpart.
func (l *guardedLayer) addValue(ctx context.Context, key string, value any, ttl time.Duration, dep *DependencyMetadata) (bool, error) {
	if !l.cb.AllowsRequest() {
		l.obs.LayerCall(l.index, OutcomeUnavailable)
		return false, nil
	}
	wrapped := NewWrappedValue(value, absoluteExpiry(l.clock.Now(), ttl), dep)
	stored, err := l.backend.Add(ctx, key, wrapped, ttl)
	if err != nil {
		l.cb.RecordFailure()
		l.obs.LayerCall(l.index, OutcomeFail)
		return false, err
	}
	l.cb.RecordSuccess()
	l.obs.LayerCall(l.index, OutcomeSuccess)
	return stored, nil
}

// setRaw stores an already-constructed WrappedValue verbatim, used by
// recovery-populate to back-fill a value captured from a deeper layer
// without re-deriving its expiry.
func (l *guardedLayer) setRaw(ctx context.Context, key string, wrapped WrappedValue, ttl time.Duration) (bool, error) {
	if !l.cb.AllowsRequest() {
		l.obs.LayerCall(l.index, OutcomeUnavailable)
		return false, nil
	}
	if err := l.backend.Set(ctx, key, wrapped, ttl); err != nil {
		l.cb.RecordFailure()
		l.obs.LayerCall(l.index, OutcomeFail)
		return false, err
	}
	l.cb.RecordSuccess()
	l.obs.LayerCall(l.index, OutcomeSuccess)
	return true, nil
}

func (l *guardedLayer) deleteValue(ctx context.Context, key string) (bool, error) {
	if !l.cb.AllowsRequest() {
		l.obs.LayerCall(l.index, OutcomeUnavailable)
		return false, nil
	}
	removed, err := l.backend.Delete(ctx, key)
	if err != nil {
		l.cb.RecordFailure()
		l.obs.LayerCall(l.index, OutcomeFail)
		return false, err
	}
	l.cb.RecordSuccess()
	l.obs.LayerCall(l.index, OutcomeSuccess)
	return removed, nil
}

func (l *guardedLayer) flush(ctx context.Context) (bool, error) {
	if !l.cb.AllowsRequest() {
		l.obs.LayerCall(l.index, OutcomeUnavailable)
		return false, nil
	}
	ok, err := l.backend.Flush(ctx)
	if err != nil {
		l.cb.RecordFailure()
		l.obs.LayerCall(l.index, OutcomeFail)
		return false, err
	}
	l.cb.RecordSuccess()
	l.obs.LayerCall(l.index, OutcomeSuccess)
	return ok, nil
}
