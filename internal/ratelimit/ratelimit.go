// Package ratelimit provides a shared token bucket limiter used to
// throttle the cache coordinator's recovery-populate back-fill writes.
package ratelimit

import (
	"log/slog"

	"github.com/pozitronik/tieredcache/internal/config"
	"golang.org/x/time/rate"
)

// Limiter throttles recovery-populate back-fill attempts so a burst of
// deep-tier hits cannot thunder a recovering higher tier. It satisfies
// tieredcache.PopulateLimiter.
type Limiter struct {
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Limiter from cfg. A zero-value RequestsPerSecond adds no
// tokens over time: only the first BurstSize back-fills are allowed, and
// none at all when BurstSize is also zero.
func New(cfg config.RateLimitConfig, logger *slog.Logger) *Limiter {
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
		logger:  logger,
	}
}

// Allow reports whether a single back-fill attempt may proceed. A false
// result means the caller should skip the back-fill for this hit; it is
// never treated as an error by the coordinator.
func (l *Limiter) Allow() bool {
	allowed := l.limiter.Allow()
	if !allowed {
		l.logger.Debug("populate back-fill throttled")
	}
	return allowed
}
