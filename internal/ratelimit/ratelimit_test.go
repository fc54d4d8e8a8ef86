package ratelimit

import (
	"log/slog"
	"testing"

	"github.com/pozitronik/tieredcache/internal/config"
)

func TestLimiter_AllowsUpToBurst(t *testing.T) {
	cfg := config.RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5}
	l := New(cfg, slog.Default())

	for i := 0; i < 5; i++ {
		if !l.Allow() {
			t.Errorf("request %d: expected allowed", i)
		}
	}
}

func TestLimiter_BlocksAfterBurst(t *testing.T) {
	cfg := config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2}
	l := New(cfg, slog.Default())

	for i := 0; i < 2; i++ {
		l.Allow()
	}

	if l.Allow() {
		t.Error("expected third request to be throttled")
	}
}

func TestLimiter_ZeroRateNeverAllows(t *testing.T) {
	cfg := config.RateLimitConfig{RequestsPerSecond: 0, BurstSize: 0}
	l := New(cfg, slog.Default())

	if l.Allow() {
		t.Error("expected zero-rate limiter to never allow")
	}
}

func TestLimiter_SatisfiesPopulateLimiterInterface(t *testing.T) {
	var _ interface{ Allow() bool } = New(config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}, slog.Default())
}
