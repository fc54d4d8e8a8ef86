// Package breaker implements the sliding-window circuit breaker used to
// gate each cache tier independently. It is an internal implementation
// detail of the coordinator: callers configure it through
// tieredcache.BreakerConfig and observe it through
// tieredcache.LayerStatus, never through this package directly.
package breaker

import (
	"sync"
	"time"
)

// State is the circuit breaker's position in the closed/open/half-open
// state machine.
type State int

const (
	// StateClosed is normal operation: requests are allowed and outcomes
	// are recorded against the sliding window.
	StateClosed State = iota
	// StateOpen rejects all requests until the configured timeout elapses.
	StateOpen
	// StateHalfOpen allows a probe to determine whether the backend has
	// recovered.
	StateHalfOpen
)

// String returns a lowercase, hyphenated state name suitable for logging
// and admin API responses.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Class identifies this breaker implementation on admin surfaces that
// report a breaker class per layer.
const Class = "failure-rate"

// Config configures a Breaker. Zero values are replaced with the package
// defaults by New.
type Config struct {
	// FailureThreshold is the failure ratio, in (0, 1], at or above which
	// a full window trips the circuit. Default 0.5.
	FailureThreshold float64
	// WindowSize is the number of most recent outcomes retained. Default 10.
	WindowSize int
	// Timeout is how long the circuit stays Open before probing again.
	// Default 30s.
	Timeout time.Duration
	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit. Default 1.
	SuccessThreshold int
}

const (
	defaultFailureThreshold = 0.5
	defaultWindowSize       = 10
	defaultTimeout          = 30 * time.Second
	defaultSuccessThreshold = 1
)

// withDefaults returns cfg with any zero field replaced by its default.
func (cfg Config) withDefaults() Config {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = defaultWindowSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = defaultSuccessThreshold
	}
	return cfg
}

// Stats is a snapshot of the sliding window used to compute the failure
// rate, returned by GetStats.
type Stats struct {
	Total       int
	Failures    int
	FailureRate float64
}

// Clock abstracts wall-clock reads so tests can control the passage of
// time without sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Breaker is a sliding-window circuit breaker. The window is a ring
// buffer of boolean outcomes; the breaker opens once the window is full
// and the failure ratio reaches the configured threshold. All exported
// methods are safe for concurrent use; a single mutex guards the
// window, state, and timestamps — there is no cross-breaker locking,
// since each cache layer owns an independent Breaker.
type Breaker struct {
	mu sync.Mutex

	cfg   Config
	clock Clock

	state State

	window   []bool
	head     int
	count    int
	failures int

	openedAt          time.Time
	halfOpenSuccesses int
}

// New creates a Breaker with the given configuration. A nil clock uses
// the system wall clock.
func New(cfg Config, clock Clock) *Breaker {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = systemClock{}
	}
	return &Breaker{
		cfg:    cfg,
		clock:  clock,
		state:  StateClosed,
		window: make([]bool, cfg.WindowSize),
	}
}

// AllowsRequest reports whether a request may proceed. It first applies
// the timeout transition: an Open breaker whose timeout has elapsed
// moves to HalfOpen (and the half-open success counter resets) before
// the state is evaluated.
func (b *Breaker) AllowsRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.applyTimeoutTransition()
	return b.state != StateOpen
}

// GetState returns the current state, applying the timeout transition
// first (matching AllowsRequest's lazy evaluation).
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.applyTimeoutTransition()
	return b.state
}

// applyTimeoutTransition moves Open -> HalfOpen once Timeout has
// elapsed since the circuit opened. Must be called with b.mu held.
func (b *Breaker) applyTimeoutTransition() {
	if b.state != StateOpen {
		return
	}
	if b.clock.Now().Sub(b.openedAt) >= b.cfg.Timeout {
		b.state = StateHalfOpen
		b.halfOpenSuccesses = 0
	}
}

// RecordSuccess records a successful call. In HalfOpen, enough
// consecutive successes close the circuit. In Closed, the outcome is
// appended to the window and the threshold is (uniformly) re-evaluated,
// though a successful outcome alone can never cross a failure-rate
// threshold. In Open, the call is ignored.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			b.close()
		}
	case StateClosed:
		b.recordOutcome(false)
		b.checkThreshold()
	}
}

// RecordFailure records a failed call. In HalfOpen, any failure reopens
// the circuit immediately. In Closed, the outcome is appended to the
// window and the threshold is evaluated. In Open, the call is ignored.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.open()
	case StateClosed:
		b.recordOutcome(true)
		b.checkThreshold()
	}
}

// recordOutcome writes a result into the ring buffer, evicting the
// oldest entry once the window is full. Must be called with b.mu held.
func (b *Breaker) recordOutcome(failed bool) {
	if b.count == len(b.window) {
		if b.window[b.head] {
			b.failures--
		}
	} else {
		b.count++
	}
	b.window[b.head] = failed
	if failed {
		b.failures++
	}
	b.head = (b.head + 1) % len(b.window)
}

// checkThreshold trips the circuit once the window is full and the
// failure rate has reached the configured threshold. Must be called
// with b.mu held.
func (b *Breaker) checkThreshold() {
	if b.count < len(b.window) {
		return
	}
	if b.failureRate() >= b.cfg.FailureThreshold {
		b.open()
	}
}

func (b *Breaker) failureRate() float64 {
	if b.count == 0 {
		return 0
	}
	return float64(b.failures) / float64(b.count)
}

// open transitions to Open, recording the opening timestamp. The
// window is retained and cleared only on close: a single stale failure
// observed right after a close shouldn't immediately reopen the
// circuit, but an open transition itself doesn't discard the
// statistics that caused it. Must be called with b.mu held.
func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.clock.Now()
	b.halfOpenSuccesses = 0
}

// close transitions to Closed and clears the window so recovery starts
// from a blank slate. Must be called with b.mu held.
func (b *Breaker) close() {
	b.state = StateClosed
	b.openedAt = time.Time{}
	b.halfOpenSuccesses = 0
	b.head = 0
	b.count = 0
	b.failures = 0
	for i := range b.window {
		b.window[i] = false
	}
}

// GetStats returns a snapshot of the sliding window.
func (b *Breaker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Total:       b.count,
		Failures:    b.failures,
		FailureRate: b.failureRate(),
	}
}

// ForceOpen forces the breaker into the Open state regardless of its
// current statistics. Used by admin tooling.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open()
}

// ForceClose forces the breaker into the Closed state and clears the
// window. Used by admin tooling.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.close()
}

// Reset returns the breaker to an empty Closed state, identical to a
// freshly constructed breaker with the same configuration.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.close()
}

// UpdateConfig applies new threshold/window/timeout settings at
// runtime, e.g. from a config hot-reload. Resizing the window discards
// accumulated statistics, the same as a close.
func (b *Breaker) UpdateConfig(cfg Config) {
	cfg = cfg.withDefaults()
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cfg.FailureThreshold = cfg.FailureThreshold
	b.cfg.Timeout = cfg.Timeout
	b.cfg.SuccessThreshold = cfg.SuccessThreshold

	if cfg.WindowSize != b.cfg.WindowSize {
		b.cfg.WindowSize = cfg.WindowSize
		b.window = make([]bool, cfg.WindowSize)
		b.head = 0
		b.count = 0
		b.failures = 0
	}
}
