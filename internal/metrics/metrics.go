// Package metrics provides Prometheus instrumentation for the cache
// server. All metric collectors are registered on init via the Init
// function and exposed through the Handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CacheOpsTotal counts cache operations by kind ("get", "set", "add",
	// "delete", "flush") and outcome ("hit", "miss", "success", "fail").
	CacheOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheserver_operations_total",
			Help: "Total cache operations processed by kind and outcome",
		},
		[]string{"op", "outcome"},
	)

	// OperationDuration observes end-to-end coordinator call latency in
	// seconds by operation kind.
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheserver_operation_duration_seconds",
			Help:    "Coordinator operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// LayerOpsTotal counts per-layer backend calls by layer index and
	// outcome ("success", "fail", "unavailable").
	LayerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheserver_layer_operations_total",
			Help: "Total per-layer backend calls by layer index and outcome",
		},
		[]string{"layer", "outcome"},
	)

	// PopulateTotal counts recovery-populate back-fill attempts by
	// target layer index and outcome ("success", "fail", "skipped_open").
	PopulateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheserver_populate_total",
			Help: "Total recovery-populate back-fill attempts by layer and outcome",
		},
		[]string{"layer", "outcome"},
	)

	// PopulateThrottledTotal counts back-fill passes skipped entirely by
	// the populate rate limiter.
	PopulateThrottledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheserver_populate_throttled_total",
			Help: "Total recovery-populate passes skipped by the rate limiter",
		},
	)

	// CircuitBreakerStateChanges counts state transitions by layer index
	// and direction.
	CircuitBreakerStateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheserver_circuit_breaker_state_changes_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"layer", "from", "to"},
	)

	// CircuitBreakerState reports the current state of each layer's
	// circuit breaker. 0=closed, 1=open, 2=half-open.
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cacheserver_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"layer"},
	)

	// AdminAuthFailures counts admin API auth rejections by reason.
	AdminAuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheserver_admin_auth_failures_total",
			Help: "Total admin API authentication/authorization failures",
		},
		[]string{"reason"},
	)
)

// BreakerStateValue maps a breaker state name to the gauge encoding used
// by CircuitBreakerState.
func BreakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 1
	case "half-open":
		return 2
	default:
		return 0
	}
}

// Init registers all metric collectors with the default Prometheus registry.
// Must be called once at startup before handling requests.
func Init() {
	prometheus.MustRegister(
		CacheOpsTotal,
		OperationDuration,
		LayerOpsTotal,
		PopulateTotal,
		PopulateThrottledTotal,
		CircuitBreakerStateChanges,
		CircuitBreakerState,
		AdminAuthFailures,
	)
}

// Handler returns an http.Handler that serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
