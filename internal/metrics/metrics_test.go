package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestInit_RegistersMetrics(t *testing.T) {
	// Use a custom registry to avoid conflicts with other tests.
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		CacheOpsTotal,
		OperationDuration,
		LayerOpsTotal,
		PopulateTotal,
		PopulateThrottledTotal,
		CircuitBreakerStateChanges,
		CircuitBreakerState,
		AdminAuthFailures,
	)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	_ = families
}

func TestCacheOpsTotal_Increment(t *testing.T) {
	CacheOpsTotal.WithLabelValues("get", "hit").Inc()
	CacheOpsTotal.WithLabelValues("get", "miss").Inc()
	CacheOpsTotal.WithLabelValues("set", "success").Inc()
	CacheOpsTotal.WithLabelValues("get", "hit").Add(0)
}

func TestOperationDuration_Observe(t *testing.T) {
	OperationDuration.WithLabelValues("get").Observe(0.002)
	OperationDuration.WithLabelValues("set").Observe(0.005)
}

func TestLayerOpsTotal_Increment(t *testing.T) {
	LayerOpsTotal.WithLabelValues("0", "success").Inc()
	LayerOpsTotal.WithLabelValues("1", "unavailable").Inc()
}

func TestPopulateTotal_Increment(t *testing.T) {
	PopulateTotal.WithLabelValues("0", "success").Inc()
	PopulateTotal.WithLabelValues("1", "skipped_open").Inc()
	PopulateThrottledTotal.Inc()
}

func TestCircuitBreakerState_Gauge(t *testing.T) {
	CircuitBreakerState.WithLabelValues("0").Set(BreakerStateValue("open"))
	CircuitBreakerState.WithLabelValues("1").Set(BreakerStateValue("closed"))
}

func TestBreakerStateValue(t *testing.T) {
	cases := map[string]float64{"closed": 0, "open": 1, "half-open": 2, "unknown": 0}
	for state, want := range cases {
		if got := BreakerStateValue(state); got != want {
			t.Errorf("BreakerStateValue(%q) = %v, want %v", state, got, want)
		}
	}
}

func TestAdminAuthFailures_Increment(t *testing.T) {
	AdminAuthFailures.WithLabelValues("missing_token").Inc()
	AdminAuthFailures.WithLabelValues("insufficient_scope").Inc()
}

func TestHandler_ReturnsPrometheusFormat(t *testing.T) {
	Init()

	CacheOpsTotal.WithLabelValues("get", "hit").Inc()

	h := Handler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	body, _ := io.ReadAll(rec.Body)
	bodyStr := string(body)

	if !strings.Contains(bodyStr, "cacheserver_operations_total") {
		t.Error("expected cacheserver_operations_total in metrics output")
	}
	if !strings.Contains(bodyStr, "cacheserver_operation_duration_seconds") {
		t.Error("expected cacheserver_operation_duration_seconds in metrics output")
	}
	if !strings.Contains(bodyStr, "cacheserver_circuit_breaker_state") {
		t.Error("expected cacheserver_circuit_breaker_state in metrics output")
	}
}
