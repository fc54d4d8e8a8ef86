package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/pozitronik/tieredcache/internal/cacheserver"
	"github.com/pozitronik/tieredcache/internal/config"
)

func TestHealthEndpoint(t *testing.T) {
	h := buildServer(t, baseConfig)
	rec := doRequest(h, http.MethodGet, "/health", nil, nil)
	assertStatus(t, rec, http.StatusOK)
}

func TestReadyEndpoint(t *testing.T) {
	h := buildServer(t, baseConfig)
	rec := doRequest(h, http.MethodGet, "/ready", nil, nil)
	assertStatus(t, rec, http.StatusOK)
}

func TestMetricsEndpoint(t *testing.T) {
	h := buildServer(t, baseConfig)
	rec := doRequest(h, http.MethodGet, "/metrics", nil, nil)
	assertStatus(t, rec, http.StatusOK)
}

func TestCacheCRUD(t *testing.T) {
	h := buildServer(t, baseConfig)

	rec := doRequest(h, http.MethodPut, "/cache/widget", map[string]any{"value": "gizmo", "ttl_seconds": 60}, nil)
	assertStatus(t, rec, http.StatusOK)

	rec = doRequest(h, http.MethodGet, "/cache/widget", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	m := parseJSON(t, rec)
	if m["value"] != "gizmo" {
		t.Fatalf("value = %v, want gizmo", m["value"])
	}

	rec = doRequest(h, http.MethodDelete, "/cache/widget", nil, nil)
	assertStatus(t, rec, http.StatusOK)

	rec = doRequest(h, http.MethodGet, "/cache/widget", nil, nil)
	assertStatus(t, rec, http.StatusNotFound)
	assertErrorCode(t, rec, "CACHE_MISS")
}

func TestCacheEmptyKeyRejected(t *testing.T) {
	h := buildServer(t, baseConfig)
	rec := doRequest(h, http.MethodGet, "/cache/", nil, nil)
	assertStatus(t, rec, http.StatusBadRequest)
	assertErrorCode(t, rec, "CACHE_INVALID_KEY")
}

func TestCacheTagInvalidationEndToEnd(t *testing.T) {
	cfg, err := config.LoadFromBytes([]byte(baseConfig))
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	logger := testLogger()
	coordinator, tagStore, err := cacheserver.BuildCoordinator(cfg, logger)
	if err != nil {
		t.Fatalf("BuildCoordinator: %v", err)
	}
	h := cacheserver.BuildHandler(cfg, coordinator, tagStore, logger)

	rec := doRequest(h, http.MethodPut, "/cache/report", map[string]any{
		"value": "v1", "ttl_seconds": 60, "tags": []string{"reports"},
	}, nil)
	assertStatus(t, rec, http.StatusOK)

	rec = doRequest(h, http.MethodGet, "/cache/report", nil, nil)
	assertStatus(t, rec, http.StatusOK)

	// Bumping the tag invalidates every entry written with it.
	tagStore.Bump("reports")
	rec = doRequest(h, http.MethodGet, "/cache/report", nil, nil)
	assertStatus(t, rec, http.StatusNotFound)
	assertErrorCode(t, rec, "CACHE_MISS")
}

// --- Admin API ---

func TestAdminRoutes_Disabled(t *testing.T) {
	h := buildServer(t, baseConfig) // admin.enabled is false
	rec := doRequest(h, http.MethodGet, "/admin/layers", nil, nil)
	assertStatus(t, rec, http.StatusNotFound)
}

func TestAdminRoutes_RequiresAllowlistedIP(t *testing.T) {
	h := buildServer(t, adminConfig)
	token := generateJWT("admin-user", "cache:admin", time.Hour)
	rec := doRequest(h, http.MethodGet, "/admin/layers", nil, authHeader(token))
	// httptest.NewRequest's default RemoteAddr (192.0.2.1) is inside the
	// configured allowlist, so this exercises the happy path; a denied
	// network is covered by TestAdminRoutes_DeniedNetwork below using a
	// handler built with a non-matching allowlist.
	assertStatus(t, rec, http.StatusOK)
}

func TestAdminRoutes_DeniedNetwork(t *testing.T) {
	restrictedConfig := `
layers:
  - backend: memory
    ttl_seconds: 60
populate_rate_limit:
  requests_per_second: 50
  burst_size: 20
server:
  port: 8088
admin:
  enabled: true
  ip_allowlist:
    - 10.0.0.0/24
`
	h := buildServer(t, restrictedConfig)
	rec := doRequest(h, http.MethodGet, "/admin/layers", nil, nil)
	assertStatus(t, rec, http.StatusForbidden)
}

func TestAdminRoutes_MissingToken(t *testing.T) {
	h := buildServer(t, adminConfig)
	rec := doRequest(h, http.MethodGet, "/admin/layers", nil, nil)
	assertStatus(t, rec, http.StatusUnauthorized)
}

func TestAdminRoutes_InsufficientScope(t *testing.T) {
	h := buildServer(t, adminConfig)
	token := generateJWT("admin-user", "read-only", time.Hour)
	rec := doRequest(h, http.MethodGet, "/admin/layers", nil, authHeader(token))
	assertStatus(t, rec, http.StatusForbidden)
}

func TestAdminForceLayerOpenAndClose(t *testing.T) {
	h := buildServer(t, adminConfig)
	token := generateJWT("admin-user", "cache:admin", time.Hour)

	rec := doRequest(h, http.MethodPost, "/admin/layers/0/open", nil, authHeader(token))
	assertStatus(t, rec, http.StatusOK)

	// The only configured layer is now open, so a read reports a total
	// outage rather than a miss.
	rec = doRequest(h, http.MethodGet, "/cache/missing", nil, nil)
	assertStatus(t, rec, http.StatusServiceUnavailable)
	assertErrorCode(t, rec, "CACHE_CIRCUIT_OPEN_ALL_LAYERS")

	rec = doRequest(h, http.MethodPost, "/admin/layers/0/close", nil, authHeader(token))
	assertStatus(t, rec, http.StatusOK)
}

func TestAdminResetCircuitBreakers(t *testing.T) {
	h := buildServer(t, adminConfig)
	token := generateJWT("admin-user", "cache:admin", time.Hour)
	rec := doRequest(h, http.MethodPost, "/admin/reset", nil, authHeader(token))
	assertStatus(t, rec, http.StatusOK)
}

// --- Request tracing / security headers, exercised end to end. ---

func TestSecurityHeadersPresent(t *testing.T) {
	h := buildServer(t, baseConfig)
	rec := doRequest(h, http.MethodGet, "/health", nil, nil)
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("expected X-Content-Type-Options: nosniff, got %q", rec.Header().Get("X-Content-Type-Options"))
	}
}

func TestRequestIDGeneratedWhenAbsent(t *testing.T) {
	h := buildServer(t, baseConfig)
	rec := doRequest(h, http.MethodGet, "/health", nil, nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID to be auto-generated")
	}
}

func TestRequestIDPreserved(t *testing.T) {
	h := buildServer(t, baseConfig)
	rec := doRequest(h, http.MethodGet, "/health", nil, map[string]string{"X-Request-ID": "trace-abc"})
	if got := rec.Header().Get("X-Request-ID"); got != "trace-abc" {
		t.Errorf("X-Request-ID = %q, want trace-abc", got)
	}
}
