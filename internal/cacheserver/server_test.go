package cacheserver

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pozitronik/tieredcache/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromBytes([]byte(`
layers:
  - backend: memory
    ttl_seconds: 60
  - backend: memory
    ttl_seconds: 300
write_strategy: through
recovery_strategy: natural
populate_rate_limit:
  requests_per_second: 50
  burst_size: 20
server:
  port: 8088
`))
	if err != nil {
		t.Fatalf("loading test config: %v", err)
	}
	return cfg
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	cfg := testConfig(t)
	logger := testLogger()
	coordinator, tagStore, err := BuildCoordinator(cfg, logger)
	if err != nil {
		t.Fatalf("BuildCoordinator: %v", err)
	}
	return BuildHandler(cfg, coordinator, tagStore, logger)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCacheHandler_PutGetDelete(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPut, "/cache/widget", map[string]any{"value": "gizmo", "ttl_seconds": 60})
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/cache/widget", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["value"] != "gizmo" {
		t.Fatalf("expected value gizmo, got %v", got["value"])
	}

	rec = doJSON(t, h, http.MethodDelete, "/cache/widget", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/cache/widget", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestCacheHandler_GetMissUnknownKey(t *testing.T) {
	h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/cache/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["error_code"] != "CACHE_MISS" {
		t.Fatalf("expected CACHE_MISS, got %v", got["error_code"])
	}
}

func TestCacheHandler_TagInvalidation(t *testing.T) {
	cfg := testConfig(t)
	logger := testLogger()
	coordinator, tagStore, err := BuildCoordinator(cfg, logger)
	if err != nil {
		t.Fatalf("BuildCoordinator: %v", err)
	}
	h := BuildHandler(cfg, coordinator, tagStore, logger)

	rec := doJSON(t, h, http.MethodPut, "/cache/report", map[string]any{
		"value": "stale-free", "ttl_seconds": 60, "tags": []string{"reports"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/cache/report", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected fresh hit before bump, got %d", rec.Code)
	}

	// Simulate the tag being invalidated elsewhere in the system.
	tagStore.Bump("reports")
	rec = doJSON(t, h, http.MethodGet, "/cache/report", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected miss after tag bump, got %d", rec.Code)
	}

	// A re-PUT after the bump is accepted.
	rec2 := doJSON(t, h, http.MethodPut, "/cache/report", map[string]any{
		"value": "fresher", "ttl_seconds": 60, "tags": []string{"reports"},
	})
	if rec2.Code != http.StatusOK {
		t.Fatalf("re-PUT status = %d", rec2.Code)
	}
}

func TestCacheHandler_EmptyKeyRejected(t *testing.T) {
	h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/cache/", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty key, got %d", rec.Code)
	}
}

func TestHealthAndMetricsRoutesRegistered(t *testing.T) {
	h := newTestServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/health status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/ready status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", rec.Code)
	}
}

func TestBuildCoordinator_RejectsUnknownBackend(t *testing.T) {
	cfg, err := config.LoadFromBytes([]byte(`
layers:
  - backend: redis
    ttl_seconds: 60
populate_rate_limit:
  requests_per_second: 50
  burst_size: 20
`))
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = BuildCoordinator(cfg, testLogger())
	if err == nil {
		t.Fatal("expected error for unsupported backend driver")
	}
}
