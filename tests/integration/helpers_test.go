// Package integration exercises the assembled cacheserver HTTP surface
// in-process via httptest, without a running process or docker-compose
// stack: cache CRUD, admin auth/allowlist, health/ready, and metrics.
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pozitronik/tieredcache/internal/cacheserver"
	"github.com/pozitronik/tieredcache/internal/config"
)

const jwtSecret = "integration-test-secret-key-32chars!!"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// buildServer assembles a complete cacheserver handler from raw YAML,
// mirroring how cmd/cacheserver/main.go wires a real deployment.
func buildServer(t *testing.T, yaml string) http.Handler {
	t.Helper()
	cfg, err := config.LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	logger := testLogger()
	coordinator, tagStore, err := cacheserver.BuildCoordinator(cfg, logger)
	if err != nil {
		t.Fatalf("BuildCoordinator: %v", err)
	}
	return cacheserver.BuildHandler(cfg, coordinator, tagStore, logger)
}

const baseConfig = `
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
`

const adminConfig = `
layers:
  - backend: memory
    ttl_seconds: 60
write_strategy: through
populate_rate_limit:
  requests_per_second: 50
  burst_size: 20
server:
  port: 8088
admin:
  enabled: true
  ip_allowlist:
    - 192.0.2.0/24
  jwt_secret: ` + jwtSecret + `
  required_scope: "cache:admin"
`

func generateJWT(sub, scope string, expiry time.Duration) string {
	claims := jwt.MapClaims{
		"sub":   sub,
		"exp":   time.Now().Add(expiry).Unix(),
		"scope": scope,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		panic(err)
	}
	return s
}

func doRequest(h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func authHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func parseJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("parsing JSON body %q: %v", rec.Body.String(), err)
	}
	return m
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, want, rec.Body.String())
	}
}

func assertErrorCode(t *testing.T, rec *httptest.ResponseRecorder, want string) {
	t.Helper()
	m := parseJSON(t, rec)
	got, _ := m["error_code"].(string)
	if got != want {
		t.Fatalf("error_code = %q, want %q; body = %s", got, want, rec.Body.String())
	}
}
