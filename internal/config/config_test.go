package config

import (
	"os"
	"testing"
)

func TestLoadFromBytes_Defaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
layers:
  - backend: memory
`))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}
	if cfg.WriteStrategy != "through" {
		t.Errorf("WriteStrategy default = %q, want through", cfg.WriteStrategy)
	}
	if cfg.RecoveryStrategy != "natural" {
		t.Errorf("RecoveryStrategy default = %q, want natural", cfg.RecoveryStrategy)
	}
	if cfg.Layers[0].CircuitBreaker.WindowSize != 10 {
		t.Errorf("layer breaker WindowSize default = %d, want 10", cfg.Layers[0].CircuitBreaker.WindowSize)
	}
	if cfg.PopulateRateLimit.RequestsPerSecond != 50 {
		t.Errorf("PopulateRateLimit.RequestsPerSecond default = %v, want 50", cfg.PopulateRateLimit.RequestsPerSecond)
	}
	if cfg.Server.Port != 8088 {
		t.Errorf("Server.Port default = %d, want 8088", cfg.Server.Port)
	}
}

func TestLoadFromBytes_LayerBreakerInheritsDefaultBreaker(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
default_breaker:
  window_size: 20
  failure_threshold: 0.75
layers:
  - backend: memory
  - backend: redis
    circuit_breaker:
      window_size: 4
`))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}
	if cfg.Layers[0].CircuitBreaker.WindowSize != 20 {
		t.Errorf("layer[0] WindowSize = %d, want inherited 20", cfg.Layers[0].CircuitBreaker.WindowSize)
	}
	if cfg.Layers[0].CircuitBreaker.FailureThreshold != 0.75 {
		t.Errorf("layer[0] FailureThreshold = %v, want inherited 0.75", cfg.Layers[0].CircuitBreaker.FailureThreshold)
	}
	if cfg.Layers[1].CircuitBreaker.WindowSize != 4 {
		t.Errorf("layer[1] WindowSize = %d, want overridden 4", cfg.Layers[1].CircuitBreaker.WindowSize)
	}
	if cfg.Layers[1].CircuitBreaker.FailureThreshold != 0.75 {
		t.Errorf("layer[1] FailureThreshold = %v, want inherited 0.75", cfg.Layers[1].CircuitBreaker.FailureThreshold)
	}
}

func TestLoadFromBytes_EnvVarSubstitution(t *testing.T) {
	t.Setenv("CACHE_ADMIN_JWT_SECRET", "supersecret")
	cfg, err := LoadFromBytes([]byte(`
layers:
  - backend: memory
admin:
  enabled: true
  ip_allowlist: ["127.0.0.0/8"]
  jwt_secret: "${CACHE_ADMIN_JWT_SECRET}"
`))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}
	if cfg.Admin.JWTSecret != "supersecret" {
		t.Errorf("Admin.JWTSecret = %q, want substituted value", cfg.Admin.JWTSecret)
	}
}

func TestLoadFromBytes_UnresolvedEnvVarWarns(t *testing.T) {
	os.Unsetenv("CACHE_ADMIN_JWT_SECRET_MISSING")
	cfg, err := LoadFromBytes([]byte(`
layers:
  - backend: memory
admin:
  enabled: true
  ip_allowlist: ["127.0.0.0/8"]
  jwt_secret: "${CACHE_ADMIN_JWT_SECRET_MISSING}"
`))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}
	if len(cfg.Warnings) == 0 {
		t.Errorf("expected a warning about unresolved env var")
	}
}

func TestLoadFromBytes_RejectsEmptyLayers(t *testing.T) {
	_, err := LoadFromBytes([]byte(`layers: []`))
	if err == nil {
		t.Fatal("expected error for empty layer vector")
	}
}

func TestLoadFromBytes_RejectsInvalidWriteStrategy(t *testing.T) {
	_, err := LoadFromBytes([]byte(`
write_strategy: bogus
layers:
  - backend: memory
`))
	if err == nil {
		t.Fatal("expected error for invalid write_strategy")
	}
}

func TestLoadFromBytes_RejectsAdminWithoutAllowlist(t *testing.T) {
	_, err := LoadFromBytes([]byte(`
layers:
  - backend: memory
admin:
  enabled: true
`))
	if err == nil {
		t.Fatal("expected error for admin enabled without ip_allowlist")
	}
}

func TestLoadFromBytes_RejectsBadCIDR(t *testing.T) {
	_, err := LoadFromBytes([]byte(`
layers:
  - backend: memory
admin:
  enabled: true
  ip_allowlist: ["not-a-cidr"]
`))
	if err == nil {
		t.Fatal("expected error for invalid CIDR")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/cache.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
