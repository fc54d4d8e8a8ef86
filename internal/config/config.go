// Package config provides YAML configuration loading with validation and
// environment variable substitution for the cache server.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level cache server configuration.
type Config struct {
	Layers             []LayerConfig      `yaml:"layers" json:"layers"`
	WriteStrategy      string             `yaml:"write_strategy" json:"write_strategy"`
	RecoveryStrategy   string             `yaml:"recovery_strategy" json:"recovery_strategy"`
	StrictMode         bool               `yaml:"strict_mode" json:"strict_mode"`
	DefaultBreaker     BreakerConfig      `yaml:"default_breaker" json:"default_breaker"`
	PopulateRateLimit  RateLimitConfig    `yaml:"populate_rate_limit" json:"populate_rate_limit"`
	Admin              AdminConfig        `yaml:"admin" json:"admin"`
	Metrics            MetricsConfig      `yaml:"metrics" json:"metrics"`
	Logging            LoggingConfig      `yaml:"logging" json:"logging"`
	Server             ServerConfig       `yaml:"server" json:"server"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the hot-reload goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// LayerConfig describes one tier in priority order.
type LayerConfig struct {
	Backend        string        `yaml:"backend" json:"backend"`
	TTLSeconds     int           `yaml:"ttl_seconds" json:"ttl_seconds"`
	CircuitBreaker BreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
}

// TTL converts TTLSeconds to a time.Duration; 0 means no per-tier ceiling.
func (l LayerConfig) TTL() time.Duration {
	if l.TTLSeconds <= 0 {
		return 0
	}
	return time.Duration(l.TTLSeconds) * time.Second
}

// BreakerConfig mirrors tieredcache.BreakerConfig in wire form.
type BreakerConfig struct {
	WindowSize       int     `yaml:"window_size" json:"window_size"`
	FailureThreshold float64 `yaml:"failure_threshold" json:"failure_threshold"`
	TimeoutSeconds   int     `yaml:"timeout_seconds" json:"timeout_seconds"`
	SuccessThreshold int     `yaml:"success_threshold" json:"success_threshold"`
}

// Timeout converts TimeoutSeconds to a time.Duration.
func (b BreakerConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// RateLimitConfig holds the recovery-populate token-bucket settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" json:"burst_size"`
}

// AdminConfig holds admin API settings.
type AdminConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	IPAllowlist   []string `yaml:"ip_allowlist" json:"ip_allowlist"` // CIDR notation
	JWTSecret     string   `yaml:"jwt_secret" json:"jwt_secret"`
	RequiredScope string   `yaml:"required_scope" json:"required_scope"`
}

// MetricsConfig holds Prometheus metrics endpoint settings. Enabled
// defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// LoggingConfig holds log output and rotation settings.
type LoggingConfig struct {
	Output     string `yaml:"output" json:"output"` // "stdout", "stderr", or file path; default: "stdout"
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

// ServerConfig holds the demo HTTP server's listener settings.
type ServerConfig struct {
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	GlobalTimeoutMs int           `yaml:"global_timeout_ms" json:"global_timeout_ms"`
	TLS             TLSConfig     `yaml:"tls" json:"tls"`
}

// GlobalTimeout returns the global per-request deadline applied across the
// whole middleware chain, as a time.Duration. Returns 0 (disabled) when
// GlobalTimeoutMs is not set — a cache lookup that hits a slow backend on a
// cold layer would otherwise be able to hang the connection indefinitely.
func (s ServerConfig) GlobalTimeout() time.Duration {
	if s.GlobalTimeoutMs <= 0 {
		return 0
	}
	return time.Duration(s.GlobalTimeoutMs) * time.Millisecond
}

// TLSConfig holds TLS termination settings.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	CertFile   string `yaml:"cert_file" json:"cert_file"`
	KeyFile    string `yaml:"key_file" json:"key_file"`
	MinVersion string `yaml:"min_version" json:"min_version"` // "1.2" or "1.3"; default: "1.2"
}

var validWriteStrategies = map[string]bool{"through": true, "first": true}
var validRecoveryStrategies = map[string]bool{"natural": true, "populate": true}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution, sets defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for testing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.WriteStrategy == "" {
		cfg.WriteStrategy = "through"
	}
	if cfg.RecoveryStrategy == "" {
		cfg.RecoveryStrategy = "natural"
	}
	applyBreakerDefaults(&cfg.DefaultBreaker)
	for i := range cfg.Layers {
		applyBreakerDefaultsFromParent(&cfg.Layers[i].CircuitBreaker, cfg.DefaultBreaker)
	}

	if cfg.PopulateRateLimit.RequestsPerSecond == 0 {
		cfg.PopulateRateLimit.RequestsPerSecond = 50
	}
	if cfg.PopulateRateLimit.BurstSize == 0 {
		cfg.PopulateRateLimit.BurstSize = 20
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8088
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.GlobalTimeoutMs == 0 {
		cfg.Server.GlobalTimeoutMs = 5000
	}
	if cfg.Server.TLS.Enabled && cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = "1.2"
	}
}

func applyBreakerDefaults(b *BreakerConfig) {
	if b.WindowSize == 0 {
		b.WindowSize = 10
	}
	if b.FailureThreshold == 0 {
		b.FailureThreshold = 0.5
	}
	if b.TimeoutSeconds == 0 {
		b.TimeoutSeconds = 30
	}
	if b.SuccessThreshold == 0 {
		b.SuccessThreshold = 1
	}
}

// applyBreakerDefaultsFromParent fills zero fields in a layer's breaker
// override from the resolved default breaker, then applies the package
// defaults to whatever remains unset.
func applyBreakerDefaultsFromParent(b *BreakerConfig, parent BreakerConfig) {
	if b.WindowSize == 0 {
		b.WindowSize = parent.WindowSize
	}
	if b.FailureThreshold == 0 {
		b.FailureThreshold = parent.FailureThreshold
	}
	if b.TimeoutSeconds == 0 {
		b.TimeoutSeconds = parent.TimeoutSeconds
	}
	if b.SuccessThreshold == 0 {
		b.SuccessThreshold = parent.SuccessThreshold
	}
	applyBreakerDefaults(b)
}

func validate(cfg *Config) error {
	if len(cfg.Layers) == 0 {
		return fmt.Errorf("at least one layer must be configured")
	}
	if !validWriteStrategies[cfg.WriteStrategy] {
		return fmt.Errorf("write_strategy must be \"through\" or \"first\", got %q", cfg.WriteStrategy)
	}
	if !validRecoveryStrategies[cfg.RecoveryStrategy] {
		return fmt.Errorf("recovery_strategy must be \"natural\" or \"populate\", got %q", cfg.RecoveryStrategy)
	}
	if err := validateBreaker("default_breaker", cfg.DefaultBreaker); err != nil {
		return err
	}
	for i, l := range cfg.Layers {
		if l.Backend == "" {
			return fmt.Errorf("layers[%d].backend is required", i)
		}
		if l.TTLSeconds < 0 {
			return fmt.Errorf("layers[%d].ttl_seconds must be non-negative", i)
		}
		if err := validateBreaker(fmt.Sprintf("layers[%d].circuit_breaker", i), l.CircuitBreaker); err != nil {
			return err
		}
	}

	if cfg.Server.GlobalTimeoutMs < 0 {
		return fmt.Errorf("server.global_timeout_ms must be non-negative")
	}

	if cfg.PopulateRateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("populate_rate_limit.requests_per_second must be positive")
	}
	if cfg.PopulateRateLimit.BurstSize <= 0 {
		return fmt.Errorf("populate_rate_limit.burst_size must be positive")
	}

	if cfg.Admin.Enabled {
		if len(cfg.Admin.IPAllowlist) == 0 {
			return fmt.Errorf("admin.ip_allowlist is required when admin is enabled")
		}
		for i, cidr := range cfg.Admin.IPAllowlist {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("admin.ip_allowlist[%d]: invalid CIDR %q: %w", i, cidr, err)
			}
		}
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when TLS is enabled")
		}
		if cfg.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when TLS is enabled")
		}
		if cfg.Server.TLS.MinVersion != "1.2" && cfg.Server.TLS.MinVersion != "1.3" {
			return fmt.Errorf("server.tls.min_version must be \"1.2\" or \"1.3\", got %q", cfg.Server.TLS.MinVersion)
		}
	}

	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}

	return nil
}

func validateBreaker(field string, b BreakerConfig) error {
	if b.WindowSize < 1 {
		return fmt.Errorf("%s.window_size must be positive", field)
	}
	if b.FailureThreshold <= 0 || b.FailureThreshold > 1 {
		return fmt.Errorf("%s.failure_threshold must be between 0 (exclusive) and 1 (inclusive)", field)
	}
	if b.TimeoutSeconds <= 0 {
		return fmt.Errorf("%s.timeout_seconds must be positive", field)
	}
	if b.SuccessThreshold < 1 {
		return fmt.Errorf("%s.success_threshold must be positive", field)
	}
	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	if cfg.Admin.Enabled && strings.Contains(cfg.Admin.JWTSecret, "${") {
		warnings = append(warnings, "admin.jwt_secret contains unresolved environment variable")
	}
	return warnings
}
