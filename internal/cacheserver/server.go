// Package cacheserver assembles the tiered cache library and its
// supporting internal packages (config, metrics, admin, health,
// ratelimit, backend/memory, dependency/tagdep) into a runnable HTTP
// service. cmd/cacheserver is a thin wrapper around Run.
package cacheserver

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pozitronik/tieredcache"
	"github.com/pozitronik/tieredcache/internal/admin"
	"github.com/pozitronik/tieredcache/internal/apierror"
	"github.com/pozitronik/tieredcache/internal/backend/memory"
	"github.com/pozitronik/tieredcache/internal/config"
	"github.com/pozitronik/tieredcache/internal/dependency/tagdep"
	"github.com/pozitronik/tieredcache/internal/health"
	"github.com/pozitronik/tieredcache/internal/logging"
	"github.com/pozitronik/tieredcache/internal/metrics"
	"github.com/pozitronik/tieredcache/internal/middleware"
	"github.com/pozitronik/tieredcache/internal/ratelimit"
	"github.com/pozitronik/tieredcache/internal/tlsutil"
)

// BuildCoordinator resolves cfg.Layers' backend ids into concrete
// tieredcache.Backend instances and constructs a *tieredcache.Coordinator
// plus the tag dependency store used by the cache HTTP handler. Only the
// "memory" backend id is supported by this reference wiring; a real
// deployment would extend backendByID with networked or SQL-backed
// drivers.
func BuildCoordinator(cfg *config.Config, logger *slog.Logger) (*tieredcache.Coordinator, *tagdep.TagStore, error) {
	tagStore := tagdep.NewTagStore()
	tagdep.RegisterFactory(tagStore)

	layers := make([]tieredcache.LayerConfig, len(cfg.Layers))
	for i, lc := range cfg.Layers {
		backend, err := backendByID(lc.Backend, i)
		if err != nil {
			return nil, nil, err
		}
		layers[i] = tieredcache.LayerConfig{
			Backend: backend,
			TTL:     lc.TTL(),
			Breaker: breakerConfigFrom(lc.CircuitBreaker),
		}
	}

	limiter := ratelimit.New(cfg.PopulateRateLimit, logger)

	coordinator, err := tieredcache.New(tieredcache.Options{
		Layers:               layers,
		WriteStrategy:        tieredcache.WriteStrategy(cfg.WriteStrategy),
		RecoveryStrategy:     tieredcache.RecoveryStrategy(cfg.RecoveryStrategy),
		StrictMode:           cfg.StrictMode,
		DefaultBreakerConfig: breakerConfigFrom(cfg.DefaultBreaker),
		Logger:               tieredcache.NewSlogLogger(logger),
		PopulateLimiter:      limiter,
		Observer:             metricsObserver{},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("constructing coordinator: %w", err)
	}
	return coordinator, tagStore, nil
}

func backendByID(id string, layerIndex int) (tieredcache.Backend, error) {
	switch id {
	case "memory":
		return memory.New(fmt.Sprintf("memory-l%d", layerIndex)), nil
	default:
		return nil, fmt.Errorf("unsupported backend driver %q for layers[%d] (only \"memory\" is wired in this reference server)", id, layerIndex)
	}
}

// metricsObserver publishes the coordinator's per-call and per-populate
// outcome events to the Prometheus counters, the instrumentation the
// polled breaker-state snapshot in reportLayerState cannot provide.
type metricsObserver struct{}

func (metricsObserver) LayerCall(layer int, outcome string) {
	metrics.LayerOpsTotal.WithLabelValues(strconv.Itoa(layer), outcome).Inc()
}

func (metricsObserver) PopulateResult(layer int, outcome string) {
	metrics.PopulateTotal.WithLabelValues(strconv.Itoa(layer), outcome).Inc()
}

func (metricsObserver) PopulateThrottled() {
	metrics.PopulateThrottledTotal.Inc()
}

func breakerConfigFrom(bc config.BreakerConfig) tieredcache.BreakerConfig {
	return tieredcache.BreakerConfig{
		FailureThreshold: bc.FailureThreshold,
		WindowSize:       bc.WindowSize,
		Timeout:          bc.Timeout(),
		SuccessThreshold: bc.SuccessThreshold,
	}
}

// BuildHandler assembles the full HTTP surface: cache CRUD, admin,
// health, and metrics, wrapped in the middleware stack (recovery
// outermost, then a global deadline, request ID, logging, security
// headers, CORS, and a body-size limit on the innermost cache-mutating
// routes).
func BuildHandler(cfg *config.Config, coordinator *tieredcache.Coordinator, tagStore *tagdep.TagStore, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	ch := &cacheHandler{coordinator: coordinator, tagStore: tagStore, logger: logger}
	mux.Handle("/cache/", middleware.BodyLimit(1<<20)(http.HandlerFunc(ch.handle)))

	if cfg.Admin.Enabled {
		adminHandler := admin.New(coordinator, cfg.Admin.IPAllowlist, logger)
		adminHandler.RegisterRoutes(mux, cfg.Admin)
	}

	health.New(coordinator, logger).RegisterRoutes(mux)

	if cfg.Metrics.IsEnabled() {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
	}

	var handler http.Handler = mux
	handler = middleware.CORS(middleware.DefaultCORSConfig())(handler)
	handler = middleware.SecurityHeaders()(handler)
	handler = middleware.Logging(logger, nil, nil)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Deadline(cfg.Server.GlobalTimeout())(handler)
	handler = middleware.Recovery(logger)(handler)
	return handler
}

// cacheHandler serves GET/PUT/DELETE /cache/{key}.
type cacheHandler struct {
	coordinator *tieredcache.Coordinator
	tagStore    *tagdep.TagStore
	logger      *slog.Logger
}

type putRequest struct {
	Value      any      `json:"value"`
	TTLSeconds int      `json:"ttl_seconds"`
	Tags       []string `json:"tags"`
}

func (h *cacheHandler) handle(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/cache/")
	if key == "" {
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.CacheInvalidKey, "cache key must not be empty")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, key)
	case http.MethodPut:
		h.put(w, r, key)
	case http.MethodDelete:
		h.delete(w, r, key)
	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		apierror.WriteJSON(w, r, http.StatusMethodNotAllowed, apierror.CacheInternalError, "method not allowed")
	}
}

func (h *cacheHandler) get(w http.ResponseWriter, r *http.Request, key string) {
	start := time.Now()
	ctx := r.Context()

	value, dep, found := h.coordinator.Get(ctx, key)
	metrics.OperationDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())

	if found && dep != nil {
		// The host framework's own job: decide whether the recreated
		// dependency's write-time snapshot is stale relative to the
		// current world. A degraded evaluation (error) fails open —
		// the value is still served, matching the coordinator's own
		// "missing factory degrades invalidation, not availability".
		changed, err := dep.IsChanged(ctx, dep.EvaluatedData())
		if err != nil {
			h.logger.Warn("dependency evaluation failed, serving value anyway", "key", key, "error", err)
		} else if changed {
			found = false
		}
	}

	if !found {
		metrics.CacheOpsTotal.WithLabelValues("get", "miss").Inc()
		if h.allLayersOpen() {
			apierror.WriteJSON(w, r, http.StatusServiceUnavailable, apierror.CacheCircuitOpenAllLayers, "all cache layers have open circuit breakers")
			return
		}
		apierror.WriteJSON(w, r, http.StatusNotFound, apierror.CacheMiss, "key not found in any cache layer")
		return
	}

	metrics.CacheOpsTotal.WithLabelValues("get", "hit").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value})
}

func (h *cacheHandler) put(w http.ResponseWriter, r *http.Request, key string) {
	var req putRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.CacheInvalidKey, "request body must be valid JSON")
		return
	}

	start := time.Now()
	ttl := time.Duration(req.TTLSeconds) * time.Second

	var stored bool
	var err error
	if len(req.Tags) > 0 {
		dep := tagdep.New(h.tagStore, req.Tags)
		stored, err = h.coordinator.SetWithDependency(r.Context(), key, req.Value, ttl, dep)
	} else {
		stored, err = h.coordinator.Set(r.Context(), key, req.Value, ttl)
	}
	metrics.OperationDuration.WithLabelValues("set").Observe(time.Since(start).Seconds())

	if err != nil {
		h.logger.Error("cache set failed", "key", key, "error", err)
		metrics.CacheOpsTotal.WithLabelValues("set", "fail").Inc()
		apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.CacheInternalError, "failed to write value")
		return
	}

	outcome := "success"
	if !stored {
		outcome = "fail"
	}
	metrics.CacheOpsTotal.WithLabelValues("set", outcome).Inc()
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "stored": stored})
}

func (h *cacheHandler) delete(w http.ResponseWriter, r *http.Request, key string) {
	start := time.Now()
	removed := h.coordinator.Delete(r.Context(), key)
	metrics.OperationDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds())

	outcome := "success"
	if !removed {
		outcome = "miss"
	}
	metrics.CacheOpsTotal.WithLabelValues("delete", outcome).Inc()
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "removed": removed})
}

func (h *cacheHandler) allLayersOpen() bool {
	statuses := h.coordinator.GetLayerStatus()
	if len(statuses) == 0 {
		return false
	}
	for _, s := range statuses {
		if s.BreakerState != "open" {
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// reportLayerState polls the coordinator's layer status on an interval
// and publishes it to the circuit breaker gauges/counters, since the core
// library deliberately owns no metrics sink itself.
func reportLayerState(coordinator *tieredcache.Coordinator, stop <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	last := map[int]string{}
	for {
		select {
		case <-ticker.C:
			for _, s := range coordinator.GetLayerStatus() {
				layer := fmt.Sprintf("%d", s.Index)
				metrics.CircuitBreakerState.WithLabelValues(layer).Set(metrics.BreakerStateValue(s.BreakerState))
				if prev, ok := last[s.Index]; ok && prev != s.BreakerState {
					metrics.CircuitBreakerStateChanges.WithLabelValues(layer, prev, s.BreakerState).Inc()
				}
				last[s.Index] = s.BreakerState
			}
		case <-stop:
			return
		}
	}
}

// buildLogger constructs the slog.Logger the server and coordinator
// share, writing to stdout/stderr or a rotating file per cfg.Logging.
func buildLogger(cfg config.LoggingConfig) (*slog.Logger, func(), error) {
	switch cfg.Output {
	case "", "stdout":
		return slog.New(slog.NewJSONHandler(os.Stdout, nil)), func() {}, nil
	case "stderr":
		return slog.New(slog.NewJSONHandler(os.Stderr, nil)), func() {}, nil
	default:
		writer, err := logging.NewRotatingWriter(cfg.Output, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log output: %w", err)
		}
		return slog.New(slog.NewJSONHandler(writer, nil)), func() { writer.Close() }, nil
	}
}

func tlsMinVersion(v string) uint16 {
	if v == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

// Run loads configuration from configPath, assembles the cache server,
// and serves until SIGINT/SIGTERM, shutting down gracefully. It is the
// body of cmd/cacheserver's main function, factored out so it can be
// exercised by tests without an os.Exit boundary.
func Run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closeLogger, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLogger()

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "warning", w)
	}

	metrics.Init()

	coordinator, tagStore, err := BuildCoordinator(cfg, logger)
	if err != nil {
		return err
	}

	handler := BuildHandler(cfg, coordinator, tagStore, logger)

	reloader := config.NewReloader(configPath, cfg, logger)
	reloader.OnReload(func(newCfg *config.Config) {
		for i, lc := range newCfg.Layers {
			coordinator.UpdateLayerConfig(i, lc.TTL(), breakerConfigFrom(lc.CircuitBreaker))
		}
	})
	reloader.Start()
	defer reloader.Stop()

	stopReporter := make(chan struct{})
	go reportLayerState(coordinator, stopReporter)
	defer close(stopReporter)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Server.TLS.Enabled {
		certLoader, err := tlsutil.New(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile, logger)
		if err != nil {
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		defer certLoader.Stop()
		srv.TLSConfig = &tls.Config{
			GetCertificate: certLoader.GetCertificate,
			MinVersion:     tlsMinVersion(cfg.Server.TLS.MinVersion),
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("cache server listening", "addr", srv.Addr, "tls", cfg.Server.TLS.Enabled)
		var err error
		if cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return err
	}
	logger.Info("cache server stopped")
	return nil
}
