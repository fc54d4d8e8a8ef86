// Package health provides liveness and readiness probe HTTP handlers
// for the cache server.
package health

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pozitronik/tieredcache"
)

// Pre-serialized liveness response avoids json.Encoder allocation.
var livenessBody = []byte(`{"status":"ok"}` + "\n")

// Coordinator is the subset of *tieredcache.Coordinator the readiness
// probe depends on.
type Coordinator interface {
	GetLayerStatus() []tieredcache.LayerStatus
}

// Handler provides /health and /ready endpoints.
type Handler struct {
	coordinator Coordinator
	logger      *slog.Logger
}

// New creates a new health check Handler.
func New(coordinator Coordinator, logger *slog.Logger) *Handler {
	return &Handler{coordinator: coordinator, logger: logger}
}

// RegisterRoutes adds health check routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.liveness)
	mux.HandleFunc("/ready", h.readiness)
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(livenessBody) //nolint:errcheck
}

// readiness reports 503 only when every layer's circuit breaker is
// open — i.e. the cache has no tier left able to serve a request. A
// single healthy tier is enough to be ready.
func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	statuses := h.coordinator.GetLayerStatus()

	layers := make(map[string]string, len(statuses))
	allOpen := len(statuses) > 0
	for _, s := range statuses {
		layers[fmt.Sprintf("%d:%s", s.Index, s.BackendClass)] = s.BreakerState
		if s.BreakerState != "open" {
			allOpen = false
		}
	}

	httpStatus := http.StatusOK
	statusStr := "ready"
	if allOpen {
		httpStatus = http.StatusServiceUnavailable
		statusStr = "not ready"
		h.logger.Warn("readiness check failed: all cache layers open")
	}

	body, _ := json.Marshal(map[string]any{
		"status": statusStr,
		"layers": layers,
	})
	body = append(body, '\n')

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	w.Write(body) //nolint:errcheck
}
