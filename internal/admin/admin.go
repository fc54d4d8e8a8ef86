// Package admin provides the cache server's admin HTTP surface: layer
// status inspection and the forceLayerOpen/forceLayerClose/
// resetCircuitBreakers operations, gated by IP allowlist and an
// optional JWT bearer scope.
package admin

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/pozitronik/tieredcache"
	"github.com/pozitronik/tieredcache/internal/auth"
	"github.com/pozitronik/tieredcache/internal/config"
)

// Coordinator is the subset of *tieredcache.Coordinator the admin
// surface depends on.
type Coordinator interface {
	GetLayerStatus() []tieredcache.LayerStatus
	ForceLayerOpen(i int)
	ForceLayerClose(i int)
	ResetCircuitBreakers()
}

// Handler serves the admin HTTP surface.
type Handler struct {
	coordinator Coordinator
	allowedNets []*net.IPNet
	logger      *slog.Logger
}

// New creates a new admin Handler. The allowlist CIDRs must be
// pre-validated (config validation ensures this).
func New(coordinator Coordinator, allowlist []string, logger *slog.Logger) *Handler {
	nets := make([]*net.IPNet, 0, len(allowlist))
	for _, cidr := range allowlist {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // already validated by config
		}
		nets = append(nets, ipNet)
	}
	return &Handler{coordinator: coordinator, allowedNets: nets, logger: logger}
}

// RegisterRoutes adds admin routes to the given mux. Every route is
// wrapped with IP-allowlist guarding (always) and with the JWT scope
// guard that RegisterRoutes builds from adminCfg via auth.Middleware
// (validation applies when admin.jwt_secret is configured).
func (h *Handler) RegisterRoutes(mux *http.ServeMux, adminCfg config.AdminConfig) {
	jwtGuard := auth.Middleware(adminCfg, h.logger)

	mux.Handle("GET /admin/layers", h.guard(jwtGuard(http.HandlerFunc(h.layersHandler))))
	mux.Handle("POST /admin/layers/{index}/open", h.guard(jwtGuard(http.HandlerFunc(h.forceOpenHandler))))
	mux.Handle("POST /admin/layers/{index}/close", h.guard(jwtGuard(http.HandlerFunc(h.forceCloseHandler))))
	mux.Handle("POST /admin/reset", h.guard(jwtGuard(http.HandlerFunc(h.resetHandler))))
}

// guard wraps a handler with IP allowlist checking, applied before the
// JWT guard so an unauthorized network never even reaches token
// validation.
func (h *Handler) guard(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r.RemoteAddr)
		if !h.isAllowed(ip) {
			h.logger.Warn("admin access denied", "client_ip", ip, "path", r.URL.Path)
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "Forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	}
}

func (h *Handler) isAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func (h *Handler) layersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"layers": h.coordinator.GetLayerStatus()})
}

func (h *Handler) forceOpenHandler(w http.ResponseWriter, r *http.Request) {
	h.layerAction(w, r, h.coordinator.ForceLayerOpen)
}

func (h *Handler) forceCloseHandler(w http.ResponseWriter, r *http.Request) {
	h.layerAction(w, r, h.coordinator.ForceLayerClose)
}

// layerAction dispatches a force-open/force-close admin action against the
// layer named by the {index} path value.
func (h *Handler) layerAction(w http.ResponseWriter, r *http.Request, action func(int)) {
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "layer index path segment must be an integer"})
		return
	}
	action(idx)
	writeJSON(w, http.StatusOK, map[string]any{"layers": h.coordinator.GetLayerStatus()})
}

func (h *Handler) resetHandler(w http.ResponseWriter, r *http.Request) {
	h.coordinator.ResetCircuitBreakers()
	writeJSON(w, http.StatusOK, map[string]any{"layers": h.coordinator.GetLayerStatus()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
