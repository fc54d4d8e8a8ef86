// Package apierror provides a centralized error response format for the
// cache server's HTTP surface. The cache routes use WriteJSON to produce
// consistent, machine-readable error responses with stable error codes;
// the admin IP guard and the JWT middleware write their own plain
// {"error": ...} bodies without an error_code.
package apierror

import (
	"encoding/json"
	"net/http"
)

// ErrorCode is a machine-readable error classification string.
type ErrorCode string

// Cache server error codes. These form a public API contract — clients
// can program against these stable codes. Do not rename or remove
// existing codes.
const (
	CacheMiss                 ErrorCode = "CACHE_MISS"
	CacheCircuitOpenAllLayers ErrorCode = "CACHE_CIRCUIT_OPEN_ALL_LAYERS"
	CacheInvalidDependency    ErrorCode = "CACHE_INVALID_DEPENDENCY"
	CacheAdminForbidden       ErrorCode = "CACHE_ADMIN_FORBIDDEN"
	CacheAdminUnauthorized    ErrorCode = "CACHE_ADMIN_UNAUTHORIZED"
	CacheInvalidKey           ErrorCode = "CACHE_INVALID_KEY"
	CacheRequestCancelled     ErrorCode = "CACHE_REQUEST_CANCELLED"
	CacheInternalError        ErrorCode = "CACHE_INTERNAL_ERROR"
)

// ErrorResponse is the standardized error body.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Pre-serialized JSON bodies for the most common error responses. Avoids
// json.Encoder allocation on every error in the hot path. These do NOT
// include request_id since it varies per request.
var (
	preCacheMiss            = mustMarshal(http.StatusNotFound, CacheMiss, "key not found in any cache layer")
	preCircuitOpenAllLayers = mustMarshal(http.StatusServiceUnavailable, CacheCircuitOpenAllLayers, "all cache layers have open circuit breakers")
	preInvalidDependency    = mustMarshal(http.StatusBadRequest, CacheInvalidDependency, "dependency envelope is malformed or references an unregistered class")
	preAdminForbidden       = mustMarshal(http.StatusForbidden, CacheAdminForbidden, "client is not in the admin IP allowlist")
	preAdminUnauthorized    = mustMarshal(http.StatusUnauthorized, CacheAdminUnauthorized, "missing or invalid admin bearer token")
)

func mustMarshal(status int, code ErrorCode, message string) []byte {
	b, _ := json.Marshal(ErrorResponse{
		Error:     http.StatusText(status),
		ErrorCode: string(code),
		Message:   message,
	})
	return append(b, '\n')
}

// WriteJSON writes a structured JSON error response. For common error
// code+message combinations, pre-serialized bodies are used (no
// allocation). When request_id is available (from X-Request-ID header),
// it is included in the response. The request parameter may be nil for
// contexts where the request is not available.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, code ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	requestID := ""
	if r != nil {
		requestID = r.Header.Get("X-Request-ID")
	}

	if requestID == "" {
		if body := preSerialized(status, code, message); body != nil {
			w.Write(body) //nolint:errcheck
			return
		}
	}

	json.NewEncoder(w).Encode(ErrorResponse{ //nolint:errcheck
		Error:     http.StatusText(status),
		ErrorCode: string(code),
		Message:   message,
		RequestID: requestID,
	})
}

// preSerialized returns a pre-built response body for common error
// combinations, or nil if no match.
func preSerialized(status int, code ErrorCode, message string) []byte {
	switch {
	case code == CacheMiss && status == http.StatusNotFound && message == "key not found in any cache layer":
		return preCacheMiss
	case code == CacheCircuitOpenAllLayers && status == http.StatusServiceUnavailable && message == "all cache layers have open circuit breakers":
		return preCircuitOpenAllLayers
	case code == CacheInvalidDependency && status == http.StatusBadRequest && message == "dependency envelope is malformed or references an unregistered class":
		return preInvalidDependency
	case code == CacheAdminForbidden && status == http.StatusForbidden && message == "client is not in the admin IP allowlist":
		return preAdminForbidden
	case code == CacheAdminUnauthorized && status == http.StatusUnauthorized && message == "missing or invalid admin bearer token":
		return preAdminUnauthorized
	}
	return nil
}
