package tieredcache

import "github.com/pozitronik/tieredcache/internal/breaker"

// BreakerStats mirrors the internal breaker's sliding-window snapshot
// for the admin surface.
type BreakerStats struct {
	Total       int     `json:"total"`
	Failures    int     `json:"failures"`
	FailureRate float64 `json:"failure_rate"`
}

// LayerStatus reports one tier's identity and breaker health, returned
// by Coordinator.GetLayerStatus. The json tags define the wire form the
// admin HTTP surface serves.
type LayerStatus struct {
	Index        int          `json:"index"`
	BackendClass string       `json:"class"`
	BreakerClass string       `json:"breaker_class"`
	BreakerState string       `json:"state"`
	Stats        BreakerStats `json:"stats"`
}

func statsFromBreaker(s breaker.Stats) BreakerStats {
	return BreakerStats{Total: s.Total, Failures: s.Failures, FailureRate: s.FailureRate}
}
