package tieredcache

import "errors"

// Configuration errors are returned by New when the coordinator cannot be
// constructed; the caller should treat these as fatal at startup.
var (
	// ErrNoLayers is returned when the layer vector is empty.
	ErrNoLayers = errors.New("tieredcache: at least one layer is required")
	// ErrNilBackend is returned when a layer has no backend.
	ErrNilBackend = errors.New("tieredcache: layer backend must not be nil")
	// ErrInvalidWriteStrategy is returned for an unrecognized WriteStrategy.
	ErrInvalidWriteStrategy = errors.New("tieredcache: invalid write strategy")
	// ErrInvalidRecoveryStrategy is returned for an unrecognized RecoveryStrategy.
	ErrInvalidRecoveryStrategy = errors.New("tieredcache: invalid recovery strategy")
)

// ErrInvalidDependencyEnvelope is a data-integrity error surfaced to the
// caller when SetEnvelope is given a [2]any{value, dependency} pair whose
// non-nil second element does not satisfy the Dependency interface (a
// programmer error, not a transient backend failure).
var ErrInvalidDependencyEnvelope = errors.New("tieredcache: dependency envelope must be nil or satisfy Dependency")
