package tieredcache

import (
	"context"
	"fmt"
	"sync"
)

// Dependency is the host framework's invalidation primitive, consumed
// (not reimplemented) by this package. A Dependency carries public
// configuration plus an evaluated snapshot of the world at write time;
// on read, the host framework compares that snapshot against a fresh
// evaluation to decide whether a cached entry is still fresh.
//
// Only this minimal two-method contract is required by the coordinator.
// The generic tag-dependency primitive itself (e.g. "invalidate every
// key written with tag X") lives in the host framework; see
// internal/dependency/tagdep for a reference implementation used by
// this repository's own tests and demo server.
type Dependency interface {
	// ClassName identifies the concrete dependency variant, used to
	// pick the right factory in Recreate.
	ClassName() string
	// Config returns the dependency's public, non-static configuration
	// fields, excluding the evaluated-data field itself (e.g. the list
	// of tags a tag-dependency watches).
	Config() map[string]any
	// EvaluatedData returns the dependency's evaluated snapshot as of
	// the last call to Evaluate, or the value it was constructed with.
	EvaluatedData() any
	// Evaluate recomputes EvaluatedData against the current world
	// (e.g. reads current per-tag bump timestamps) and returns it
	// without mutating the receiver.
	Evaluate(ctx context.Context) (any, error)
	// IsChanged reports whether the given (write-time) evaluated data
	// differs from the dependency's current evaluation.
	IsChanged(ctx context.Context, evaluatedData any) (bool, error)
}

// DependencyFactory instantiates a Dependency of a known class from its
// recorded config, directly restoring evaluatedData without
// re-evaluating. Registered per class via RegisterDependencyClass.
type DependencyFactory func(config map[string]any, evaluatedData any) Dependency

var (
	registryMu sync.RWMutex
	registry   = map[string]DependencyFactory{}
)

// RegisterDependencyClass registers the factory used to recreate
// dependencies of the given class name from a DependencyMetadata
// snapshot. Typically called from an init() in a package that provides
// a concrete Dependency implementation (see internal/dependency/tagdep).
func RegisterDependencyClass(className string, factory DependencyFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[className] = factory
}

func lookupDependencyFactory(className string) (DependencyFactory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[className]
	return f, ok
}

// DependencyMetadata is a serializable snapshot of a Dependency captured
// at write time: its class identifier, its public configuration, and its
// evaluated-data field. It supports Recreate, which restores a live
// Dependency object carrying the *original* evaluated data so the host
// framework's invalidation check can compare it against the current
// world.
type DependencyMetadata struct {
	ClassName     string
	Config        map[string]any
	EvaluatedData any
}

// FromDependency captures a DependencyMetadata snapshot of dep.
func FromDependency(dep Dependency) *DependencyMetadata {
	if dep == nil {
		return nil
	}
	return &DependencyMetadata{
		ClassName:     dep.ClassName(),
		Config:        dep.Config(),
		EvaluatedData: dep.EvaluatedData(),
	}
}

// Recreate instantiates a Dependency of the recorded class, populated
// with the recorded config, and directly restores EvaluatedData without
// re-evaluating it. Returns an error if no factory was registered for
// ClassName.
func (m *DependencyMetadata) Recreate() (Dependency, error) {
	if m == nil {
		return nil, nil
	}
	factory, ok := lookupDependencyFactory(m.ClassName)
	if !ok {
		return nil, fmt.Errorf("tieredcache: no dependency class registered for %q", m.ClassName)
	}
	return factory(m.Config, m.EvaluatedData), nil
}
