// Package tagdep provides a reference tieredcache.Dependency
// implementation supporting tag-based invalidation: a cached entry is
// considered stale once any of its tags has been bumped since the
// entry was written. It exists to exercise the Dependency contract in
// tests and in cmd/cacheserver; a host cache framework with its own
// tag-dependency primitive would register that instead.
package tagdep

import (
	"context"
	"sync"

	"github.com/pozitronik/tieredcache"
)

// ClassName is the identifier this package registers with
// tieredcache.RegisterDependencyClass.
const ClassName = "tagdep.TagDependency"

// TagStore records a monotonically increasing bump counter per tag
// string. Every TagDependency built over the same store sees its
// bumps, mirroring the host cache framework's dependency-invalidation
// primitive this package stands in for; separate stores are independent.
type TagStore struct {
	mu    sync.Mutex
	bumps map[string]int64
}

// NewTagStore creates an empty TagStore.
func NewTagStore() *TagStore {
	return &TagStore{bumps: make(map[string]int64)}
}

// Bump increments the bump counter for tag, invalidating every entry
// written with that tag before this call.
func (s *TagStore) Bump(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bumps[tag]++
}

// snapshot returns the current bump counters for the given tags.
func (s *TagStore) snapshot(tags []string) map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(tags))
	for _, t := range tags {
		out[t] = s.bumps[t]
	}
	return out
}

// TagDependency is a Dependency whose evaluated data is a snapshot of
// bump counters for a fixed set of tags. It is considered changed if
// any tag's live bump counter no longer matches the snapshot recorded
// at write time.
type TagDependency struct {
	store         *TagStore
	tags          []string
	evaluatedData map[string]int64
}

// New constructs a TagDependency over store watching tags, snapshotting
// the current bump counters immediately (equivalent to an implicit
// Evaluate at construction time).
func New(store *TagStore, tags []string) *TagDependency {
	d := &TagDependency{store: store, tags: append([]string(nil), tags...)}
	d.evaluatedData = store.snapshot(tags)
	return d
}

// ClassName implements tieredcache.Dependency.
func (d *TagDependency) ClassName() string { return ClassName }

// Config implements tieredcache.Dependency, returning the watched tag
// list — the dependency's only public, non-static configuration field.
func (d *TagDependency) Config() map[string]any {
	return map[string]any{"tags": append([]string(nil), d.tags...)}
}

// EvaluatedData implements tieredcache.Dependency.
func (d *TagDependency) EvaluatedData() any { return d.evaluatedData }

// Evaluate implements tieredcache.Dependency, re-snapshotting the live
// bump counters without mutating the receiver.
func (d *TagDependency) Evaluate(_ context.Context) (any, error) {
	return d.store.snapshot(d.tags), nil
}

// IsChanged implements tieredcache.Dependency: reports whether any
// watched tag's live bump counter differs from the given (write-time)
// evaluated data.
func (d *TagDependency) IsChanged(ctx context.Context, evaluatedData any) (bool, error) {
	written, ok := evaluatedData.(map[string]int64)
	if !ok {
		return true, nil
	}
	current, err := d.Evaluate(ctx)
	if err != nil {
		return false, err
	}
	currentMap := current.(map[string]int64)
	for tag, bumpAtWrite := range written {
		if currentMap[tag] != bumpAtWrite {
			return true, nil
		}
	}
	return false, nil
}

// RegisterFactory registers this package's dependency class with
// tieredcache so DependencyMetadata.Recreate can instantiate a
// TagDependency bound to store from a write-time snapshot. Call once
// per store at startup (typically from cmd/cacheserver's wiring code);
// unlike a package init(), this makes the store binding explicit since
// multiple TagStore instances may coexist in tests.
func RegisterFactory(store *TagStore) {
	tieredcache.RegisterDependencyClass(ClassName, func(config map[string]any, evaluatedData any) tieredcache.Dependency {
		tags := tagsFromConfig(config)
		data, _ := evaluatedData.(map[string]int64)
		return &TagDependency{store: store, tags: tags, evaluatedData: data}
	})
}

func tagsFromConfig(config map[string]any) []string {
	raw, ok := config["tags"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		tags := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
		return tags
	default:
		return nil
	}
}
