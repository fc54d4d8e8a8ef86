package tieredcache_test

import (
	"context"
	"testing"
	"time"

	"github.com/pozitronik/tieredcache"
	"github.com/pozitronik/tieredcache/internal/backend/memory"
	"github.com/pozitronik/tieredcache/internal/dependency/tagdep"
)

// Tag invalidation via the reference tagdep.Dependency.
func TestScenario_TagInvalidation(t *testing.T) {
	store := tagdep.NewTagStore()
	tagdep.RegisterFactory(store)

	l1, l2 := memory.New("l1"), memory.New("l2")
	coord, err := tieredcache.New(tieredcache.Options{Layers: []tieredcache.LayerConfig{{Backend: l1}, {Backend: l2}}})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	u1Dep := tagdep.New(store, []string{"users"})
	u2Dep := tagdep.New(store, []string{"users"})
	o1Dep := tagdep.New(store, []string{"orders"})

	if ok, err := coord.SetWithDependency(ctx, "u1", "D1", time.Hour, u1Dep); err != nil || !ok {
		t.Fatal(err)
	}
	if ok, err := coord.SetWithDependency(ctx, "u2", "D2", time.Hour, u2Dep); err != nil || !ok {
		t.Fatal(err)
	}
	if ok, err := coord.SetWithDependency(ctx, "o1", "O", time.Hour, o1Dep); err != nil || !ok {
		t.Fatal(err)
	}

	store.Bump("users")

	assertStale := func(key string) {
		t.Helper()
		_, dep, found := coord.Get(ctx, key)
		if !found {
			t.Fatalf("%s: expected a hit at the façade layer (invalidation is the host's job)", key)
		}
		if dep == nil {
			t.Fatalf("%s: expected dependency metadata", key)
		}
		changed, err := dep.IsChanged(ctx, dep.EvaluatedData())
		if err != nil {
			t.Fatal(err)
		}
		if !changed {
			t.Fatalf("%s: expected changed=true after tag bump", key)
		}
	}

	assertStale("u1")
	assertStale("u2")

	_, dep, found := coord.Get(ctx, "o1")
	if !found {
		t.Fatal("o1: expected hit")
	}
	changed, err := dep.IsChanged(ctx, dep.EvaluatedData())
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Fatal("o1: unrelated tag bump must not mark it changed")
	}
}
