package memory

import (
	"context"
	"testing"
	"time"
)

func TestBackend_SetGet(t *testing.T) {
	b := New("memory-l1")
	ctx := context.Background()

	if err := b.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := b.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get: v=%v ok=%v err=%v", v, ok, err)
	}
	if v != "v" {
		t.Fatalf("expected %q, got %v", "v", v)
	}
}

func TestBackend_GetMiss(t *testing.T) {
	b := New("memory-l1")
	_, ok, err := b.Get(context.Background(), "missing")
	if err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestBackend_TTLExpiry(t *testing.T) {
	b := New("memory-l1")
	ctx := context.Background()
	if err := b.Set(ctx, "k", "v", 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	_, ok, _ := b.Get(ctx, "k")
	if ok {
		t.Fatal("expected key to have expired")
	}
	if b.Len() != 0 {
		t.Fatal("expected expired entry to be evicted on read")
	}
}

func TestBackend_AddOnlyIfAbsent(t *testing.T) {
	b := New("memory-l1")
	ctx := context.Background()

	stored, err := b.Add(ctx, "k", "first", 0)
	if err != nil || !stored {
		t.Fatalf("expected first Add to store, stored=%v err=%v", stored, err)
	}
	stored, err = b.Add(ctx, "k", "second", 0)
	if err != nil || stored {
		t.Fatalf("expected second Add to be rejected, stored=%v err=%v", stored, err)
	}
	v, _, _ := b.Get(ctx, "k")
	if v != "first" {
		t.Fatalf("expected original value retained, got %v", v)
	}
}

func TestBackend_AddAfterExpiry(t *testing.T) {
	b := New("memory-l1")
	ctx := context.Background()

	if _, err := b.Add(ctx, "k", "first", 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	stored, err := b.Add(ctx, "k", "second", 0)
	if err != nil || !stored {
		t.Fatalf("expected Add to succeed after expiry, stored=%v err=%v", stored, err)
	}
}

func TestBackend_Delete(t *testing.T) {
	b := New("memory-l1")
	ctx := context.Background()
	b.Set(ctx, "k", "v", 0) //nolint:errcheck

	removed, err := b.Delete(ctx, "k")
	if err != nil || !removed {
		t.Fatalf("expected delete to report removed, removed=%v err=%v", removed, err)
	}
	removed, err = b.Delete(ctx, "k")
	if err != nil || removed {
		t.Fatalf("expected second delete to report not removed, removed=%v err=%v", removed, err)
	}
}

func TestBackend_Flush(t *testing.T) {
	b := New("memory-l1")
	ctx := context.Background()
	b.Set(ctx, "a", 1, 0) //nolint:errcheck
	b.Set(ctx, "b", 2, 0) //nolint:errcheck

	ok, err := b.Flush(ctx)
	if err != nil || !ok {
		t.Fatalf("Flush: ok=%v err=%v", ok, err)
	}
	if b.Len() != 0 {
		t.Fatalf("expected empty backend after flush, len=%d", b.Len())
	}
}

func TestBackend_Peek(t *testing.T) {
	b := New("memory-l1")
	ctx := context.Background()
	b.Set(ctx, "k", "raw-value", 0) //nolint:errcheck

	v, ok := b.Peek("k")
	if !ok || v != "raw-value" {
		t.Fatalf("Peek: v=%v ok=%v", v, ok)
	}
	if _, ok := b.Peek("missing"); ok {
		t.Fatal("expected Peek miss for unset key")
	}
}

func TestBackend_Name(t *testing.T) {
	b := New("memory-l2")
	if b.Name() != "memory-l2" {
		t.Fatalf("expected name memory-l2, got %q", b.Name())
	}
}
