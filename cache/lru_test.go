package cache

import (
	"context"
	"testing"
	"time"
)

func TestLRUCache_GetSetMiss(t *testing.T) {
	c, err := NewLRUCache(LRUConfig{MaxItems: 4, DefaultTTL: time.Minute})
	if err != nil {
		t.Fatalf("NewLRUCache: %v", err)
	}
	ctx := context.Background()

	if _, ok, _ := c.Get(ctx, "missing"); ok {
		t.Fatal("expected miss for unseen key")
	}

	if err := c.Set(ctx, "a", Entry{Result: "1"}, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	entry, ok, err := c.Get(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if entry.Result != "1" {
		t.Fatalf("unexpected result: %v", entry.Result)
	}
}

func TestLRUCache_TTLExpiry(t *testing.T) {
	c, err := NewLRUCache(LRUConfig{MaxItems: 4})
	if err != nil {
		t.Fatalf("NewLRUCache: %v", err)
	}
	ctx := context.Background()

	base := time.Now()
	timeNow = func() time.Time { return base }
	defer func() { timeNow = time.Now }()

	if err := c.Set(ctx, "a", Entry{Result: "1"}, 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}

	timeNow = func() time.Time { return base.Add(9 * time.Millisecond) }
	if _, ok, _ := c.Get(ctx, "a"); !ok {
		t.Fatal("expected entry to still be live before its ttl has elapsed")
	}

	timeNow = func() time.Time { return base.Add(11 * time.Millisecond) }
	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Fatal("expected entry to be expired")
	}
}

func TestLRUCache_EvictsOldestAtCapacity(t *testing.T) {
	c, err := NewLRUCache(LRUConfig{MaxItems: 2, DefaultTTL: time.Minute})
	if err != nil {
		t.Fatalf("NewLRUCache: %v", err)
	}
	ctx := context.Background()

	_ = c.Set(ctx, "a", Entry{Result: "a"}, 0)
	_ = c.Set(ctx, "b", Entry{Result: "b"}, 0)
	_ = c.Set(ctx, "c", Entry{Result: "c"}, 0)

	size, _ := c.Size(ctx)
	if size != 2 {
		t.Fatalf("expected size 2, got %d", size)
	}
	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Fatal("expected oldest entry 'a' to have been evicted")
	}
	if _, ok, _ := c.Get(ctx, "c"); !ok {
		t.Fatal("expected newest entry 'c' to still be present")
	}
}

func TestLRUCache_ReinsertionOnReadProtectsFromEviction(t *testing.T) {
	c, err := NewLRUCache(LRUConfig{MaxItems: 2, DefaultTTL: time.Minute})
	if err != nil {
		t.Fatalf("NewLRUCache: %v", err)
	}
	ctx := context.Background()

	_ = c.Set(ctx, "a", Entry{Result: "a"}, 0)
	_ = c.Set(ctx, "b", Entry{Result: "b"}, 0)

	// Touch "a" so it becomes most-recently-used.
	if _, ok, _ := c.Get(ctx, "a"); !ok {
		t.Fatal("expected hit for 'a'")
	}

	_ = c.Set(ctx, "c", Entry{Result: "c"}, 0)

	if _, ok, _ := c.Get(ctx, "b"); ok {
		t.Fatal("expected 'b' to be the one evicted, not 'a'")
	}
	if _, ok, _ := c.Get(ctx, "a"); !ok {
		t.Fatal("expected 'a' to survive because it was re-touched")
	}
}

func TestLRUCache_DestroyIsIdempotentAndClears(t *testing.T) {
	c, err := NewLRUCache(LRUConfig{MaxItems: 4, CleanupInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("NewLRUCache: %v", err)
	}
	ctx := context.Background()
	_ = c.Set(ctx, "a", Entry{Result: "1"}, time.Minute)

	if err := c.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := c.Destroy(); err != nil {
		t.Fatalf("second Destroy should be a no-op, got: %v", err)
	}

	size, _ := c.Size(ctx)
	if size != 0 {
		t.Fatalf("expected empty cache after destroy, got size %d", size)
	}
}
