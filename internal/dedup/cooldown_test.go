package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"predixaai-anomaly/internal/anomaly"
)

func TestWithinCooldown(t *testing.T) {
	now := time.Now()
	if !WithinCooldown(now.Add(-5*time.Second), 10*time.Second, now) {
		t.Fatalf("expected within cooldown")
	}
	if WithinCooldown(now.Add(-10*time.Second), 10*time.Second, now) {
		t.Fatalf("cooldown boundary must be expired")
	}
}

func TestMemoryCacheWindowAndExpiry(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cooldown := 15 * time.Minute

	if ok, _ := cache.Allow(ctx, "cpu", anomaly.TypeSpike, cooldown, start); !ok {
		t.Fatalf("first candidate must pass")
	}
	if ok, _ := cache.Allow(ctx, "cpu", anomaly.TypeSpike, cooldown, start.Add(time.Minute)); ok {
		t.Fatalf("second candidate inside cooldown must be suppressed")
	}
	if ok, _ := cache.Allow(ctx, "cpu", anomaly.TypeDrop, cooldown, start.Add(time.Minute)); !ok {
		t.Fatalf("different anomaly type must pass")
	}
	if ok, _ := cache.Allow(ctx, "cpu", anomaly.TypeSpike, cooldown, start.Add(cooldown)); !ok {
		t.Fatalf("candidate after expiry must pass")
	}
	if ok, _ := cache.Allow(ctx, "cpu", anomaly.TypeSpike, cooldown, start.Add(cooldown+time.Minute)); ok {
		t.Fatalf("entry must be refreshed by the last pass")
	}
}

func TestMemoryCacheRelease(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if ok, _ := cache.Allow(ctx, "cpu", anomaly.TypeSpike, time.Hour, start); !ok {
		t.Fatalf("first candidate must pass")
	}
	if err := cache.Release(ctx, "cpu", anomaly.TypeSpike, start.Add(time.Second)); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := cache.Allow(ctx, "cpu", anomaly.TypeSpike, time.Hour, start.Add(time.Minute)); ok {
		t.Fatalf("release with a stale firing time must keep the entry")
	}
	if err := cache.Release(ctx, "cpu", anomaly.TypeSpike, start); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := cache.Allow(ctx, "cpu", anomaly.TypeSpike, time.Hour, start.Add(time.Minute)); !ok {
		t.Fatalf("released entry must let the next candidate through")
	}
}

func TestMemoryCacheConcurrentCheckAndSet(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	now := time.Now()
	var passed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := cache.Allow(ctx, "disk", anomaly.TypeSpike, time.Hour, now); ok {
				passed.Add(1)
			}
		}()
	}
	wg.Wait()
	if passed.Load() != 1 {
		t.Fatalf("expected exactly one pass, got %d", passed.Load())
	}
}

func TestMemoryCachePrune(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	now := time.Now()
	_, _ = cache.Allow(ctx, "a", anomaly.TypeSpike, time.Minute, now.Add(-2*time.Hour))
	_, _ = cache.Allow(ctx, "b", anomaly.TypeSpike, time.Minute, now)
	if removed := cache.Prune(now, time.Hour); removed != 1 {
		t.Fatalf("expected 1 pruned entry, got %d", removed)
	}
}
