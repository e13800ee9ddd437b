package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"predixaai-anomaly/internal/anomaly"
)

// Cache gates candidates per (metric, anomaly type). Allow reports whether a
// candidate observed at now may proceed and, when it may, records now as the
// last firing in the same atomic step. Release undoes that record when the
// alert could not be stored; it is a no-op if the entry has since changed.
type Cache interface {
	Allow(ctx context.Context, metric string, kind anomaly.AnomalyType, cooldown time.Duration, now time.Time) (bool, error)
	Release(ctx context.Context, metric string, kind anomaly.AnomalyType, firedAt time.Time) error
}

func WithinCooldown(last time.Time, cooldown time.Duration, now time.Time) bool {
	return now.Sub(last) < cooldown
}

func key(metric string, kind anomaly.AnomalyType) string {
	return fmt.Sprintf("%s|%s", metric, kind)
}

type MemoryCache struct {
	mu        sync.Mutex
	lastFired map[string]time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{lastFired: map[string]time.Time{}}
}

func (c *MemoryCache) Allow(_ context.Context, metric string, kind anomaly.AnomalyType, cooldown time.Duration, now time.Time) (bool, error) {
	k := key(metric, kind)
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.lastFired[k]; ok && WithinCooldown(last, cooldown, now) {
		return false, nil
	}
	c.lastFired[k] = now
	return true, nil
}

func (c *MemoryCache) Release(_ context.Context, metric string, kind anomaly.AnomalyType, firedAt time.Time) error {
	k := key(metric, kind)
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.lastFired[k]; ok && last.Equal(firedAt) {
		delete(c.lastFired, k)
	}
	return nil
}

// Prune drops entries whose cooldown has long expired. maxAge should be at
// least the largest configured cooldown.
func (c *MemoryCache) Prune(now time.Time, maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, last := range c.lastFired {
		if now.Sub(last) >= maxAge {
			delete(c.lastFired, k)
			removed++
		}
	}
	return removed
}
