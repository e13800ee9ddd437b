package dedup

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"predixaai-anomaly/internal/anomaly"
)

func TestRedisCacheAllow(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	metric := "dedup-test-" + time.Now().Format("150405.000000")
	t.Cleanup(func() { client.Del(ctx, redisKeyPrefix+key(metric, anomaly.TypeSpike)) })

	cache := NewRedisCache(client)
	now := time.Now()
	ok, err := cache.Allow(ctx, metric, anomaly.TypeSpike, time.Minute, now)
	if err != nil || !ok {
		t.Fatalf("first candidate must pass: ok=%v err=%v", ok, err)
	}
	ok, err = cache.Allow(ctx, metric, anomaly.TypeSpike, time.Minute, now)
	if err != nil || ok {
		t.Fatalf("duplicate must be suppressed: ok=%v err=%v", ok, err)
	}
	last, found, err := cache.LastFired(ctx, metric, anomaly.TypeSpike)
	if err != nil || !found || last.UnixMilli() != now.UnixMilli() {
		t.Fatalf("unexpected last fired %v %v %v", last, found, err)
	}

	if err := cache.Release(ctx, metric, anomaly.TypeSpike, now); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = cache.Allow(ctx, metric, anomaly.TypeSpike, time.Minute, now.Add(time.Second))
	if err != nil || !ok {
		t.Fatalf("released pair must pass again: ok=%v err=%v", ok, err)
	}
}
