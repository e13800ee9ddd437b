package leader

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

func TestLocalIsAlwaysLeader(t *testing.T) {
	ok, err := Local{}.Acquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected leadership, got %v %v", ok, err)
	}
}

func TestRedisElectorSingleLeader(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	key := "anomaly:test:leader:" + time.Now().Format("150405.000000")
	t.Cleanup(func() { client.Del(ctx, key) })

	a := NewRedisElector(client, key, "a", time.Minute)
	b := NewRedisElector(client, key, "b", time.Minute)

	if ok, err := a.Acquire(ctx); err != nil || !ok {
		t.Fatalf("a should lead: %v %v", ok, err)
	}
	if ok, err := b.Acquire(ctx); err != nil || ok {
		t.Fatalf("b must not lead: %v %v", ok, err)
	}
	if ok, err := a.Acquire(ctx); err != nil || !ok {
		t.Fatalf("a should renew: %v %v", ok, err)
	}
	if err := b.Release(ctx); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}
	if ok, _ := b.Acquire(ctx); ok {
		t.Fatalf("non-owner release must not drop the lease")
	}
	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, err := b.Acquire(ctx); err != nil || !ok {
		t.Fatalf("b should lead after release: %v %v", ok, err)
	}
}
