package leader

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Elector decides whether this replica may run detection ticks. Acquire is
// called once per tick and both takes and renews the lease.
type Elector interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Local is the single-replica elector: always the leader.
type Local struct{}

func (Local) Acquire(context.Context) (bool, error) { return true, nil }
func (Local) Release(context.Context) error         { return nil }

const DefaultKey = "anomaly:scheduler:leader"

var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisElector holds a lease key whose value is the instance id. The lease
// should outlive a tick interval so the leader keeps it between ticks.
type RedisElector struct {
	client redis.UniversalClient
	key    string
	id     string
	ttl    time.Duration
}

func NewRedisElector(client redis.UniversalClient, key, instanceID string, ttl time.Duration) *RedisElector {
	if key == "" {
		key = DefaultKey
	}
	return &RedisElector{client: client, key: key, id: instanceID, ttl: ttl}
}

func (e *RedisElector) Acquire(ctx context.Context) (bool, error) {
	ok, err := e.client.SetNX(ctx, e.key, e.id, e.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("leader acquire: %w", err)
	}
	if ok {
		return true, nil
	}
	renewed, err := renewScript.Run(ctx, e.client, []string{e.key}, e.id, e.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("leader renew: %w", err)
	}
	return renewed == 1, nil
}

func (e *RedisElector) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, e.client, []string{e.key}, e.id).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("leader release: %w", err)
	}
	return nil
}
