package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"predixaai-anomaly/internal/anomaly"
)

const redisKeyPrefix = "anomaly:dedup:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisCache shares cooldown entries across replicas. The entry TTL is the
// cooldown, so key presence means the pair fired less than cooldown ago.
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Allow(ctx context.Context, metric string, kind anomaly.AnomalyType, cooldown time.Duration, now time.Time) (bool, error) {
	if cooldown <= 0 {
		return true, nil
	}
	ok, err := c.client.SetNX(ctx, redisKeyPrefix+key(metric, kind), now.UnixMilli(), cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return ok, nil
}

func (c *RedisCache) Release(ctx context.Context, metric string, kind anomaly.AnomalyType, firedAt time.Time) error {
	err := releaseScript.Run(ctx, c.client, []string{redisKeyPrefix + key(metric, kind)}, firedAt.UnixMilli()).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("dedup release: %w", err)
	}
	return nil
}

// LastFired returns the recorded firing time for the pair, or false when no
// entry is live.
func (c *RedisCache) LastFired(ctx context.Context, metric string, kind anomaly.AnomalyType) (time.Time, bool, error) {
	ms, err := c.client.Get(ctx, redisKeyPrefix+key(metric, kind)).Int64()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms).UTC(), true, nil
}
