package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements the same fixed-window contract as LocalBackend
// but against shared Redis storage, for horizontally scaled deployments
// where per-process counters would under-count (see spec §9: "swapable
// for an external store when horizontally scaled"). Grounded on the
// teacher's internal/redis/ratelimit.go pipeline usage, generalized from
// a sorted-set sliding window to the fixed-window counter the spec
// mandates: INCR the window key, set its TTL only on first increment so
// the window naturally expires.
type RedisBackend struct {
	rdb *redis.Client
}

// NewRedisBackend wraps an existing go-redis client.
func NewRedisBackend(rdb *redis.Client) *RedisBackend {
	return &RedisBackend{rdb: rdb}
}

func (b *RedisBackend) TryConsume(ctx context.Context, key string, limit int) (bool, int, int64, error) {
	windowKey := fmt.Sprintf("ratelimit:%s:%d", key, time.Now().Unix()/int64(windowSize.Seconds()))

	count, err := b.rdb.Incr(ctx, windowKey).Result()
	if err != nil {
		return false, 0, 0, fmt.Errorf("redis incr: %w", err)
	}
	if count == 1 {
		if err := b.rdb.Expire(ctx, windowKey, windowSize).Err(); err != nil {
			return false, 0, 0, fmt.Errorf("redis expire: %w", err)
		}
	}

	ttl, err := b.rdb.TTL(ctx, windowKey).Result()
	if err != nil {
		return false, 0, 0, fmt.Errorf("redis ttl: %w", err)
	}
	resetMs := time.Now().Add(ttl).UnixMilli()

	if int(count) > limit {
		return false, 0, resetMs, nil
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining, resetMs, nil
}
