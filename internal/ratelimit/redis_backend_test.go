package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisBackend(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewRedisBackend(rdb), mr
}

func TestRedisBackend_AllowsUpToLimit(t *testing.T) {
	b, _ := newTestRedisBackend(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, _, err := b.TryConsume(ctx, "client-x", 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	allowed, remaining, _, err := b.TryConsume(ctx, "client-x", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("3rd request should be rejected")
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
}

func TestRedisBackend_IndependentKeys(t *testing.T) {
	b, _ := newTestRedisBackend(t)
	ctx := context.Background()

	b.TryConsume(ctx, "a", 1)
	allowed, _, _, err := b.TryConsume(ctx, "b", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatal("separate key should have its own counter")
	}
}
