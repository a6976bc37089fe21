// Package ratelimit enforces the per-client fixed-window request cap.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/brightloom/notifyd/internal/model"
	"github.com/brightloom/notifyd/internal/store"
)

const windowSize = 60 * time.Second

// Result is the outcome of a rate-limit check.
type Result struct {
	Allowed      bool
	Limit        int
	Remaining    int
	ResetEpochMs int64
	Error        string
}

const (
	ErrInvalidAPIKey    = "INVALID_API_KEY"
	ErrClientInactive   = "CLIENT_INACTIVE"
	ErrLimitExceeded    = "RATE_LIMIT_EXCEEDED"
)

// Backend stores per-client counters. Implementations must serialize
// mutation and read per key and rotate the window atomically.
type Backend interface {
	// TryConsume increments the counter for key, resetting it if the
	// window has elapsed, and reports whether the request is allowed
	// along with the limit's current accounting.
	TryConsume(ctx context.Context, key string, limit int) (allowed bool, remaining int, resetEpochMs int64, err error)
}

// Limiter resolves an API key hash to a client and consults Backend for
// the fixed 60s window counter.
type Limiter struct {
	clients DefaultRateLimitLookup
	backend Backend
	logger  *zap.Logger
	defaultLimit int
}

// DefaultRateLimitLookup is the subset of Store the limiter needs.
type DefaultRateLimitLookup interface {
	FindClientByAPIKeyHash(ctx context.Context, hash string) (*model.ApiClient, error)
}

// New builds a Limiter over backend, looking up clients via clients.
func New(clients DefaultRateLimitLookup, backend Backend, defaultLimit int, logger *zap.Logger) *Limiter {
	return &Limiter{clients: clients, backend: backend, defaultLimit: defaultLimit, logger: logger}
}

// HashAPIKey returns the SHA-256 hex digest the store keys clients by.
func HashAPIKey(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// Check implements §4.2's check(api_key_hash) operation.
func (l *Limiter) Check(ctx context.Context, apiKeyHash string) (*Result, *model.ApiClient, error) {
	client, err := l.clients.FindClientByAPIKeyHash(ctx, apiKeyHash)
	if err != nil {
		if err == store.ErrNotFound {
			return &Result{Allowed: false, Error: ErrInvalidAPIKey}, nil, nil
		}
		return nil, nil, err
	}

	if !client.Active {
		return &Result{Allowed: false, Error: ErrClientInactive}, client, nil
	}

	limit := client.RateLimit
	if limit <= 0 {
		limit = l.defaultLimit
	}

	allowed, remaining, resetMs, err := l.backend.TryConsume(ctx, client.ID.String(), limit)
	if err != nil {
		return nil, client, err
	}

	res := &Result{Allowed: allowed, Limit: limit, Remaining: remaining, ResetEpochMs: resetMs}
	if !allowed {
		res.Error = ErrLimitExceeded
		l.logger.Warn("rate limit exceeded",
			zap.String("client_id", client.ID.String()),
			zap.Int("limit", limit),
		)
	}
	return res, client, nil
}

// localBucket is one client's in-process fixed window.
type localBucket struct {
	mu          sync.Mutex
	limit       int
	counter     int
	windowStart time.Time
}

// LocalBackend is the default process-local Backend, grounded on
// RateLimitService.java's synchronized bucket: a concurrent map of
// client id to a small mutex-guarded struct.
type LocalBackend struct {
	mu      sync.Mutex
	buckets map[string]*localBucket
}

// NewLocalBackend constructs an empty in-process backend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{buckets: make(map[string]*localBucket)}
}

func (b *LocalBackend) bucketFor(key string, limit int) *localBucket {
	b.mu.Lock()
	defer b.mu.Unlock()
	bucket, ok := b.buckets[key]
	if !ok {
		bucket = &localBucket{limit: limit, windowStart: time.Now()}
		b.buckets[key] = bucket
	}
	return bucket
}

func (b *LocalBackend) TryConsume(_ context.Context, key string, limit int) (bool, int, int64, error) {
	bucket := b.bucketFor(key, limit)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	bucket.limit = limit
	now := time.Now()
	if now.Sub(bucket.windowStart) >= windowSize {
		bucket.counter = 0
		bucket.windowStart = now
	}

	resetMs := bucket.windowStart.Add(windowSize).UnixMilli()

	if bucket.counter >= bucket.limit {
		remaining := bucket.limit - bucket.counter
		if remaining < 0 {
			remaining = 0
		}
		return false, remaining, resetMs, nil
	}

	bucket.counter++
	remaining := bucket.limit - bucket.counter
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining, resetMs, nil
}
