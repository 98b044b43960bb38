package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Counter is the slice of the Redis client the fixed-window limiter
// actually drives; satisfied by *rediscache.Client, and narrow enough to
// fake in tests.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// RedisLimiter implements a fixed-window counter limiter backed by Redis,
// shared across every facilitator replica.
type RedisLimiter struct {
	cache    Counter
	requests int
	window   time.Duration
	prefix   string
}

// NewRedisLimiter builds a RedisLimiter allowing requests per window,
// keyed under "ratelimit:".
func NewRedisLimiter(cache Counter, requests int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{cache: cache, requests: requests, window: window, prefix: "ratelimit:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, Info, error) {
	redisKey := l.prefix + key

	count, err := l.cache.Incr(ctx, redisKey)
	if err != nil {
		return false, Info{}, fmt.Errorf("ratelimit: failed to increment counter: %w", err)
	}
	if count == 1 {
		if err := l.cache.Expire(ctx, redisKey, l.window); err != nil {
			return false, Info{}, fmt.Errorf("ratelimit: failed to set expiry: %w", err)
		}
	}

	ttl, err := l.cache.TTL(ctx, redisKey)
	if err != nil {
		ttl = l.window
	}

	info := Info{
		Limit:     l.requests,
		Remaining: max(0, l.requests-int(count)),
		Reset:     time.Now().Add(ttl),
	}

	if int(count) > l.requests {
		return false, info, nil
	}
	return true, info, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
