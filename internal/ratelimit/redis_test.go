package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeCounter is an in-process stand-in for the Redis INCR/EXPIRE/TTL slice
// the fixed-window limiter uses.
type fakeCounter struct {
	counts  map[string]int64
	expires map[string]time.Duration
	incrErr error
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{counts: map[string]int64{}, expires: map[string]time.Duration{}}
}

func (f *fakeCounter) Incr(ctx context.Context, key string) (int64, error) {
	if f.incrErr != nil {
		return 0, f.incrErr
	}
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeCounter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	f.expires[key] = ttl
	return nil
}

func (f *fakeCounter) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, ok := f.expires[key]
	if !ok {
		return 0, errors.New("no ttl set")
	}
	return ttl, nil
}

func TestRedisLimiterCountsWithinTheFixedWindow(t *testing.T) {
	counter := newFakeCounter()
	limiter := NewRedisLimiter(counter, 2, time.Minute)

	allowed, info, err := limiter.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, 1, info.Remaining)
	// First increment sets the window expiry.
	require.Equal(t, time.Minute, counter.expires["ratelimit:10.0.0.1"])

	allowed, info, err = limiter.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, 0, info.Remaining)

	allowed, _, err = limiter.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestRedisLimiterPropagatesBackendErrors(t *testing.T) {
	counter := newFakeCounter()
	counter.incrErr = errors.New("connection refused")
	limiter := NewRedisLimiter(counter, 2, time.Minute)

	_, _, err := limiter.Allow(context.Background(), "10.0.0.1")
	require.Error(t, err)
}
