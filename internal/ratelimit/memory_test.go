package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterAllowsUpToTheBurstThenRejects(t *testing.T) {
	limiter := NewMemoryLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		allowed, info, err := limiter.Allow(context.Background(), "10.0.0.1")
		require.NoError(t, err)
		require.True(t, allowed, "request %d should pass", i)
		require.Equal(t, 3, info.Limit)
	}

	allowed, info, err := limiter.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, 0, info.Remaining)
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewMemoryLimiter(1, time.Minute)

	allowed, _, err := limiter.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = limiter.Allow(context.Background(), "10.0.0.2")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = limiter.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	require.False(t, allowed)
}
