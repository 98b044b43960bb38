package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter is a process-local token-bucket limiter, used as the
// degraded-mode fallback when Redis is unreachable (§4.12's "degraded"
// health status): requests are still bounded, just not coordinated across
// replicas.
type MemoryLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	requests int
	window   time.Duration
}

// NewMemoryLimiter builds a MemoryLimiter allowing requests per window per
// key, approximated as a token bucket refilling at requests/window.
func NewMemoryLimiter(requests int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limiters: make(map[string]*rate.Limiter),
		requests: requests,
		window:   window,
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, Info, error) {
	limiter := l.limiterFor(key)
	allowed := limiter.Allow()

	info := Info{
		Limit:     l.requests,
		Remaining: int(limiter.Tokens()),
		Reset:     time.Now().Add(l.window),
	}
	if info.Remaining < 0 {
		info.Remaining = 0
	}
	return allowed, info, nil
}

func (l *MemoryLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.limiters[key]; ok {
		return existing
	}
	ratePerSecond := rate.Limit(float64(l.requests) / l.window.Seconds())
	limiter := rate.NewLimiter(ratePerSecond, l.requests)
	l.limiters[key] = limiter
	return limiter
}
