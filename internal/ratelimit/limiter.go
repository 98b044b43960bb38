// Package ratelimit implements the per-client rate limiting step of §4.11's
// middleware chain (rateLimit -> hookWhitelistCheck -> feeMinimumCheck ->
// handler).
package ratelimit

import (
	"context"
	"time"
)

// Info carries the rate limit state surfaced as X-RateLimit-* headers.
type Info struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Limiter decides whether a request identified by key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, Info, error)
}
