// Package ratelimit provides the throttling capability the network client
// applies before every REST request. It wraps Uber's token bucket limiter
// behind a small interface so feeds sharing one client also share one
// request budget, and tests can substitute a permissive limiter.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/ratelimit"
)

// Rate is a human-readable rate limit: Limit operations per Interval.
type Rate struct {
	Limit    int
	Interval time.Duration
}

// RateLimiter is the "may I proceed / wait" capability consumed by the
// network client. Wait blocks until an operation is permitted or the
// context is cancelled.
type RateLimiter interface {
	Wait(ctx context.Context) error

	// SetLimit replaces the rate configuration at runtime.
	SetLimit(limit Rate) error
}

// uberLimiter implements RateLimiter with a token bucket.
type uberLimiter struct {
	limiter ratelimit.Limiter
	rate    Rate
}

// NewTokenBucketLimiter creates a rate limiter allowing rate.Limit
// operations per rate.Interval, smoothed into operations per second.
func NewTokenBucketLimiter(rate Rate) RateLimiter {
	rps := float64(rate.Limit) / rate.Interval.Seconds()
	if rps < 1 {
		rps = 1
	}
	return &uberLimiter{
		limiter: ratelimit.New(int(rps)),
		rate:    rate,
	}
}

// Wait implements RateLimiter.
func (l *uberLimiter) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait cancelled: %w", ctx.Err())
	default:
		l.limiter.Take()
		return nil
	}
}

// SetLimit implements RateLimiter.
func (l *uberLimiter) SetLimit(rate Rate) error {
	if rate.Limit <= 0 || rate.Interval <= 0 {
		return fmt.Errorf("invalid rate limit: %+v", rate)
	}
	rps := float64(rate.Limit) / rate.Interval.Seconds()
	if rps < 1 {
		rps = 1
	}
	l.limiter = ratelimit.New(int(rps))
	l.rate = rate
	return nil
}

// unlimited never blocks. Useful in tests and for exchanges whose limits
// are enforced elsewhere.
type unlimited struct{}

// NewUnlimited returns a RateLimiter that always permits immediately.
func NewUnlimited() RateLimiter { return unlimited{} }

func (unlimited) Wait(ctx context.Context) error {
	return ctx.Err()
}

func (unlimited) SetLimit(Rate) error { return nil }
