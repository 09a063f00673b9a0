// Package resilience guards calls to external sources with a token bucket,
// a circuit breaker and jittered exponential backoff.
package resilience

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"job_harvester/internal/domain"
)

// TokenBucket is a per-source rate limiter. It starts full.
type TokenBucket struct {
	limiter *rate.Limiter
	timeout time.Duration
	now     func() time.Time
}

// NewTokenBucket allows bursts of capacity and refills at refillPerSecond.
// Acquire waits at most acquireTimeout for a token; zero means do not wait.
func NewTokenBucket(capacity int, refillPerSecond float64, acquireTimeout time.Duration) *TokenBucket {
	return NewTokenBucketWithClock(capacity, refillPerSecond, acquireTimeout, time.Now)
}

func NewTokenBucketWithClock(capacity int, refillPerSecond float64, acquireTimeout time.Duration, now func() time.Time) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	limit := rate.Limit(refillPerSecond)
	if refillPerSecond <= 0 {
		limit = rate.Inf
	}
	return &TokenBucket{
		limiter: rate.NewLimiter(limit, capacity),
		timeout: acquireTimeout,
		now:     now,
	}
}

// TryAcquire takes a token if one is available right now.
func (b *TokenBucket) TryAcquire() bool {
	return b.limiter.AllowN(b.now(), 1)
}

// Acquire takes a token, waiting up to the configured timeout. It fails with
// ErrRateLimitExceeded when no token frees up in time, and with the context
// error when ctx ends first. Token accounting follows the bucket's clock; the
// wait itself is a real timer.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	if b.timeout <= 0 {
		if b.TryAcquire() {
			return nil
		}
		return domain.ErrRateLimitExceeded
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := b.now()
	r := b.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	if r.OK() && delay == 0 {
		return nil
	}

	budget := b.timeout
	if deadline, ok := ctx.Deadline(); ok {
		budget = min(budget, time.Until(deadline))
	}
	// Fail fast when the next token lies beyond the budget.
	if !r.OK() || delay > budget {
		r.CancelAt(now)
		return fmt.Errorf("%w: no token within %s", domain.ErrRateLimitExceeded, b.timeout)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.CancelAt(b.now())
		return ctx.Err()
	}
}

// Tokens returns the tokens currently available.
func (b *TokenBucket) Tokens() float64 {
	return b.limiter.TokensAt(b.now())
}

func (b *TokenBucket) Capacity() int {
	return b.limiter.Burst()
}

func (b *TokenBucket) RefillRate() float64 {
	return float64(b.limiter.Limit())
}
