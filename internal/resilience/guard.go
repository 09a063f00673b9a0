package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"job_harvester/internal/domain"
)

// Policy is the resilience configuration for one source.
type Policy struct {
	Capacity        int
	RefillPerSecond float64
	AcquireTimeout  time.Duration
	Breaker         BreakerConfig
	MaxAttempts     int
	Backoff         Backoff
}

// Outcome describes how a guarded call went.
type Outcome struct {
	Attempts int
	Errors   []error
}

// Guard composes a source's token bucket, breaker and retry policy. Each
// attempt acquires a token, checks the circuit, invokes the call and records
// the outcome; transient failures are retried after a backoff.
type Guard struct {
	sourceID    string
	bucket      *TokenBucket
	breaker     *Breaker
	backoff     Backoff
	maxAttempts int
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewGuard(sourceID string, p Policy, logger *slog.Logger) *Guard {
	return newGuard(sourceID, p, logger, time.Now)
}

func newGuard(sourceID string, p Policy, logger *slog.Logger, now func() time.Time) *Guard {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Backoff.Base <= 0 {
		p.Backoff = NewBackoff(time.Second, 30*time.Second, 0.2)
	}
	return &Guard{
		sourceID:    sourceID,
		bucket:      NewTokenBucketWithClock(p.Capacity, p.RefillPerSecond, p.AcquireTimeout, now),
		breaker:     NewBreakerWithClock(p.Breaker, now),
		backoff:     p.Backoff,
		maxAttempts: p.MaxAttempts,
		logger:      logger.With("source", sourceID),
		sleep:       sleepCtx,
	}
}

// Execute runs fn under the guard. It returns the last error once retries are
// exhausted or a non-retryable error occurs. ErrCircuitOpen is returned
// without calling fn.
func (g *Guard) Execute(ctx context.Context, fn func(ctx context.Context) error) (Outcome, error) {
	var out Outcome

	for attempt := 1; ; attempt++ {
		out.Attempts = attempt
		err := g.attempt(ctx, fn)
		if err == nil {
			return out, nil
		}
		out.Errors = append(out.Errors, err)

		if errors.Is(err, domain.ErrCircuitOpen) {
			return out, err
		}
		if ctx.Err() != nil {
			return out, err
		}
		if !domain.IsRetryable(err) {
			g.logger.Warn("non-retryable failure", "attempt", attempt, "error", err)
			return out, err
		}
		if attempt >= g.maxAttempts {
			g.logger.Warn("retries exhausted", "attempts", attempt, "error", err)
			return out, fmt.Errorf("after %d attempts: %w", attempt, err)
		}

		delay := g.backoff.Delay(attempt)
		if hint := domain.RetryAfter(err); hint > delay {
			delay = min(hint, g.backoff.Max)
		}
		g.logger.Warn("fetch failed, retrying",
			"attempt", attempt,
			"backoff", delay,
			"error", err,
		)

		if err := g.sleep(ctx, delay); err != nil {
			return out, domain.Unavailable(g.sourceID, err)
		}
	}
}

func (g *Guard) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.bucket.Acquire(ctx); err != nil {
		if ctx.Err() != nil {
			return domain.Unavailable(g.sourceID, err)
		}
		return err
	}

	if err := g.breaker.Allow(); err != nil {
		return err
	}

	err := fn(ctx)
	switch {
	case err == nil:
		g.breaker.Success()
		return nil
	case errors.Is(err, domain.ErrPoolExhausted), errors.Is(err, domain.ErrPoolClosed),
		errors.Is(err, domain.ErrRateLimitExceeded):
		// Local resource limits say nothing about the source's health.
		g.breaker.Release()
		return err
	case ctx.Err() != nil && !errors.Is(err, domain.ErrSourceUnavailable):
		g.breaker.Failure()
		return domain.Unavailable(g.sourceID, err)
	default:
		g.breaker.Failure()
		return err
	}
}

// State returns the source's current resilience state.
func (g *Guard) State() SourceState {
	snap := g.breaker.Snapshot()
	return SourceState{
		SourceID:            g.sourceID,
		Circuit:             snap.Status,
		ConsecutiveFailures: snap.ConsecutiveFailures,
		OpenedAt:            snap.OpenedAt,
		NextProbeAt:         snap.NextProbeAt,
		Tokens:              g.bucket.Tokens(),
		Capacity:            g.bucket.Capacity(),
		RefillPerSecond:     g.bucket.RefillRate(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
