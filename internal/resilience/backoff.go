package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays: Base * 2^(attempt-1), spread by ±Jitter
// (a fraction of the delay) and capped at Max. The spread keeps many sources
// failing against one upstream from retrying in lockstep.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64

	// rand returns a value in [0, 1); nil uses math/rand/v2.
	rand func() float64
}

func NewBackoff(base, max time.Duration, jitter float64) Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return Backoff{Base: base, Max: max, Jitter: jitter}
}

// WithRand returns a copy drawing jitter from r.
func (b Backoff) WithRand(r func() float64) Backoff {
	b.rand = r
	return b
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}

	if b.Jitter > 0 {
		r := b.rand
		if r == nil {
			r = rand.Float64
		}
		d += d * b.Jitter * (2*r() - 1)
	}

	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
