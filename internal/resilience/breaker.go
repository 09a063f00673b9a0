package resilience

import (
	"fmt"
	"sync"
	"time"

	"job_harvester/internal/domain"
)

// CircuitStatus is the breaker state.
type CircuitStatus int

const (
	CircuitClosed CircuitStatus = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitStatus) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int
	// Window bounds a failure streak: a failure arriving more than Window
	// after the previous one starts a new streak.
	Window time.Duration
	// CoolDown is how long the circuit stays open before one probe is let through.
	CoolDown time.Duration
	// OnStateChange is called with the lock held; it must not call back into the breaker.
	OnStateChange func(from, to CircuitStatus)
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Window:           10 * time.Minute,
		CoolDown:         time.Minute,
	}
}

// Breaker is a closed/open/half-open circuit breaker. In half-open exactly
// one probe is admitted; its outcome closes or re-opens the circuit.
type Breaker struct {
	mu            sync.Mutex
	cfg           BreakerConfig
	status        CircuitStatus
	failures      int
	lastFailureAt time.Time
	openedAt      time.Time
	probing       bool
	now           func() time.Time
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	return NewBreakerWithClock(cfg, time.Now)
}

func NewBreakerWithClock(cfg BreakerConfig, now func() time.Time) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = def.CoolDown
	}
	return &Breaker{cfg: cfg, status: CircuitClosed, now: now}
}

// Allow admits a call or fails with ErrCircuitOpen. A caller admitted in
// half-open holds the probe and must report its outcome.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.status {
	case CircuitOpen:
		next := b.openedAt.Add(b.cfg.CoolDown)
		if now.Before(next) {
			return fmt.Errorf("%w: next probe in %s", domain.ErrCircuitOpen, next.Sub(now).Round(time.Millisecond))
		}
		b.transition(CircuitHalfOpen)
		b.probing = true
		return nil
	case CircuitHalfOpen:
		if b.probing {
			return fmt.Errorf("%w: probe in flight", domain.ErrCircuitOpen)
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false
	if b.status != CircuitClosed {
		b.transition(CircuitClosed)
	}
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.failures > 0 && now.Sub(b.lastFailureAt) > b.cfg.Window {
		b.failures = 0
	}
	b.failures++
	b.lastFailureAt = now

	switch b.status {
	case CircuitHalfOpen:
		b.probing = false
		b.open(now)
	case CircuitClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.open(now)
		}
	}
}

// Release gives back a half-open probe without counting an outcome, for
// calls that failed for local reasons.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

func (b *Breaker) Status() CircuitStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// BreakerSnapshot is a point-in-time view of a Breaker.
type BreakerSnapshot struct {
	Status              CircuitStatus
	ConsecutiveFailures int
	OpenedAt            time.Time
	NextProbeAt         time.Time
}

func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := BreakerSnapshot{Status: b.status, ConsecutiveFailures: b.failures}
	if b.status != CircuitClosed {
		s.OpenedAt = b.openedAt
		s.NextProbeAt = b.openedAt.Add(b.cfg.CoolDown)
	}
	return s
}

func (b *Breaker) open(now time.Time) {
	b.openedAt = now
	b.transition(CircuitOpen)
}

func (b *Breaker) transition(to CircuitStatus) {
	if b.status == to {
		return
	}
	from := b.status
	b.status = to
	if to == CircuitClosed {
		b.failures = 0
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
