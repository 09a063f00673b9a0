package resilience

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// SourceState is the observable resilience state of one source.
type SourceState struct {
	SourceID            string        `json:"source_id"`
	Circuit             CircuitStatus `json:"-"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	OpenedAt            time.Time     `json:"opened_at,omitempty"`
	NextProbeAt         time.Time     `json:"next_probe_at,omitempty"`
	Tokens              float64       `json:"tokens"`
	Capacity            int           `json:"capacity"`
	RefillPerSecond     float64       `json:"refill_per_second"`
}

// Set holds one Guard per source. Guards are created on first use from the
// source's registered policy, or the default one.
type Set struct {
	mu       sync.Mutex
	guards   map[string]*Guard
	policies map[string]Policy
	def      Policy
	logger   *slog.Logger
	now      func() time.Time
	onChange func(sourceID string, from, to CircuitStatus)
}

func NewSet(def Policy, logger *slog.Logger) *Set {
	return NewSetWithClock(def, logger, time.Now)
}

func NewSetWithClock(def Policy, logger *slog.Logger, now func() time.Time) *Set {
	return &Set{
		guards:   make(map[string]*Guard),
		policies: make(map[string]Policy),
		def:      def,
		logger:   logger.With("component", "resilience"),
		now:      now,
	}
}

// OnStateChange registers a callback for circuit transitions of guards
// created after the call.
func (s *Set) OnStateChange(fn func(sourceID string, from, to CircuitStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// SetPolicy overrides the policy for sourceID. It has no effect on a guard
// that already exists.
func (s *Set) SetPolicy(sourceID string, p Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[sourceID] = p
}

// Guard returns the guard for sourceID, creating it if needed.
func (s *Set) Guard(sourceID string) *Guard {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g, ok := s.guards[sourceID]; ok {
		return g
	}

	p, ok := s.policies[sourceID]
	if !ok {
		p = s.def
	}
	if onChange := s.onChange; onChange != nil {
		user := p.Breaker.OnStateChange
		p.Breaker.OnStateChange = func(from, to CircuitStatus) {
			onChange(sourceID, from, to)
			if user != nil {
				user(from, to)
			}
		}
	}

	g := newGuard(sourceID, p, s.logger, s.now)
	s.guards[sourceID] = g
	return g
}

// States returns a snapshot of every guard, sorted by source id.
func (s *Set) States() []SourceState {
	s.mu.Lock()
	guards := make([]*Guard, 0, len(s.guards))
	for _, g := range s.guards {
		guards = append(guards, g)
	}
	s.mu.Unlock()

	states := make([]SourceState, 0, len(guards))
	for _, g := range guards {
		states = append(states, g.State())
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].SourceID < states[j].SourceID
	})
	return states
}
