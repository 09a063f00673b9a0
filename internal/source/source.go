// Package source defines the adapter contract every job board implements and
// the registry the coordinator reads enabled sources from.
package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"job_harvester/internal/domain"
)

//go:generate mockgen -source=source.go -destination=mocks/mocks.go -package=mocks

// Source fetches raw postings from one external board. Implementations fail
// with domain.SourceError values of kind ErrSourceUnavailable,
// ErrSourceRateLimited or ErrSourceProtocol, and keep no state shared with
// other sources.
type Source interface {
	ID() string
	Name() string
	Fetch(ctx context.Context, q domain.Query) ([]domain.RawPosting, error)
}

type entry struct {
	source  Source
	enabled bool
}

// Registry maps source ids to adapters. It is populated at startup and read
// concurrently afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds an enabled source under id, which must match src.ID().
func (r *Registry) Register(id string, src Source) error {
	if src.ID() != id {
		return fmt.Errorf("register %q: adapter reports id %q", id, src.ID())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; ok {
		return fmt.Errorf("register %q: %w", id, domain.ErrDuplicateSourceID)
	}
	r.entries[id] = &entry{source: src, enabled: true}
	return nil
}

// Get returns the source registered under id, enabled or not.
func (r *Registry) Get(id string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("get %q: %w", id, domain.ErrSourceNotFound)
	}
	return e.source, nil
}

// SetEnabled administratively enables or disables a source.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("set enabled %q: %w", id, domain.ErrSourceNotFound)
	}
	e.enabled = enabled
	return nil
}

// ListEnabled returns the enabled sources ordered by id.
func (r *Registry) ListEnabled() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		if e.enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	sources := make([]Source, 0, len(ids))
	for _, id := range ids {
		sources = append(sources, r.entries[id].source)
	}
	return sources
}

// Len is the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
