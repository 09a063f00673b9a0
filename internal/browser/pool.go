// Package browser pools headless browser pages for sources that need
// JavaScript rendering. A fixed set of instances is launched at startup and
// each multiplexes a fixed number of pages.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"job_harvester/internal/domain"
)

// Engine launches browser instances.
type Engine interface {
	Launch(ctx context.Context) (Instance, error)
}

// Instance is one running browser process.
type Instance interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a browser tab.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// WaitFor blocks until an element matching selector exists.
	WaitFor(ctx context.Context, selector string) error
	HTML(ctx context.Context) (string, error)
	Close() error
}

type PoolConfig struct {
	Instances        int
	PagesPerInstance int
	AcquireTimeout   time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Instances <= 0 {
		c.Instances = 2
	}
	if c.PagesPerInstance <= 0 {
		c.PagesPerInstance = 4
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	return c
}

// slot is one page position on an instance. The page is opened on first use
// and kept open across leases.
type slot struct {
	instance Instance
	page     Page
}

type Pool struct {
	cfg       PoolConfig
	instances []Instance
	slots     chan *slot
	inUse     atomic.Int64
	logger    *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// NewPool launches cfg.Instances browsers. If any launch fails the ones
// already started are closed.
func NewPool(ctx context.Context, engine Engine, cfg PoolConfig, logger *slog.Logger) (*Pool, error) {
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg:    cfg,
		slots:  make(chan *slot, cfg.Instances*cfg.PagesPerInstance),
		logger: logger.With("component", "browser_pool"),
		closed: make(chan struct{}),
	}

	for i := 0; i < cfg.Instances; i++ {
		inst, err := engine.Launch(ctx)
		if err != nil {
			for _, started := range p.instances {
				_ = started.Close()
			}
			return nil, fmt.Errorf("launch browser %d: %w", i, err)
		}
		p.instances = append(p.instances, inst)
		for j := 0; j < cfg.PagesPerInstance; j++ {
			p.slots <- &slot{instance: inst}
		}
	}

	p.logger.Info("browser pool started",
		"instances", cfg.Instances,
		"pages_per_instance", cfg.PagesPerInstance,
	)
	return p, nil
}

// Size is the total number of pages the pool can lend.
func (p *Pool) Size() int {
	return cap(p.slots)
}

// InUse is the number of pages currently leased.
func (p *Pool) InUse() int {
	return int(p.inUse.Load())
}

// Acquire leases a page, waiting up to the configured timeout. It fails with
// ErrPoolExhausted when none frees up in time. The lease must be released.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	select {
	case <-p.closed:
		return nil, domain.ErrPoolClosed
	default:
	}

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	var s *slot
	select {
	case s = <-p.slots:
	case <-timer.C:
		return nil, fmt.Errorf("%w: no page within %s", domain.ErrPoolExhausted, p.cfg.AcquireTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closed:
		return nil, domain.ErrPoolClosed
	}
	p.inUse.Add(1)

	if s.page == nil {
		page, err := s.instance.NewPage(ctx)
		if err != nil {
			p.checkin(s)
			return nil, fmt.Errorf("open page: %w", err)
		}
		s.page = page
	}

	return &Lease{pool: p, slot: s}, nil
}

// WithPage runs fn with a leased page and always returns it to the pool, also
// when fn panics. A page whose use failed is discarded so the next lease gets
// a fresh one.
func (p *Pool) WithPage(ctx context.Context, fn func(ctx context.Context, page Page) error) error {
	lease, err := p.Acquire(ctx)
	if err != nil {
		return err
	}

	ok := false
	defer func() {
		if ok {
			lease.Release()
		} else {
			lease.Discard()
		}
	}()

	if err := fn(ctx, lease.Page()); err != nil {
		return err
	}
	ok = true
	return nil
}

func (p *Pool) checkin(s *slot) {
	p.inUse.Add(-1)
	p.slots <- s
}

// Close waits for outstanding leases (until ctx ends), then closes every
// page and instance.
func (p *Pool) Close(ctx context.Context) error {
	var errs []error
	p.closeOnce.Do(func() {
		close(p.closed)

	drain:
		for i := 0; i < cap(p.slots); i++ {
			select {
			case s := <-p.slots:
				if s.page != nil {
					if err := s.page.Close(); err != nil {
						errs = append(errs, err)
					}
				}
			case <-ctx.Done():
				errs = append(errs, fmt.Errorf("wait for leases: %w", ctx.Err()))
				break drain
			}
		}

		for _, inst := range p.instances {
			if err := inst.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		p.logger.Info("browser pool closed")
	})
	return errors.Join(errs...)
}

// Lease is a checked-out page. Release and Discard are idempotent and only
// the first call takes effect.
type Lease struct {
	pool *Pool
	slot *slot
	once sync.Once
}

func (l *Lease) Page() Page {
	return l.slot.page
}

// Release returns the page to the pool for reuse.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.checkin(l.slot)
	})
}

// Discard closes the page and frees its slot; the next lease of the slot
// opens a new page.
func (l *Lease) Discard() {
	l.once.Do(func() {
		if err := l.slot.page.Close(); err != nil {
			l.pool.logger.Debug("close discarded page", "error", err)
		}
		l.slot.page = nil
		l.pool.checkin(l.slot)
	})
}
