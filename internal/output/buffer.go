// Package output is the bounded hand-off between the coordinator and
// downstream consumers.
package output

import (
	"context"
	"sync"

	"job_harvester/internal/domain"
)

// DefaultSize is the buffer capacity used when none is configured.
const DefaultSize = 256

// Buffer is a bounded queue of emitted jobs. Emit blocks while the buffer is
// full, so a slow consumer pauses producers instead of growing memory.
type Buffer struct {
	ch   chan domain.NormalizedJob
	done chan struct{}

	mu       sync.Mutex
	closed   bool
	emitters sync.WaitGroup
}

func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Buffer{
		ch:   make(chan domain.NormalizedJob, size),
		done: make(chan struct{}),
	}
}

// Emit queues job. It returns ErrOutputClosed once the buffer is closed and
// ctx.Err() if ctx ends while waiting for space.
func (b *Buffer) Emit(ctx context.Context, job domain.NormalizedJob) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return domain.ErrOutputClosed
	}
	b.emitters.Add(1)
	b.mu.Unlock()
	defer b.emitters.Done()

	select {
	case b.ch <- job:
		return nil
	case <-b.done:
		return domain.ErrOutputClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C is the consumer side. It is closed after Close once pending emitters
// have returned; jobs already queued can still be read.
func (b *Buffer) C() <-chan domain.NormalizedJob {
	return b.ch
}

// Len is the number of queued jobs.
func (b *Buffer) Len() int {
	return len(b.ch)
}

func (b *Buffer) Cap() int {
	return cap(b.ch)
}

// Close stops accepting jobs. Blocked emitters fail with ErrOutputClosed.
func (b *Buffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.emitters.Wait()
	close(b.ch)
}
