package governor

import (
	"context"
	"sync"
)

// Pool is a context-aware counting semaphore whose capacity can be resized
// at runtime. Waiters queued before a resize are not lost: growing the pool
// admits them immediately, shrinking it lets in-flight work drain naturally
// before the lower bound takes effect.
type Pool struct {
	mu      sync.Mutex
	limit   int
	inUse   int
	waiters []chan struct{}
}

// NewPool creates a pool admitting up to limit concurrent holders.
// A non-positive limit is treated as 1.
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{limit: limit}
}

// Acquire blocks until a slot is free or the context is done.
func (p *Pool) Acquire(ctx context.Context) error {
	p.mu.Lock()
	if p.inUse < p.limit {
		p.inUse++
		p.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	p.waiters = append(p.waiters, ready)
	p.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		// The wake may have raced the cancellation; if the slot was already
		// granted, hand it back.
		select {
		case <-ready:
			p.releaseLocked()
		default:
			p.removeWaiterLocked(ready)
		}
		p.mu.Unlock()
		return ctx.Err()
	}
}

// Release returns a slot to the pool, waking a waiter if capacity allows.
func (p *Pool) Release() {
	p.mu.Lock()
	p.releaseLocked()
	p.mu.Unlock()
}

// Resize changes the pool capacity. Growing wakes queued waiters; shrinking
// never interrupts holders, the pool just stops admitting until in-flight
// work drains below the new limit. A non-positive limit is treated as 1.
func (p *Pool) Resize(limit int) {
	if limit < 1 {
		limit = 1
	}

	p.mu.Lock()
	p.limit = limit
	p.wakeLocked()
	p.mu.Unlock()
}

// Limit returns the current capacity.
func (p *Pool) Limit() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.limit
}

// InUse returns the number of currently held slots.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Waiting returns the number of queued waiters.
func (p *Pool) Waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

func (p *Pool) releaseLocked() {
	if p.inUse > 0 {
		p.inUse--
	}
	p.wakeLocked()
}

// wakeLocked admits queued waiters while capacity allows.
func (p *Pool) wakeLocked() {
	for len(p.waiters) > 0 && p.inUse < p.limit {
		ready := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.inUse++
		close(ready)
	}
}

func (p *Pool) removeWaiterLocked(ready chan struct{}) {
	for i, w := range p.waiters {
		if w == ready {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}
