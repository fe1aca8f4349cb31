// Package pool recycles allocator instances for short-lived scopes.
package pool

import (
	"log/slog"
	"sync"

	"github.com/joshuapare/memkit/internal/logger"
	"github.com/joshuapare/memkit/memory"
)

// DefaultMaxIdle bounds the idle stack when New is given a non-positive limit.
const DefaultMaxIdle = 16

// Poolable is an allocator that can be emptied for reuse.
type Poolable interface {
	memory.Allocator

	// Reset releases everything the instance holds so it can serve a new owner.
	Reset() error
}

// Metrics counts pool activity.
type Metrics struct {
	Created   int64 // Instances built by the factory
	Reused    int64 // Get calls served from the idle stack
	Returned  int64 // Return calls
	Discarded int64 // Returned instances dropped (pool full or Reset failed)
	Idle      int   // Instances waiting in the pool
}

// Pool hands out allocator instances, building new ones with a factory when
// no idle instance is available. It is safe for concurrent use.
//
// Unlike sync.Pool, idle instances are never dropped behind the caller's back:
// an allocator may own memory that must be released explicitly.
type Pool[A Poolable] struct {
	mu      sync.Mutex
	factory func() A
	idle    []A
	maxIdle int
	metrics Metrics
}

// New creates a pool. maxIdle <= 0 selects DefaultMaxIdle.
func New[A Poolable](factory func() A, maxIdle int) *Pool[A] {
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}
	return &Pool[A]{
		factory: factory,
		idle:    make([]A, 0, maxIdle),
		maxIdle: maxIdle,
	}
}

// Get returns an idle instance, or a new one.
func (p *Pool[A]) Get() A {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		a := p.idle[n-1]
		var zero A
		p.idle[n-1] = zero
		p.idle = p.idle[:n-1]
		p.metrics.Reused++
		p.mu.Unlock()
		return a
	}
	p.metrics.Created++
	created := p.metrics.Created
	p.mu.Unlock()

	if logger.Enabled(slog.LevelDebug) {
		logger.Debug("pool: constructing allocator", "created", created)
	}
	return p.factory()
}

// Return resets a and keeps it for a later Get. Instances that fail to reset, or
// that arrive when the pool is full, are dropped and the reset error is returned.
func (p *Pool[A]) Return(a A) error {
	err := a.Reset()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics.Returned++
	if err != nil || len(p.idle) >= p.maxIdle {
		p.metrics.Discarded++
		return err
	}
	p.idle = append(p.idle, a)
	return nil
}

// Drain drops every idle instance and returns them for disposal.
func (p *Pool[A]) Drain() []A {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.idle
	p.idle = make([]A, 0, p.maxIdle)
	return out
}

// Metrics returns a snapshot of the counters.
func (p *Pool[A]) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := p.metrics
	m.Idle = len(p.idle)
	return m
}
