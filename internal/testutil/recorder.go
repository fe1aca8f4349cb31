// Package testutil holds helpers shared by allocator tests.
package testutil

import (
	"errors"
	"sync"

	"github.com/joshuapare/memkit/memory"
)

// ErrInjected is returned by a Recorder once its failure budget is spent.
var ErrInjected = errors.New("testutil: injected failure")

// Recorder decorates an allocator and counts the calls that reach it.
// It is safe for concurrent use when the inner allocator is.
type Recorder struct {
	inner memory.Allocator

	mu        sync.Mutex
	allocs    int
	frees     int
	reallocs  int
	failAfter int // -1 disables injection
	live      map[uintptr]int
}

var _ memory.Allocator = (*Recorder)(nil)

// NewRecorder wraps inner.
func NewRecorder(inner memory.Allocator) *Recorder {
	return &Recorder{
		inner:     inner,
		failAfter: -1,
		live:      make(map[uintptr]int),
	}
}

// FailAfter makes every Allocate after the next n return ErrInjected. A negative n
// turns injection off.
func (r *Recorder) FailAfter(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failAfter = n
}

func (r *Recorder) Allocate(size int) (uintptr, error) {
	r.mu.Lock()
	if r.failAfter == 0 {
		r.mu.Unlock()
		return 0, ErrInjected
	}
	if r.failAfter > 0 {
		r.failAfter--
	}
	r.mu.Unlock()

	ptr, err := r.inner.Allocate(size)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.allocs++
	r.live[ptr] = size
	r.mu.Unlock()
	return ptr, nil
}

func (r *Recorder) TryRealloc(ptr uintptr, minSize, maxSize int) memory.ReallocResult {
	res := r.inner.TryRealloc(ptr, minSize, maxSize)
	if !res.Success() {
		return res
	}

	r.mu.Lock()
	r.reallocs++
	delete(r.live, ptr)
	r.live[res.Ptr] = res.ActualSize
	r.mu.Unlock()
	return res
}

func (r *Recorder) Free(ptr uintptr) error {
	if err := r.inner.Free(ptr); err != nil {
		return err
	}
	if ptr == 0 {
		return nil
	}

	r.mu.Lock()
	r.frees++
	delete(r.live, ptr)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) MetadataOverhead() int { return r.inner.MetadataOverhead() }

func (r *Recorder) Stats() memory.Stats { return r.inner.Stats() }

// Allocs is the number of successful Allocate calls.
func (r *Recorder) Allocs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allocs
}

// Frees is the number of successful Free calls with a non-zero pointer.
func (r *Recorder) Frees() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frees
}

// Reallocs is the number of successful TryRealloc calls.
func (r *Recorder) Reallocs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reallocs
}

// Live is the number of blocks allocated through r and not yet freed.
func (r *Recorder) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}
