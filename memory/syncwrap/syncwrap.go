// Package syncwrap serializes access to allocators that are not safe for
// concurrent use.
//
// The capability of the inner allocator is fixed by the type parameter: a
// CacheableWrapper can only be built over a memory.CacheableAllocator and always
// forwards ClearCachedMemory, a Wrapper never exposes it.
package syncwrap

import (
	"sync"

	"github.com/joshuapare/memkit/memory"
)

// Wrapper guards every call into inner with one mutex.
type Wrapper[A memory.Allocator] struct {
	mu    sync.Mutex
	inner A
}

var _ memory.Allocator = (*Wrapper[memory.Allocator])(nil)

// New wraps inner. inner must not be used directly afterwards.
func New[A memory.Allocator](inner A) *Wrapper[A] {
	return &Wrapper[A]{inner: inner}
}

func (w *Wrapper[A]) Allocate(size int) (uintptr, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inner.Allocate(size)
}

// TryRealloc on a zero address fails without taking the lock.
func (w *Wrapper[A]) TryRealloc(ptr uintptr, minSize, maxSize int) memory.ReallocResult {
	if ptr == 0 {
		return memory.NotSuccess
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inner.TryRealloc(ptr, minSize, maxSize)
}

// Free(0) returns without taking the lock.
func (w *Wrapper[A]) Free(ptr uintptr) error {
	if ptr == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inner.Free(ptr)
}

func (w *Wrapper[A]) MetadataOverhead() int { return w.inner.MetadataOverhead() }

func (w *Wrapper[A]) Stats() memory.Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inner.Stats()
}

// Do runs fn with exclusive access to the inner allocator.
func (w *Wrapper[A]) Do(fn func(inner A)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(w.inner)
}

// Inner returns the wrapped allocator. Calls on it bypass the lock.
func (w *Wrapper[A]) Inner() A { return w.inner }

// CacheableWrapper is a Wrapper that also forwards ClearCachedMemory.
type CacheableWrapper[A memory.CacheableAllocator] struct {
	*Wrapper[A]
}

var _ memory.CacheableAllocator = CacheableWrapper[memory.CacheableAllocator]{}

// NewCacheable wraps a caching allocator.
func NewCacheable[A memory.CacheableAllocator](inner A) CacheableWrapper[A] {
	return CacheableWrapper[A]{Wrapper: New(inner)}
}

func (w CacheableWrapper[A]) ClearCachedMemory() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inner.ClearCachedMemory()
}
