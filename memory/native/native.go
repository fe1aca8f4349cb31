// Package native allocates memory straight from the operating system.
//
// Every block is its own anonymous mapping rounded up to the page size, so the
// memory is zeroed, page-aligned (which satisfies memory.Alignment) and invisible
// to the Go collector. There is no caching: Free unmaps immediately. Allocators
// higher in the stack call into this one when they need real memory.
//
// Platform support:
//
//	linux          mmap / mremap(MREMAP_MAYMOVE) / munmap
//	other unix     mmap / munmap, resize by map-copy-unmap
//	windows        VirtualAlloc / VirtualFree, resize by map-copy-unmap
//	everything else pinned Go heap slices
package native

import (
	"errors"
	"fmt"
	"sync"

	"github.com/joshuapare/memkit/internal/buf"
	"github.com/joshuapare/memkit/internal/logger"
	"github.com/joshuapare/memkit/memory"
)

// mapping is one live block.
type mapping struct {
	data []byte // the whole mapping as returned by sysMap
	size int    // size the caller asked for
}

// Allocator is the native memory allocator. It is safe for concurrent use.
type Allocator struct {
	pageSize int

	mu   sync.Mutex
	live map[uintptr]*mapping

	stats memory.Counters
}

var _ memory.Allocator = (*Allocator)(nil)
var _ memory.Releaser = (*Allocator)(nil)

// New creates a native allocator with its own table of live mappings.
func New() *Allocator {
	return &Allocator{
		pageSize: sysPageSize(),
		live:     make(map[uintptr]*mapping),
	}
}

// Allocate maps a zeroed block of at least size bytes. Allocate(0) maps one page.
func (a *Allocator) Allocate(size int) (uintptr, error) {
	if size < 0 {
		return 0, fmt.Errorf("native: allocate %d bytes: %w", size, memory.ErrNegativeSize)
	}
	length, ok := a.roundToPages(size)
	if !ok {
		return 0, fmt.Errorf("native: allocate %d bytes: %w", size, memory.ErrOutOfMemory)
	}

	data, err := sysMap(length)
	if err != nil {
		return 0, fmt.Errorf("native: map %d bytes: %w: %w", length, memory.ErrOutOfMemory, err)
	}
	addr := buf.Address(data)

	a.mu.Lock()
	a.live[addr] = &mapping{data: data, size: size}
	a.mu.Unlock()

	a.stats.SelfAlloc(length)
	a.stats.ClientAlloc(size)
	return addr, nil
}

// TryRealloc resizes the block at ptr to maxSize bytes.
//
// When maxSize still fits the pages already mapped the block stays where it is.
// Otherwise the mapping is resized, which may move it. Failure leaves the original
// mapping intact.
func (a *Allocator) TryRealloc(ptr uintptr, minSize, maxSize int) memory.ReallocResult {
	if !memory.ValidRealloc(ptr, minSize, maxSize) {
		return memory.NotSuccess
	}
	length, ok := a.roundToPages(maxSize)
	if !ok {
		return memory.NotSuccess
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	m, ok := a.live[ptr]
	if !ok {
		return memory.NotSuccess
	}

	if length == len(m.data) {
		a.stats.ClientFree(m.size)
		a.stats.ClientAlloc(maxSize)
		m.size = maxSize
		return memory.ReallocResult{Ptr: ptr, ActualSize: maxSize}
	}

	data, err := sysRemap(m.data, length)
	if err != nil {
		logger.Debug("native: remap failed", "ptr", ptr, "from", len(m.data), "to", length, "err", err)
		return memory.NotSuccess
	}
	addr := buf.Address(data)

	a.stats.SelfFree(len(m.data))
	a.stats.SelfAlloc(length)
	a.stats.ClientFree(m.size)
	a.stats.ClientAlloc(maxSize)

	delete(a.live, ptr)
	a.live[addr] = &mapping{data: data, size: maxSize}
	return memory.ReallocResult{Ptr: addr, ActualSize: maxSize}
}

// Free unmaps the block at ptr. Free(0) is a no-op; an address this allocator
// did not issue returns memory.ErrBadPointer.
func (a *Allocator) Free(ptr uintptr) error {
	if ptr == 0 {
		return nil
	}

	a.mu.Lock()
	m, ok := a.live[ptr]
	if ok {
		delete(a.live, ptr)
	}
	a.mu.Unlock()

	if !ok {
		return fmt.Errorf("native: free %#x: %w", ptr, memory.ErrBadPointer)
	}
	return a.release(m)
}

// FreeAll unmaps every live block.
func (a *Allocator) FreeAll() error {
	a.mu.Lock()
	live := a.live
	a.live = make(map[uintptr]*mapping)
	a.mu.Unlock()

	var errs []error
	for _, m := range live {
		if err := a.release(m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *Allocator) release(m *mapping) error {
	length := len(m.data)
	if err := sysUnmap(m.data); err != nil {
		return fmt.Errorf("native: unmap %d bytes: %w", length, err)
	}
	a.stats.SelfFree(length)
	a.stats.ClientFree(m.size)
	return nil
}

// MetadataOverhead is zero: bookkeeping lives in a side table, not in the block.
func (a *Allocator) MetadataOverhead() int { return 0 }

// Stats reports mapped bytes as "self" and requested bytes as "client".
func (a *Allocator) Stats() memory.Stats { return a.stats.Snapshot() }

// Live returns the number of blocks currently mapped.
func (a *Allocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// PageSize returns the mapping granularity.
func (a *Allocator) PageSize() int { return a.pageSize }

// roundToPages returns the mapping length for a request of size bytes.
func (a *Allocator) roundToPages(size int) (int, bool) {
	return buf.AlignUp(max(size, 1), a.pageSize)
}

// copyRemap resizes a mapping by mapping a new one, copying, and unmapping the old.
func copyRemap(old []byte, length int) ([]byte, error) {
	data, err := sysMap(length)
	if err != nil {
		return nil, err
	}
	copy(data, old)
	if err := sysUnmap(old); err != nil {
		logger.Warn("native: unmap after copy failed", "len", len(old), "err", err)
	}
	return data, nil
}
