// Package arena provides an allocator that remembers every block it hands out so
// the whole set can be released in one call.
//
// An Arena forwards each request to a backing allocator (normally the shared
// cache) and records address -> size in a side table. Free removes the entry and
// forwards; FreeAll walks the table and forwards whatever callers never freed.
// After FreeAll, a Free for an address the arena no longer tracks is a no-op, so
// handles that outlived their scope do not double-free into the backing allocator.
//
// An Arena is not safe for concurrent use.
package arena

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/joshuapare/memkit/internal/logger"
	"github.com/joshuapare/memkit/memory"
)

// Arena is a bulk-freeable tracking allocator.
type Arena struct {
	backing memory.Allocator
	live    map[uintptr]int
	closed  bool
	stats   memory.Counters
}

var (
	_ memory.Allocator = (*Arena)(nil)
	_ memory.Releaser  = (*Arena)(nil)
)

// New creates an empty arena over backing.
func New(backing memory.Allocator) *Arena {
	return &Arena{
		backing: backing,
		live:    make(map[uintptr]int),
	}
}

func (a *Arena) Allocate(size int) (uintptr, error) {
	if a.closed {
		return 0, fmt.Errorf("arena: allocate: %w", memory.ErrClosed)
	}
	ptr, err := a.backing.Allocate(size)
	if err != nil {
		return 0, err
	}
	a.live[ptr] = size
	a.stats.SelfAlloc(size)
	a.stats.ClientAlloc(size)
	return ptr, nil
}

// TryRealloc forwards to the backing allocator. Untracked blocks are rejected.
func (a *Arena) TryRealloc(ptr uintptr, minSize, maxSize int) memory.ReallocResult {
	size, ok := a.live[ptr]
	if !ok || !memory.ValidRealloc(ptr, minSize, maxSize) {
		return memory.NotSuccess
	}
	res := a.backing.TryRealloc(ptr, minSize, maxSize)
	if !res.Success() {
		return res
	}

	delete(a.live, ptr)
	a.live[res.Ptr] = res.ActualSize
	a.stats.SelfFree(size)
	a.stats.ClientFree(size)
	a.stats.SelfAlloc(res.ActualSize)
	a.stats.ClientAlloc(res.ActualSize)
	return res
}

// Free releases one block. Addresses the arena does not track (never issued, or
// already released by FreeAll) are ignored.
func (a *Arena) Free(ptr uintptr) error {
	size, ok := a.live[ptr]
	if !ok {
		return nil
	}
	delete(a.live, ptr)
	if err := a.backing.Free(ptr); err != nil {
		return fmt.Errorf("arena: free %#x: %w", ptr, err)
	}
	a.stats.SelfFree(size)
	a.stats.ClientFree(size)
	return nil
}

// FreeAll releases every tracked block and empties the table. Every address the
// arena issued becomes invalid, whether or not a handle still refers to it.
func (a *Arena) FreeAll() error {
	if len(a.live) == 0 {
		return nil
	}
	n := len(a.live)

	var errs []error
	for ptr, size := range a.live {
		if err := a.backing.Free(ptr); err != nil {
			errs = append(errs, fmt.Errorf("arena: free %#x: %w", ptr, err))
			continue
		}
		a.stats.SelfFree(size)
		a.stats.ClientFree(size)
	}
	clear(a.live)

	if logger.Enabled(slog.LevelDebug) {
		logger.Debug("arena: bulk free", "blocks", n, "errors", len(errs))
	}
	return errors.Join(errs...)
}

// Reset frees everything so the arena can be reused.
func (a *Arena) Reset() error {
	if a.closed {
		return fmt.Errorf("arena: reset: %w", memory.ErrClosed)
	}
	return a.FreeAll()
}

// Close frees everything and rejects later allocations.
func (a *Arena) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	return a.FreeAll()
}

// Len is the number of tracked blocks.
func (a *Arena) Len() int { return len(a.live) }

// Owns reports whether ptr is a live block of this arena.
func (a *Arena) Owns(ptr uintptr) bool {
	_, ok := a.live[ptr]
	return ok
}

// Backing returns the allocator the arena forwards to.
func (a *Arena) Backing() memory.Allocator { return a.backing }

func (a *Arena) MetadataOverhead() int { return a.backing.MetadataOverhead() }

// Stats counts requested sizes. An arena holds nothing back, so self and client agree.
func (a *Arena) Stats() memory.Stats { return a.stats.Snapshot() }
