package memory

import "math/bits"

// Alignment is the minimum alignment of every address returned by Allocate:
// 16 bytes on 64-bit targets, 8 bytes otherwise.
const Alignment = 8 << (bits.UintSize / 64)

// Allocator is implemented by every allocator in the engine.
//
// Implementations:
//   - native.Allocator: OS mappings, thread-safe
//   - cache.Cache: size-classed TTL pool, not thread-safe
//   - arena.Arena: bulk-freeable tracking allocator, not thread-safe
//   - syncwrap.Wrapper: serializes any of the above
type Allocator interface {
	// Allocate returns the address of a zeroed block of at least size bytes.
	// Allocate(0) returns a valid, freeable address.
	Allocate(size int) (uintptr, error)

	// TryRealloc resizes the block at ptr to between minSize and maxSize bytes.
	// The block may move. On failure the result is NotSuccess and the original
	// block, its contents and its size are untouched.
	TryRealloc(ptr uintptr, minSize, maxSize int) ReallocResult

	// Free releases the block at ptr. Free(0) is a no-op.
	Free(ptr uintptr) error

	// MetadataOverhead is the number of bytes reserved in front of each returned address.
	MetadataOverhead() int

	// Stats returns a snapshot of the allocator's byte counters.
	Stats() Stats
}

// Cacheable is implemented by allocators that retain freed memory.
type Cacheable interface {
	// ClearCachedMemory releases every retained block to the backing allocator.
	ClearCachedMemory() error
}

// CacheableAllocator is an Allocator that can flush retained memory.
type CacheableAllocator interface {
	Allocator
	Cacheable
}

// Releaser is implemented by allocators that can free every live block at once.
type Releaser interface {
	// FreeAll frees every block still outstanding. Addresses issued earlier become invalid.
	FreeAll() error
}

// ReallocResult is the outcome of TryRealloc. Ptr == 0 signals failure.
type ReallocResult struct {
	Ptr        uintptr
	ActualSize int
}

// NotSuccess is the failed ReallocResult.
var NotSuccess = ReallocResult{}

// Success reports whether the resize happened.
func (r ReallocResult) Success() bool { return r.Ptr != 0 }

// ValidRealloc reports whether the size range passed to TryRealloc is usable.
func ValidRealloc(ptr uintptr, minSize, maxSize int) bool {
	return ptr != 0 && minSize >= 0 && maxSize >= minSize
}
