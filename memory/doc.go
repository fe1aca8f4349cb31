// Package memory defines the contract shared by every allocator in memkit.
//
// # Overview
//
// memkit manages memory the Go collector never sees. Every block is referenced by a
// raw address (uintptr), so handles to it can be copied freely without keeping anything
// alive and without the collector scanning it. The price is manual lifetime management,
// which memkit organizes in layers:
//
//   - native: page-granular OS mappings, the source of truth for real memory
//   - cache: a size-classed, time-bounded pool in front of native memory
//   - arena: tracks everything it hands out so a scope can free it in one pass
//   - pool: recycles arenas between short-lived scopes
//   - syncwrap: a mutex decorator for allocators that are not thread-safe
//   - allocctx: the registry that maps provider ids to allocators and scopes
//   - owned: value-type handles implementing the Borrow/Take/Dispose protocol
//
// # Allocator Contract
//
//	Allocate(size)                  -> zeroed, Alignment-aligned address or error
//	TryRealloc(ptr, minSize, maxSize) -> ReallocResult; Ptr == 0 leaves ptr untouched
//	Free(ptr)                       -> Free(0) is always a no-op
//	MetadataOverhead()              -> bytes reserved in front of each returned address
//	Stats()                         -> self/client byte counters
//
// Capabilities beyond the core contract are separate interfaces (Cacheable, Releaser)
// that a concrete type either implements or not.
//
// # Provider IDs
//
// The sign of a ProviderID encodes scoping: positive ids are scoped (freed in bulk
// when a scope ends), negative ids are unscoped (freed individually). Ids 0, 1, -1 and
// -2 are reserved for the system; user ids start at 16 and -16.
//
// # Hazards
//
// Double free and use-after-free are not detected in general. The ownership flags in
// package owned make them unlikely, and the cache flags some double frees, but the
// engine does not promise memory safety: freeing the same address twice through two
// owning handles is undefined behavior.
package memory
