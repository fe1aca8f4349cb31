// Package cache provides a time-bounded pooling allocator.
//
// # Overview
//
// A Cache sits in front of a backing allocator (normally native.Allocator) and keeps
// freed blocks for a while instead of releasing them, so bursts of allocate/free
// become cache hits instead of system calls.
//
// # Layout
//
// Every block starts with a 16-byte header holding its capacity and the size the
// caller asked for; callers see the address just past it (MetadataOverhead() == 16).
// Requests are rounded up to a size class so that a freed block satisfies any later
// request of the same class.
//
// # Reuse
//
//   - Exact class first: a min-heap per class gives the best fit
//   - Then the next maxClassProbe classes, first fit
//   - Miss: allocate from the backing allocator
//   - Blocks larger than the last class bypass the cache entirely
//
// # Eviction
//
// Cached blocks also sit in an age list ordered by free time. A sweep runs from
// Allocate and Free once a quarter of the effective TTL has passed since the last one,
// or as soon as the cached bytes exceed CleanupThresholdBytes. It releases blocks
// older than the effective TTL, then evicts oldest-first until the cache is back
// under the threshold. The TTL is passive: without calls, nothing is swept.
//
// The effective TTL adapts. The classes of blocks released by expiry or eviction are
// remembered over the last CacheLostObserveWindowSize releases; a miss for one of
// them counts as a loss.
// When more than half of the recent misses are losses the effective TTL doubles (up to
// 8x the configured TTL); when fewer than one in eight are, it halves back.
//
// # Thread Safety
//
// Cache is not safe for concurrent use. Share one through syncwrap.CacheableWrapper.
package cache

import (
	"container/heap"
	"container/list"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/joshuapare/memkit/internal/buf"
	"github.com/joshuapare/memkit/internal/logger"
	"github.com/joshuapare/memkit/memory"
)

const (
	// headerSize is the per-block header: capacity and requested size, one word each.
	headerSize = 16

	// freeMarker occupies the size word while a block sits in the cache.
	freeMarker = ^uint64(0)

	// maxClassProbe is how many classes above the exact one are searched on a miss.
	maxClassProbe = 4

	// maxTTLScale caps retention growth under thrashing.
	maxTTLScale = 8

	minSweepInterval = time.Millisecond
)

// Options configures a Cache.
type Options struct {
	// Config holds TTL, loss window and threshold. Nil means memory.DefaultConfig().
	Config *memory.Config

	// SizeClasses selects the class table. Nil means DefaultSizeClasses.
	SizeClasses *SizeClassConfig

	// Now is the time source. Nil means time.Now.
	Now func() time.Time
}

// Metrics counts cache events.
type Metrics struct {
	Hits         int64         // Allocations served from the cache
	Misses       int64         // Cacheable allocations that went to the backing allocator
	Bypassed     int64         // Allocations too large to cache
	Expired      int64         // Blocks released because they outlived the TTL
	Evictions    int64         // Blocks released to get under the threshold
	Losses       int64         // Misses for a class evicted shortly before
	Sweeps       int64         // Sweeps run
	CachedBytes  int64         // Bytes currently retained
	CachedBlocks int           // Blocks currently retained
	EffectiveTTL time.Duration // Current retention window
}

// Cache is a pooling allocator with TTL and threshold eviction.
type Cache struct {
	backing memory.Allocator
	now     func() time.Time

	sizeTable *sizeClassTable
	freeLists []blockHeap
	ages      *list.List // *entry, oldest at the front

	entryPool sync.Pool

	baseTTL   time.Duration
	ttlScale  int
	threshold int64
	window    *lossWindow

	cachedBytes int64
	lastSweep   time.Time

	stats   memory.Counters
	metrics Metrics
}

var _ memory.CacheableAllocator = (*Cache)(nil)

// New creates a cache over backing.
func New(backing memory.Allocator, opts *Options) (*Cache, error) {
	if backing == nil {
		return nil, errors.New("cache: nil backing allocator")
	}
	if opts == nil {
		opts = &Options{}
	}

	cfg := memory.DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	classes := DefaultSizeClasses
	if opts.SizeClasses != nil {
		classes = *opts.SizeClasses
	}
	if classes.GrowthFactor <= 1 {
		return nil, fmt.Errorf("cache: size class growth factor must be > 1, got %v", classes.GrowthFactor)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	table := newSizeClassTable(classes)
	c := &Cache{
		backing:   backing,
		now:       now,
		sizeTable: table,
		freeLists: make([]blockHeap, table.NumClasses()),
		ages:      list.New(),
		baseTTL:   cfg.TTL(),
		ttlScale:  1,
		threshold: cfg.CleanupThresholdBytes,
		window:    newLossWindow(cfg.CacheLostObserveWindowSize),
		lastSweep: now(),
		entryPool: sync.Pool{
			New: func() any {
				return &entry{}
			},
		},
	}
	return c, nil
}

// Allocate returns a zeroed block of at least size bytes, reusing a cached one when possible.
func (c *Cache) Allocate(size int) (uintptr, error) {
	need, err := c.blockSize(size)
	if err != nil {
		return 0, err
	}

	now := c.now()
	if err := c.maybeSweep(now); err != nil {
		logger.Warn("cache: sweep failed", "err", err)
	}

	sc := c.sizeTable.classFor(need)
	if sc < c.sizeTable.NumClasses() {
		if e := c.takeCached(sc); e != nil {
			c.metrics.Hits++
			base, capacity := e.base, e.capacity
			c.putEntry(e)

			putHeader(base, capacity, size)
			buf.Zero(base+headerSize, size)
			c.stats.ClientAlloc(capacity)
			return base + headerSize, nil
		}

		c.metrics.Misses++
		c.observeMiss(sc)
		need = c.sizeTable.bound(sc)
	} else {
		c.metrics.Bypassed++
	}

	base, err := c.backing.Allocate(need)
	if err != nil {
		return 0, fmt.Errorf("cache: allocate %d bytes: %w", size, err)
	}
	c.stats.SelfAlloc(need)
	c.stats.ClientAlloc(need)

	putHeader(base, need, size)
	return base + headerSize, nil
}

// TryRealloc resizes the block at ptr. It first tries to satisfy the range from the
// block's own capacity, then asks the backing allocator to resize the whole block.
func (c *Cache) TryRealloc(ptr uintptr, minSize, maxSize int) memory.ReallocResult {
	if !memory.ValidRealloc(ptr, minSize, maxSize) {
		return memory.NotSuccess
	}
	base, capacity, size, err := blockAt(ptr)
	if err != nil || size == freeMarker {
		return memory.NotSuccess
	}

	usable := capacity - headerSize
	if maxSize <= usable {
		putHeader(base, capacity, maxSize)
		return memory.ReallocResult{Ptr: ptr, ActualSize: maxSize}
	}
	if minSize <= usable {
		putHeader(base, capacity, usable)
		return memory.ReallocResult{Ptr: ptr, ActualSize: usable}
	}

	need, err := c.blockSize(maxSize)
	if err != nil {
		return memory.NotSuccess
	}
	if sc := c.sizeTable.classFor(need); sc < c.sizeTable.NumClasses() {
		need = c.sizeTable.bound(sc)
	}

	res := c.backing.TryRealloc(base, need, need)
	if !res.Success() {
		return memory.NotSuccess
	}

	newCapacity := res.ActualSize
	putHeader(res.Ptr, newCapacity, maxSize)
	c.stats.SelfFree(capacity)
	c.stats.ClientFree(capacity)
	c.stats.SelfAlloc(newCapacity)
	c.stats.ClientAlloc(newCapacity)
	return memory.ReallocResult{Ptr: res.Ptr + headerSize, ActualSize: maxSize}
}

// Free returns the block at ptr to the cache. Blocks too large to cache, and every
// block when the TTL is zero, go straight back to the backing allocator.
//
// Freeing a block that is already cached returns memory.ErrDoubleFree. This is best
// effort: once the block is handed out again the second free goes unnoticed.
func (c *Cache) Free(ptr uintptr) error {
	if ptr == 0 {
		return nil
	}
	base, capacity, size, err := blockAt(ptr)
	if err != nil {
		return fmt.Errorf("cache: free %#x: %w", ptr, err)
	}
	if size == freeMarker {
		return fmt.Errorf("cache: free %#x: %w", ptr, memory.ErrDoubleFree)
	}
	c.stats.ClientFree(capacity)

	sc := c.sizeTable.floorClass(capacity)
	if sc < 0 || c.baseTTL <= 0 {
		return c.release(base, capacity)
	}

	now := c.now()
	buf.StoreUint64(base+8, freeMarker)

	e := c.getEntry()
	e.base = base
	e.capacity = capacity
	e.class = sc
	e.freedAt = now
	heap.Push(&c.freeLists[sc], e)
	e.age = c.ages.PushBack(e)
	c.cachedBytes += int64(capacity)

	return c.maybeSweep(now)
}

// ClearCachedMemory releases every cached block to the backing allocator.
func (c *Cache) ClearCachedMemory() error {
	var errs []error
	for front := c.ages.Front(); front != nil; front = c.ages.Front() {
		e := front.Value.(*entry) //nolint:errcheck // list holds only *entry
		if err := c.drop(e); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	return nil
}

// Sweep runs an eviction pass now.
func (c *Cache) Sweep() error {
	return c.sweep(c.now())
}

// MetadataOverhead is the header in front of each block.
func (c *Cache) MetadataOverhead() int { return headerSize }

// Stats counts block capacities: self against the backing allocator, client against callers.
func (c *Cache) Stats() memory.Stats { return c.stats.Snapshot() }

// CachedBytes is the total capacity of the blocks currently retained.
func (c *Cache) CachedBytes() int64 { return c.cachedBytes }

// CachedBlocks is the number of blocks currently retained.
func (c *Cache) CachedBlocks() int { return c.ages.Len() }

// EffectiveTTL is the retention window after loss adaptation.
func (c *Cache) EffectiveTTL() time.Duration {
	return c.baseTTL * time.Duration(c.ttlScale)
}

// Metrics returns a snapshot of the event counters.
func (c *Cache) Metrics() Metrics {
	m := c.metrics
	m.CachedBytes = c.cachedBytes
	m.CachedBlocks = c.ages.Len()
	m.EffectiveTTL = c.EffectiveTTL()
	return m
}

// blockSize returns the header-inclusive, class-aligned size for a request.
func (c *Cache) blockSize(size int) (int, error) {
	if size < 0 {
		return 0, fmt.Errorf("cache: allocate %d bytes: %w", size, memory.ErrNegativeSize)
	}
	need, ok := buf.AddOverflowSafe(size, headerSize)
	if ok {
		need, ok = buf.AlignUp(need, classAlign)
	}
	if !ok {
		return 0, fmt.Errorf("cache: allocate %d bytes: %w", size, memory.ErrOutOfMemory)
	}
	return need, nil
}

// takeCached removes and returns a cached block for class sc, or nil.
func (c *Cache) takeCached(sc int) *entry {
	last := min(sc+maxClassProbe, c.sizeTable.NumClasses()-1)
	for i := sc; i <= last; i++ {
		fl := &c.freeLists[i]
		if fl.Len() == 0 {
			continue
		}
		// heap[0] is the smallest block in this class; every block filed in a class
		// is at least the class capacity, so it fits.
		e := heap.Pop(fl).(*entry) //nolint:errcheck // heap contains only *entry
		c.ages.Remove(e.age)
		e.age = nil
		c.cachedBytes -= int64(e.capacity)
		return e
	}
	return nil
}

func (c *Cache) observeMiss(sc int) {
	if c.window == nil {
		return
	}
	if c.window.observeMiss(sc) {
		c.metrics.Losses++
	}
	if !c.window.ready() {
		return
	}

	ratio := c.window.ratio()
	switch {
	case ratio > 0.5 && c.ttlScale < maxTTLScale:
		c.ttlScale *= 2
	case ratio < 0.125 && c.ttlScale > 1:
		c.ttlScale /= 2
	default:
		return
	}
	c.window.reset()
	if logger.Enabled(slog.LevelDebug) {
		logger.Debug("cache: retention adapted", "lossRatio", ratio, "effectiveTTL", c.EffectiveTTL())
	}
}

func (c *Cache) maybeSweep(now time.Time) error {
	if c.ages.Len() == 0 {
		return nil
	}
	overThreshold := c.threshold > 0 && c.cachedBytes > c.threshold
	if !overThreshold && now.Sub(c.lastSweep) < c.sweepInterval() {
		return nil
	}
	return c.sweep(now)
}

func (c *Cache) sweepInterval() time.Duration {
	return max(c.EffectiveTTL()/4, minSweepInterval)
}

// sweep releases expired blocks, then evicts oldest-first down to the threshold.
func (c *Cache) sweep(now time.Time) error {
	c.lastSweep = now
	c.metrics.Sweeps++
	ttl := c.EffectiveTTL()

	var errs []error
	expired, evicted := 0, 0
	for front := c.ages.Front(); front != nil; front = c.ages.Front() {
		e := front.Value.(*entry) //nolint:errcheck // list holds only *entry
		if now.Sub(e.freedAt) < ttl {
			break
		}
		c.metrics.Expired++
		expired++
		c.recordRelease(e.class)
		if err := c.drop(e); err != nil {
			errs = append(errs, err)
		}
	}

	for c.threshold > 0 && c.cachedBytes > c.threshold {
		front := c.ages.Front()
		if front == nil {
			break
		}
		e := front.Value.(*entry) //nolint:errcheck // list holds only *entry
		c.metrics.Evictions++
		evicted++
		c.recordRelease(e.class)
		if err := c.drop(e); err != nil {
			errs = append(errs, err)
		}
	}

	if (expired > 0 || evicted > 0) && logger.Enabled(slog.LevelDebug) {
		logger.Debug("cache: sweep",
			"expired", expired,
			"evicted", evicted,
			"cachedBytes", c.cachedBytes,
			"cachedBlocks", c.ages.Len(),
		)
	}
	return errors.Join(errs...)
}

// recordRelease leaves a ghost for class sc so a later miss on it counts as a loss.
func (c *Cache) recordRelease(sc int) {
	if c.window != nil {
		c.window.recordEviction(sc)
	}
}

// drop removes e from the cache and releases its block.
func (c *Cache) drop(e *entry) error {
	heap.Remove(&c.freeLists[e.class], e.heapIndex)
	c.ages.Remove(e.age)
	c.cachedBytes -= int64(e.capacity)
	base, capacity := e.base, e.capacity
	c.putEntry(e)
	return c.release(base, capacity)
}

func (c *Cache) release(base uintptr, capacity int) error {
	if err := c.backing.Free(base); err != nil {
		return fmt.Errorf("cache: release %#x: %w", base, err)
	}
	c.stats.SelfFree(capacity)
	return nil
}

func (c *Cache) getEntry() *entry {
	e, ok := c.entryPool.Get().(*entry)
	if !ok {
		return &entry{}
	}
	return e
}

func (c *Cache) putEntry(e *entry) {
	*e = entry{heapIndex: -1}
	c.entryPool.Put(e)
}

// blockAt locates the block behind a caller address and reads its header. The size
// word is freeMarker for a cached block; otherwise it must fit the capacity.
func blockAt(ptr uintptr) (uintptr, int, uint64, error) {
	if !buf.IsAligned(ptr, memory.Alignment) {
		return 0, 0, 0, memory.ErrBadPointer
	}
	base, ok := buf.Offset(ptr, -headerSize)
	if !ok {
		return 0, 0, 0, memory.ErrBadPointer
	}
	capacity, size := getHeader(base)
	if size == freeMarker {
		return base, capacity, size, nil
	}
	if size > uint64(math.MaxInt) {
		return 0, 0, 0, memory.ErrBadPointer
	}
	if _, err := buf.CheckBounds(capacity, headerSize, int(size)); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: header %w", memory.ErrBadPointer, err)
	}
	return base, capacity, size, nil
}

func putHeader(base uintptr, capacity, size int) {
	buf.StoreUint64(base, uint64(capacity))
	buf.StoreUint64(base+8, uint64(size))
}

func getHeader(base uintptr) (int, uint64) {
	return int(buf.LoadUint64(base)), buf.LoadUint64(base + 8)
}
