package allocctx

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/joshuapare/memkit/internal/logger"
	"github.com/joshuapare/memkit/memory"
	"github.com/joshuapare/memkit/memory/arena"
	"github.com/joshuapare/memkit/memory/cache"
	"github.com/joshuapare/memkit/memory/native"
	"github.com/joshuapare/memkit/memory/pool"
	"github.com/joshuapare/memkit/memory/syncwrap"
)

// denseIDs bounds the ids kept in the lookup slices; rarer ids fall back to a map.
const denseIDs = 1024

// Options configures a Dispatcher.
type Options struct {
	// Config tunes the shared cache. Nil means memory.DefaultConfig().
	Config *memory.Config

	// Backing is the allocator the shared cache draws from. Nil means a new
	// native.Allocator.
	Backing memory.Allocator

	// Now is the cache's time source. Nil means time.Now.
	Now func() time.Time

	// MaxIdleArenas bounds the arena pool. Zero selects pool.DefaultMaxIdle.
	MaxIdleArenas int
}

type providerEntry struct {
	provider Provider
	scoped   bool
}

// Dispatcher is the default Implementation. It owns a shared cache over the
// backing allocator, a pool of arenas over that cache, and the provider table.
type Dispatcher struct {
	mu        sync.RWMutex
	positive  []*providerEntry // index id
	negative  []*providerEntry // index -id
	sparse    map[memory.ProviderID]*providerEntry
	finalized bool
	closed    bool

	cfg     memory.Config
	backing memory.Allocator
	cache   syncwrap.CacheableWrapper[*cache.Cache]
	arenas  *pool.Pool[*arena.Arena]
}

var _ Implementation = (*Dispatcher)(nil)

// NewDispatcher builds a dispatcher with the system providers installed.
func NewDispatcher(opts *Options) (*Dispatcher, error) {
	if opts == nil {
		opts = &Options{}
	}
	cfg := memory.DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	backing := opts.Backing
	if backing == nil {
		backing = native.New()
	}

	c, err := cache.New(backing, &cache.Options{Config: &cfg, Now: opts.Now})
	if err != nil {
		return nil, fmt.Errorf("allocctx: %w", err)
	}

	d := &Dispatcher{
		cfg:     cfg,
		backing: backing,
		cache:   syncwrap.NewCacheable(c),
	}
	d.arenas = pool.New(func() *arena.Arena { return arena.New(d.cache) }, opts.MaxIdleArenas)
	d.resetTableLocked()
	return d, nil
}

// resetTableLocked empties the table and installs the system providers.
func (d *Dispatcher) resetTableLocked() {
	d.positive = make([]*providerEntry, memory.ScopedUserMin)
	d.negative = make([]*providerEntry, -memory.UnscopedUserMax)
	d.sparse = nil

	d.positive[memory.Default] = &providerEntry{provider: d.NewArenaProvider(), scoped: true}

	shared := syncwrap.New(arena.New(d.cache))
	d.negative[-memory.DefaultUnscoped] = &providerEntry{
		provider: NewFixedProvider(shared, func() error {
			var err error
			shared.Do(func(a *arena.Arena) { err = a.FreeAll() })
			return err
		}),
	}

	uncached := native.New()
	d.negative[-memory.DefaultUncachedUnscoped] = &providerEntry{
		provider: NewFixedProvider(uncached, uncached.FreeAll),
	}
}

// NewArenaProvider returns a scoped provider backed by the dispatcher's arena pool.
func (d *Dispatcher) NewArenaProvider() *ArenaProvider {
	return NewArenaProvider(d.arenas)
}

func (d *Dispatcher) SetAllocatorProvider(p Provider, id memory.ProviderID, scoped bool) error {
	if p == nil {
		return fmt.Errorf("allocctx: nil provider for id %s: %w", id, memory.ErrInvalidProvider)
	}
	if id == memory.Invalid || (id.IsReserved() && !id.IsSystem()) {
		return fmt.Errorf("allocctx: register id %s: %w", id, memory.ErrInvalidProvider)
	}
	if id.IsScoped() != scoped {
		return fmt.Errorf("allocctx: register id %s scoped=%t: %w", id, scoped, memory.ErrProviderScoping)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return memory.ErrClosed
	}
	if d.finalized {
		return fmt.Errorf("allocctx: register id %s: %w", id, memory.ErrConfigurationFinalized)
	}

	prev := d.lookupLocked(id)
	d.storeLocked(id, &providerEntry{provider: p, scoped: scoped})

	if prev != nil {
		logger.Info("allocctx: provider replaced", "id", id.String(), "scoped", scoped)
		if err := prev.provider.Close(); err != nil {
			return fmt.Errorf("allocctx: close replaced provider %s: %w", id, err)
		}
		return nil
	}
	logger.Info("allocctx: provider registered", "id", id.String(), "scoped", scoped)
	return nil
}

func (d *Dispatcher) GetAllocator(id memory.ProviderID) (memory.Allocator, error) {
	e, err := d.entry(id)
	if err != nil {
		return nil, err
	}
	return e.provider.Allocator(), nil
}

func (d *Dispatcher) BeginAllocationScope(id memory.ProviderID) (*Scope, error) {
	e, err := d.entry(id)
	if err != nil {
		return nil, err
	}
	if !e.scoped {
		return nil, fmt.Errorf("allocctx: begin scope %s: %w", id, memory.ErrNotScoped)
	}
	a, err := e.provider.BeginScope()
	if err != nil {
		return nil, fmt.Errorf("allocctx: begin scope %s: %w", id, err)
	}
	p := e.provider
	return NewScope(id, a, func() error { return p.EndScope(a) }), nil
}

func (d *Dispatcher) FreeAllocations(id memory.ProviderID) error {
	e, err := d.entry(id)
	if err != nil {
		return err
	}
	if err := e.provider.FreeAllocations(); err != nil {
		return fmt.Errorf("allocctx: free allocations %s: %w", id, err)
	}
	return nil
}

// ClearProvidersAndAllocations closes every provider, reinstalls the system
// providers, reopens configuration and flushes the cache.
func (d *Dispatcher) ClearProvidersAndAllocations() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return memory.ErrClosed
	}

	errs := d.closeProvidersLocked()
	d.resetTableLocked()
	d.finalized = false
	if err := d.cache.ClearCachedMemory(); err != nil {
		errs = append(errs, err)
	}
	logger.Info("allocctx: providers cleared")
	return errors.Join(errs...)
}

func (d *Dispatcher) FinalizeConfiguration() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.finalized {
		d.finalized = true
		logger.Info("allocctx: configuration finalized")
	}
}

// Close releases every provider and flushes the cache. Later calls fail with
// memory.ErrClosed.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	errs := d.closeProvidersLocked()
	d.positive, d.negative, d.sparse = nil, nil, nil
	for _, a := range d.arenas.Drain() {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.cache.ClearCachedMemory(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ClearCachedMemory releases the shared cache's retained blocks.
func (d *Dispatcher) ClearCachedMemory() error { return d.cache.ClearCachedMemory() }

// Cache returns the synchronized shared cache.
func (d *Dispatcher) Cache() syncwrap.CacheableWrapper[*cache.Cache] { return d.cache }

// Backing returns the allocator beneath the cache.
func (d *Dispatcher) Backing() memory.Allocator { return d.backing }

// ArenaPool returns the pool scope arenas are drawn from.
func (d *Dispatcher) ArenaPool() *pool.Pool[*arena.Arena] { return d.arenas }

// Config returns the configuration the dispatcher was built with.
func (d *Dispatcher) Config() memory.Config { return d.cfg }

// Finalized reports whether FinalizeConfiguration was called.
func (d *Dispatcher) Finalized() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.finalized
}

func (d *Dispatcher) entry(id memory.ProviderID) (*providerEntry, error) {
	if id == memory.Invalid {
		return nil, memory.ErrInvalidProvider
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, memory.ErrClosed
	}
	e := d.lookupLocked(id)
	if e == nil {
		return nil, fmt.Errorf("allocctx: id %s: %w", id, memory.ErrUnknownProvider)
	}
	return e, nil
}

func (d *Dispatcher) lookupLocked(id memory.ProviderID) *providerEntry {
	switch {
	case id > 0 && int(id) < len(d.positive):
		return d.positive[id]
	case id < 0 && int(-id) < len(d.negative):
		return d.negative[-id]
	}
	return d.sparse[id]
}

func (d *Dispatcher) storeLocked(id memory.ProviderID, e *providerEntry) {
	idx := int(id)
	table := &d.positive
	if id < 0 {
		idx = -idx
		table = &d.negative
	}
	if idx >= denseIDs {
		if d.sparse == nil {
			d.sparse = make(map[memory.ProviderID]*providerEntry)
		}
		d.sparse[id] = e
		return
	}
	if idx >= len(*table) {
		grown := make([]*providerEntry, idx+1)
		copy(grown, *table)
		*table = grown
	}
	(*table)[idx] = e
}

func (d *Dispatcher) closeProvidersLocked() []error {
	var errs []error
	closeEntry := func(id memory.ProviderID, e *providerEntry) {
		if e == nil {
			return
		}
		if err := e.provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("allocctx: close provider %s: %w", id, err))
		}
	}
	for i, e := range d.positive {
		closeEntry(memory.ProviderID(i), e)
	}
	for i, e := range d.negative {
		closeEntry(memory.ProviderID(-i), e)
	}
	for id, e := range d.sparse {
		closeEntry(id, e)
	}
	return errs
}
