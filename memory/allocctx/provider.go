package allocctx

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/joshuapare/memkit/internal/logger"
	"github.com/joshuapare/memkit/memory"
	"github.com/joshuapare/memkit/memory/arena"
	"github.com/joshuapare/memkit/memory/pool"
)

// Provider supplies the allocator behind a provider id.
type Provider interface {
	// Allocator returns the allocator callers use for this id.
	Allocator() memory.Allocator

	// BeginScope opens a nested scope and returns its allocator.
	BeginScope() (memory.Allocator, error)

	// EndScope releases everything allocated in the scope whose allocator is a.
	EndScope(a memory.Allocator) error

	// FreeAllocations releases every live block the provider tracks.
	FreeAllocations() error

	// Close releases everything and retires the provider.
	Close() error
}

// FixedProvider serves every call from one allocator and has no scopes.
type FixedProvider struct {
	alloc   memory.Allocator
	freeAll func() error
}

var _ Provider = (*FixedProvider)(nil)

// NewFixedProvider wraps alloc. freeAll, when not nil, implements FreeAllocations.
func NewFixedProvider(alloc memory.Allocator, freeAll func() error) *FixedProvider {
	return &FixedProvider{alloc: alloc, freeAll: freeAll}
}

func (p *FixedProvider) Allocator() memory.Allocator { return p.alloc }

func (p *FixedProvider) BeginScope() (memory.Allocator, error) {
	return nil, memory.ErrNotScoped
}

func (p *FixedProvider) EndScope(memory.Allocator) error {
	return memory.ErrNotScoped
}

func (p *FixedProvider) FreeAllocations() error {
	if p.freeAll == nil {
		return nil
	}
	return p.freeAll()
}

func (p *FixedProvider) Close() error { return p.FreeAllocations() }

// ArenaProvider serves a scoped provider id from arenas.
//
// Allocator() allocates from the root arena. BeginScope draws an arena from the
// pool and returns a view bound to it; only that view allocates in the scope, so
// goroutines holding different scopes on one id never share an arena. Free and
// TryRealloc on any view go to whichever arena issued the block, and are ignored
// for blocks no arena tracks any more.
//
// Every operation runs under the provider's lock.
type ArenaProvider struct {
	mu     sync.Mutex
	arenas *pool.Pool[*arena.Arena]
	root   *arena.Arena
	frames []*frame // oldest first
	closed bool
	stats  memory.Counters
}

var _ Provider = (*ArenaProvider)(nil)

// NewArenaProvider creates a provider drawing scope arenas from arenas.
func NewArenaProvider(arenas *pool.Pool[*arena.Arena]) *ArenaProvider {
	return &ArenaProvider{
		arenas: arenas,
		root:   arenas.Get(),
	}
}

// Allocator returns the provider-wide view. It allocates from the root arena,
// whatever scopes are open.
func (p *ArenaProvider) Allocator() memory.Allocator {
	return routed{p: p}
}

func (p *ArenaProvider) BeginScope() (memory.Allocator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, memory.ErrClosed
	}
	fr := &frame{a: p.arenas.Get()}
	p.frames = append(p.frames, fr)
	if logger.Enabled(slog.LevelDebug) {
		logger.Debug("allocctx: scope begin", "depth", len(p.frames))
	}
	return framed{p: p, f: fr}, nil
}

// EndScope releases the scope's arena. Scopes may end out of order. Ending a
// scope after the provider closed does nothing: Close already released it.
func (p *ArenaProvider) EndScope(scoped memory.Allocator) error {
	f, ok := scoped.(framed)
	if !ok || f.p != p {
		return memory.ErrUnknownScope
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	i := slices.Index(p.frames, f.f)
	if i < 0 {
		return memory.ErrUnknownScope
	}
	p.frames = slices.Delete(p.frames, i, i+1)

	a := f.f.a
	f.f.a = nil
	freed := a.Stats().ClientOutstanding()
	n := a.Len()
	err := p.arenas.Return(a)
	p.stats.SelfFree(int(freed))
	p.stats.ClientFree(int(freed))

	if logger.Enabled(slog.LevelDebug) {
		logger.Debug("allocctx: scope end", "depth", len(p.frames), "released", n)
	}
	if err != nil {
		return fmt.Errorf("allocctx: end scope: %w", err)
	}
	return nil
}

// FreeAllocations releases every block in the root arena and in every open scope.
// Scopes stay open.
func (p *ArenaProvider) FreeAllocations() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freeAllLocked()
}

func (p *ArenaProvider) freeAllLocked() error {
	var errs []error
	arenas := []*arena.Arena{p.root}
	for _, fr := range p.frames {
		arenas = append(arenas, fr.a)
	}
	for _, a := range arenas {
		before := a.Stats().ClientOutstanding()
		if err := a.FreeAll(); err != nil {
			errs = append(errs, err)
		}
		freed := int(before - a.Stats().ClientOutstanding())
		p.stats.SelfFree(freed)
		p.stats.ClientFree(freed)
	}
	return errors.Join(errs...)
}

// Close releases everything, returns the arenas to the pool and rejects new scopes.
func (p *ArenaProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	errs := []error{p.freeAllLocked()}
	for _, fr := range p.frames {
		errs = append(errs, p.arenas.Return(fr.a))
		fr.a = nil
	}
	p.frames = nil
	errs = append(errs, p.arenas.Return(p.root))
	return errors.Join(errs...)
}

// Depth is the number of open scopes.
func (p *ArenaProvider) Depth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

// Stats counts bytes allocated through the provider, across all its arenas.
func (p *ArenaProvider) Stats() memory.Stats { return p.stats.Snapshot() }

// owner returns the arena tracking ptr, innermost first.
func (p *ArenaProvider) owner(ptr uintptr) *arena.Arena {
	for i := len(p.frames) - 1; i >= 0; i-- {
		if a := p.frames[i].a; a.Owns(ptr) {
			return a
		}
	}
	if p.root.Owns(ptr) {
		return p.root
	}
	return nil
}

// allocate serves size bytes from fr's arena, or from the root arena when fr is nil.
func (p *ArenaProvider) allocate(fr *frame, size int) (uintptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, memory.ErrClosed
	}
	a := p.root
	if fr != nil {
		if fr.a == nil {
			return 0, fmt.Errorf("allocctx: allocate in ended scope: %w", memory.ErrClosed)
		}
		a = fr.a
	}
	ptr, err := a.Allocate(size)
	if err != nil {
		return 0, err
	}
	p.stats.SelfAlloc(size)
	p.stats.ClientAlloc(size)
	return ptr, nil
}

func (p *ArenaProvider) tryRealloc(ptr uintptr, minSize, maxSize int) memory.ReallocResult {
	if ptr == 0 {
		return memory.NotSuccess
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return memory.NotSuccess
	}
	a := p.owner(ptr)
	if a == nil {
		return memory.NotSuccess
	}
	before := a.Stats().ClientOutstanding()
	res := a.TryRealloc(ptr, minSize, maxSize)
	if res.Success() {
		delta := int(a.Stats().ClientOutstanding() - before)
		if delta >= 0 {
			p.stats.SelfAlloc(delta)
			p.stats.ClientAlloc(delta)
		} else {
			p.stats.SelfFree(-delta)
			p.stats.ClientFree(-delta)
		}
	}
	return res
}

func (p *ArenaProvider) free(ptr uintptr) error {
	if ptr == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	a := p.owner(ptr)
	if a == nil {
		return nil
	}
	before := a.Stats().ClientOutstanding()
	err := a.Free(ptr)
	freed := int(before - a.Stats().ClientOutstanding())
	p.stats.SelfFree(freed)
	p.stats.ClientFree(freed)
	return err
}

func (p *ArenaProvider) overhead() int {
	return p.root.MetadataOverhead()
}

// routed is the provider-wide allocator view over the root arena.
type routed struct {
	p *ArenaProvider
}

func (r routed) Allocate(size int) (uintptr, error) { return r.p.allocate(nil, size) }

func (r routed) TryRealloc(ptr uintptr, minSize, maxSize int) memory.ReallocResult {
	return r.p.tryRealloc(ptr, minSize, maxSize)
}

func (r routed) Free(ptr uintptr) error { return r.p.free(ptr) }
func (r routed) MetadataOverhead() int { return r.p.overhead() }
func (r routed) Stats() memory.Stats { return r.p.Stats() }

// frame is one open scope. Its arena is cleared when the scope ends, so a view of
// an ended scope never reaches an arena the pool handed to a later scope.
type frame struct {
	a *arena.Arena
}

// framed allocates from one scope's arena, even when other scopes are open.
type framed struct {
	p *ArenaProvider
	f *frame
}

func (f framed) Allocate(size int) (uintptr, error) { return f.p.allocate(f.f, size) }

func (f framed) TryRealloc(ptr uintptr, minSize, maxSize int) memory.ReallocResult {
	return f.p.tryRealloc(ptr, minSize, maxSize)
}

func (f framed) Free(ptr uintptr) error { return f.p.free(ptr) }
func (f framed) MetadataOverhead() int { return f.p.overhead() }

// Stats of a scope view report the arena backing it; zero once the scope ended.
func (f framed) Stats() memory.Stats {
	f.p.mu.Lock()
	defer f.p.mu.Unlock()
	if f.f.a == nil {
		return memory.Stats{}
	}
	return f.f.a.Stats()
}
