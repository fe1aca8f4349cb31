package allocctx

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/memkit/internal/testutil"
	"github.com/joshuapare/memkit/memory"
	"github.com/joshuapare/memkit/memory/native"
)

// newTestContext returns a context over a dispatcher whose cache draws from a
// recorded native allocator and runs on a manual clock.
func newTestContext(t *testing.T) (*Context, *Dispatcher, *testutil.Recorder) {
	t.Helper()
	rec := testutil.NewRecorder(native.New())
	d, err := NewDispatcher(&Options{Backing: rec, Now: testutil.NewClock().Now})
	require.NoError(t, err)

	c := NewContext()
	require.NoError(t, c.SetImplementation(d))
	t.Cleanup(func() { require.NoError(t, c.Close()) })
	return c, d, rec
}

func TestSystemProviders(t *testing.T) {
	c, _, _ := newTestContext(t)

	for _, id := range []memory.ProviderID{memory.Default, memory.DefaultUnscoped, memory.DefaultUncachedUnscoped} {
		t.Run(id.String(), func(t *testing.T) {
			a, err := c.GetAllocator(id)
			require.NoError(t, err)
			p, err := a.Allocate(48)
			require.NoError(t, err)
			require.NotZero(t, p)
			require.NoError(t, a.Free(p))
		})
	}

	_, err := c.GetAllocator(memory.Invalid)
	require.ErrorIs(t, err, memory.ErrInvalidProvider)

	_, err = c.GetAllocator(memory.ScopedUserMin)
	require.ErrorIs(t, err, memory.ErrUnknownProvider)

	_, err = c.GetAllocator(memory.UnscopedUserMax)
	require.ErrorIs(t, err, memory.ErrUnknownProvider)
}

func TestRegistrationValidation(t *testing.T) {
	c, d, _ := newTestContext(t)
	fixed := NewFixedProvider(native.New(), nil)

	tests := []struct {
		name   string
		p      Provider
		id     memory.ProviderID
		scoped bool
		want   error
	}{
		{"invalid id", fixed, memory.Invalid, false, memory.ErrInvalidProvider},
		{"unassigned scoped reserved", fixed, 5, true, memory.ErrInvalidProvider},
		{"unassigned unscoped reserved", fixed, -7, false, memory.ErrInvalidProvider},
		{"nil provider", nil, -16, false, memory.ErrInvalidProvider},
		{"positive id unscoped", fixed, 16, false, memory.ErrProviderScoping},
		{"negative id scoped", d.NewArenaProvider(), -16, true, memory.ErrProviderScoping},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, c.SetAllocatorProvider(tt.p, tt.id, tt.scoped), tt.want)
		})
	}

	require.NoError(t, c.SetAllocatorProvider(d.NewArenaProvider(), 16, true))
	require.NoError(t, c.SetAllocatorProvider(fixed, -16, false))
	require.NoError(t, c.SetAllocatorProvider(d.NewArenaProvider(), 5000, true))
	require.NoError(t, c.SetAllocatorProvider(NewFixedProvider(native.New(), nil), -5000, false))

	for _, id := range []memory.ProviderID{16, -16, 5000, -5000} {
		_, err := c.GetAllocator(id)
		require.NoError(t, err, "id %d", id)
	}
}

func TestFinalizeBlocksRegistration(t *testing.T) {
	c, d, _ := newTestContext(t)

	require.NoError(t, c.FinalizeConfiguration())
	err := c.SetAllocatorProvider(d.NewArenaProvider(), 16, true)
	require.ErrorIs(t, err, memory.ErrConfigurationFinalized)
	require.True(t, memory.IsKind(err, memory.ErrKindState))

	// Clearing reopens configuration.
	require.NoError(t, c.ClearProvidersAndAllocations())
	require.False(t, d.Finalized())
	require.NoError(t, c.SetAllocatorProvider(d.NewArenaProvider(), 16, true))
}

func TestReplacingProviderClosesOld(t *testing.T) {
	c, _, _ := newTestContext(t)

	closed := 0
	old := NewFixedProvider(native.New(), func() error { closed++; return nil })
	require.NoError(t, c.SetAllocatorProvider(old, -20, false))
	require.NoError(t, c.SetAllocatorProvider(NewFixedProvider(native.New(), nil), -20, false))
	require.Equal(t, 1, closed)
}

func TestScopeOnUnscopedProvider(t *testing.T) {
	c, _, _ := newTestContext(t)
	_, err := c.BeginAllocationScope(memory.DefaultUnscoped)
	require.ErrorIs(t, err, memory.ErrNotScoped)

	_, err = c.BeginAllocationScope(99)
	require.ErrorIs(t, err, memory.ErrUnknownProvider)
}

// A scoped provider over the shared cache: 100 blocks of 64 bytes, 50 freed
// explicitly, the rest released when the scope closes.
func TestScopeBulkFree(t *testing.T) {
	c, d, rec := newTestContext(t)
	provider := d.NewArenaProvider()
	require.NoError(t, c.SetAllocatorProvider(provider, 16, true))

	scope, err := c.BeginAllocationScope(16)
	require.NoError(t, err)
	require.Equal(t, memory.ProviderID(16), scope.ID())
	require.Equal(t, 1, provider.Depth())

	a := scope.Allocator()
	ptrs := make([]uintptr, 100)
	for i := range ptrs {
		p, err := a.Allocate(64)
		require.NoError(t, err)
		ptrs[i] = p
	}
	for _, p := range ptrs[:50] {
		require.NoError(t, a.Free(p))
	}

	require.NoError(t, scope.Close())
	require.NoError(t, scope.Close())
	require.Equal(t, 0, provider.Depth())

	// Handles that outlived the scope free nothing.
	for _, p := range ptrs[50:] {
		require.NoError(t, a.Free(p))
	}

	require.True(t, provider.Stats().ClientIsAllFreed())
	require.True(t, d.Cache().Stats().ClientIsAllFreed())

	require.NoError(t, d.ClearCachedMemory())
	assert.Equal(t, 100, rec.Allocs())
	assert.Equal(t, 100, rec.Frees())
	assert.Equal(t, 0, rec.Live())
	testutil.RequireAllFreed(t, d.Cache())
}

func TestNestedScopes(t *testing.T) {
	c, _, _ := newTestContext(t)
	a := c.MustGetAllocator(memory.Default)

	rootBlock, err := a.Allocate(32)
	require.NoError(t, err)

	outer, err := c.BeginAllocationScope(memory.Default)
	require.NoError(t, err)
	outerBlock, err := outer.Allocator().Allocate(32)
	require.NoError(t, err)

	inner, err := c.BeginAllocationScope(memory.Default)
	require.NoError(t, err)
	innerBlock, err := inner.Allocator().Allocate(32)
	require.NoError(t, err)

	// The provider view allocates from the root arena while scopes are open, and
	// the outer scope's view keeps allocating from the outer arena.
	whileOpen, err := a.Allocate(32)
	require.NoError(t, err)
	viaOuter, err := outer.Allocator().Allocate(32)
	require.NoError(t, err)
	require.Equal(t, 2, outer.Allocator().(framed).f.a.Len())
	require.Equal(t, 1, inner.Allocator().(framed).f.a.Len())

	// Blocks free through whichever arena issued them.
	require.NoError(t, a.Free(outerBlock))
	require.Equal(t, 1, outer.Allocator().(framed).f.a.Len())

	require.NoError(t, inner.Close())
	require.NoError(t, a.Free(innerBlock))

	require.NoError(t, outer.Close())
	require.NoError(t, a.Free(viaOuter))

	_, err = outer.Allocator().Allocate(8)
	require.ErrorIs(t, err, memory.ErrClosed)
	require.Equal(t, memory.Stats{}, outer.Allocator().Stats())

	// Root blocks outlive every scope.
	testutil.Fill(whileOpen, 32, 3)
	testutil.RequirePattern(t, whileOpen, 32, 3)
	require.NoError(t, a.Free(whileOpen))
	require.NoError(t, a.Free(rootBlock))
	require.True(t, a.Stats().ClientIsAllFreed())
}

// A view of an ended scope must not reach the arena the pool hands to the next scope.
func TestEndedScopeViewStaysClosed(t *testing.T) {
	c, d, _ := newTestContext(t)

	first, err := c.BeginAllocationScope(memory.Default)
	require.NoError(t, err)
	stale := first.Allocator()
	require.NoError(t, first.Close())

	second, err := c.BeginAllocationScope(memory.Default)
	require.NoError(t, err)
	defer second.Close()
	require.Equal(t, int64(1), d.ArenaPool().Metrics().Reused)

	_, err = stale.Allocate(16)
	require.ErrorIs(t, err, memory.ErrClosed)
	require.Equal(t, 0, second.Allocator().(framed).f.a.Len())
}

func TestScopeResolvesOwnID(t *testing.T) {
	c, _, _ := newTestContext(t)
	scope, err := c.BeginAllocationScope(memory.Default)
	require.NoError(t, err)
	defer scope.Close()

	a, err := scope.GetAllocator(memory.Default)
	require.NoError(t, err)
	require.Equal(t, scope.Allocator(), a)

	_, err = scope.GetAllocator(memory.DefaultUnscoped)
	require.ErrorIs(t, err, memory.ErrUnknownProvider)
}

// Scopes left open across a provider reset end without error: their blocks were
// already released.
func TestScopeCloseAfterProviderCleared(t *testing.T) {
	c, d, rec := newTestContext(t)
	require.NoError(t, c.SetAllocatorProvider(d.NewArenaProvider(), 16, true))

	replaced, err := c.BeginAllocationScope(16)
	require.NoError(t, err)
	_, err = replaced.Allocator().Allocate(64)
	require.NoError(t, err)
	require.NoError(t, c.SetAllocatorProvider(d.NewArenaProvider(), 16, true))
	require.NoError(t, replaced.Close())

	cleared, err := c.BeginAllocationScope(memory.Default)
	require.NoError(t, err)
	_, err = cleared.Allocator().Allocate(64)
	require.NoError(t, err)
	require.NoError(t, c.ClearProvidersAndAllocations())
	require.NoError(t, cleared.Close())

	require.NoError(t, d.ClearCachedMemory())
	assert.Equal(t, 0, rec.Live())
}

func TestScopesCloseOutOfOrder(t *testing.T) {
	c, _, _ := newTestContext(t)

	outer, err := c.BeginAllocationScope(memory.Default)
	require.NoError(t, err)
	inner, err := c.BeginAllocationScope(memory.Default)
	require.NoError(t, err)

	require.NoError(t, outer.Close())
	require.NoError(t, inner.Close())
}

func TestEndScopeRejectsForeignAllocator(t *testing.T) {
	_, d, _ := newTestContext(t)
	p := d.NewArenaProvider()
	require.ErrorIs(t, p.EndScope(native.New()), memory.ErrUnknownScope)

	other := d.NewArenaProvider()
	a, err := other.BeginScope()
	require.NoError(t, err)
	require.ErrorIs(t, p.EndScope(a), memory.ErrUnknownScope)
	require.NoError(t, other.EndScope(a))
	require.ErrorIs(t, other.EndScope(a), memory.ErrUnknownScope)
}

func TestFreeAllocations(t *testing.T) {
	c, d, _ := newTestContext(t)

	t.Run("scoped keeps scopes open", func(t *testing.T) {
		scope, err := c.BeginAllocationScope(memory.Default)
		require.NoError(t, err)
		defer scope.Close()

		a := c.MustGetAllocator(memory.Default)
		for range 10 {
			_, err := a.Allocate(100)
			require.NoError(t, err)
			_, err = scope.Allocator().Allocate(100)
			require.NoError(t, err)
		}
		require.NoError(t, c.FreeAllocations(memory.Default))
		require.True(t, a.Stats().ClientIsAllFreed())
		require.Zero(t, scope.Allocator().Stats().ClientOutstanding())

		_, err = scope.Allocator().Allocate(100)
		require.NoError(t, err)
	})

	t.Run("cached unscoped", func(t *testing.T) {
		a := c.MustGetAllocator(memory.DefaultUnscoped)
		for range 10 {
			_, err := a.Allocate(100)
			require.NoError(t, err)
		}
		require.NoError(t, c.FreeAllocations(memory.DefaultUnscoped))
		require.True(t, a.Stats().ClientIsAllFreed())
	})

	t.Run("uncached unscoped", func(t *testing.T) {
		a := c.MustGetAllocator(memory.DefaultUncachedUnscoped)
		for range 10 {
			_, err := a.Allocate(100)
			require.NoError(t, err)
		}
		require.NoError(t, c.FreeAllocations(memory.DefaultUncachedUnscoped))
		require.Equal(t, 0, a.(*native.Allocator).Live())
	})

	require.ErrorIs(t, c.FreeAllocations(42), memory.ErrUnknownProvider)
	require.NoError(t, d.ClearCachedMemory())
}

func TestClearProvidersAndAllocations(t *testing.T) {
	c, d, rec := newTestContext(t)
	require.NoError(t, c.SetAllocatorProvider(d.NewArenaProvider(), 16, true))

	for _, id := range []memory.ProviderID{memory.Default, memory.DefaultUnscoped, 16} {
		a := c.MustGetAllocator(id)
		for range 5 {
			_, err := a.Allocate(256)
			require.NoError(t, err)
		}
	}

	require.NoError(t, c.ClearProvidersAndAllocations())
	assert.Equal(t, 0, rec.Live(), "cache flushed")
	assert.Equal(t, 0, d.Cache().Inner().CachedBlocks())

	_, err := c.GetAllocator(16)
	require.ErrorIs(t, err, memory.ErrUnknownProvider)
	_, err = c.GetAllocator(memory.Default)
	require.NoError(t, err)
}

func TestConcurrentScopes(t *testing.T) {
	c, d, rec := newTestContext(t)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				scope, err := c.BeginAllocationScope(memory.Default)
				if err != nil {
					t.Error(err)
					return
				}
				a := scope.Allocator()
				for range 50 {
					if _, err := a.Allocate(200); err != nil {
						t.Error(err)
						return
					}
				}
				if err := scope.Close(); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	require.True(t, c.MustGetAllocator(memory.Default).Stats().ClientIsAllFreed())
	require.NoError(t, d.ClearCachedMemory())
	require.Equal(t, 0, rec.Live())
}
