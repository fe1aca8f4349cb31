package owned

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/memkit/internal/testutil"
	"github.com/joshuapare/memkit/memory"
	"github.com/joshuapare/memkit/memory/allocctx"
	"github.com/joshuapare/memkit/memory/native"
)

const testID memory.ProviderID = -16

// staticResolver serves one allocator under testID.
type staticResolver struct {
	a memory.Allocator
}

func (r staticResolver) GetAllocator(id memory.ProviderID) (memory.Allocator, error) {
	if id != testID {
		return nil, memory.ErrUnknownProvider
	}
	return r.a, nil
}

func newResolver(t *testing.T) (staticResolver, *testutil.Recorder) {
	t.Helper()
	rec := testutil.NewRecorder(native.New())
	return staticResolver{a: rec}, rec
}

// noRealloc rejects every resize.
type noRealloc struct {
	memory.Allocator
}

func (noRealloc) TryRealloc(uintptr, int, int) memory.ReallocResult { return memory.NotSuccess }

func TestAllocateUnknownProvider(t *testing.T) {
	r, _ := newResolver(t)
	_, err := Allocate(r, 99, 8)
	require.ErrorIs(t, err, memory.ErrUnknownProvider)
}

func TestBorrowNeverFrees(t *testing.T) {
	r, rec := newResolver(t)

	h, err := Allocate(r, testID, 64)
	require.NoError(t, err)
	require.True(t, h.IsOwner())
	require.True(t, h.IsValid())
	require.Len(t, h.Bytes(), 64)

	b := h.Borrow()
	assert.False(t, b.IsOwner())
	assert.Equal(t, h.Address(), b.Address())
	assert.Equal(t, h.Size(), b.Size())
	require.NoError(t, b.Dispose())
	again := h.Borrow()
	require.NoError(t, again.Dispose())
	assert.Equal(t, 0, rec.Frees())

	require.NoError(t, h.Dispose())
	assert.Equal(t, 1, rec.Frees())
	assert.False(t, h.IsValid())
	assert.Equal(t, memory.Invalid, h.Provider())
	assert.Nil(t, h.Bytes())

	require.NoError(t, h.Dispose())
	assert.Equal(t, 1, rec.Frees())
}

func TestTakeMovesOwnership(t *testing.T) {
	r, rec := newResolver(t)

	h, err := Allocate(r, testID, 32)
	require.NoError(t, err)

	moved := h.Take()
	assert.True(t, moved.IsOwner())
	assert.False(t, h.IsOwner())
	assert.Equal(t, h.Address(), moved.Address())

	require.NoError(t, h.Dispose())
	assert.Equal(t, 0, rec.Frees())

	// Taking from a non-owner yields a non-owner.
	again := h.Take()
	assert.False(t, again.IsOwner())
	require.NoError(t, again.Dispose())
	assert.Equal(t, 0, rec.Frees())

	require.NoError(t, moved.Dispose())
	assert.Equal(t, 1, rec.Frees())
	testutil.RequireAllFreed(t, rec)
}

func TestResize(t *testing.T) {
	t.Run("in place or moved by the allocator", func(t *testing.T) {
		r, rec := newResolver(t)
		h, err := Allocate(r, testID, 16)
		require.NoError(t, err)
		testutil.Fill(h.Address(), 16, 9)

		require.NoError(t, h.Resize(1<<16))
		assert.Equal(t, 1<<16, h.Size())
		testutil.RequirePattern(t, h.Address(), 16, 9)
		assert.Equal(t, 1, rec.Reallocs())

		require.NoError(t, h.Dispose())
		testutil.RequireAllFreed(t, rec)
	})

	t.Run("copy fallback", func(t *testing.T) {
		rec := testutil.NewRecorder(noRealloc{native.New()})
		r := staticResolver{a: rec}
		h, err := Allocate(r, testID, 16)
		require.NoError(t, err)
		old := h.Address()
		testutil.Fill(old, 16, 4)

		require.NoError(t, h.Resize(64))
		assert.NotEqual(t, old, h.Address())
		testutil.RequirePattern(t, h.Address(), 16, 4)
		assert.Equal(t, 2, rec.Allocs())
		assert.Equal(t, 1, rec.Frees())

		require.NoError(t, h.Resize(8))
		testutil.RequirePattern(t, h.Address(), 8, 4)

		require.NoError(t, h.Dispose())
		assert.Equal(t, 0, rec.Live())
	})

	t.Run("borrowed", func(t *testing.T) {
		r, _ := newResolver(t)
		h, err := Allocate(r, testID, 16)
		require.NoError(t, err)
		defer h.Dispose()

		b := h.Borrow()
		require.ErrorIs(t, b.Resize(32), memory.ErrNotOwner)
		require.ErrorIs(t, h.Resize(-1), memory.ErrNegativeSize)
	})

	t.Run("disposed", func(t *testing.T) {
		var h Handle
		require.Error(t, h.Resize(8))
	})
}

type point struct {
	X, Y int32
	Tag  [4]byte
}

func TestBox(t *testing.T) {
	r, rec := newResolver(t)

	b, err := NewBox(r, testID, point{X: 1, Y: 2, Tag: [4]byte{'a'}})
	require.NoError(t, err)
	assert.Equal(t, point{X: 1, Y: 2, Tag: [4]byte{'a'}}, b.Value())

	b.Get().X = 10
	assert.Equal(t, int32(10), b.Value().X)

	b.Set(point{Y: 7})
	assert.Equal(t, point{Y: 7}, b.Value())

	view := b.Borrow()
	require.NoError(t, view.Dispose())
	assert.Equal(t, int32(7), b.Value().Y)

	moved := b.Take()
	assert.False(t, b.IsOwner())
	require.NoError(t, moved.Dispose())
	assert.False(t, moved.IsValid())
	assert.Nil(t, moved.Get())
	assert.Equal(t, point{}, moved.Value())
	assert.Panics(t, func() { moved.Set(point{}) })
	assert.Equal(t, 1, rec.Frees())
}

func TestBoxRejectsPointerTypes(t *testing.T) {
	r, rec := newResolver(t)

	_, err := NewBox(r, testID, new(int))
	require.ErrorIs(t, err, memory.ErrPointerType)
	_, err = NewBox(r, testID, "text")
	require.ErrorIs(t, err, memory.ErrPointerType)
	_, err = NewBox(r, testID, struct {
		N    int
		Data []byte
	}{})
	require.ErrorIs(t, err, memory.ErrPointerType)
	_, err = NewBox[any](r, testID, 1)
	require.ErrorIs(t, err, memory.ErrPointerType)
	_, err = NewSpan[map[int]int](r, testID, 1)
	require.ErrorIs(t, err, memory.ErrPointerType)
	assert.Equal(t, 0, rec.Allocs())

	// Cached answer.
	_, err = NewBox(r, testID, "again")
	require.ErrorIs(t, err, memory.ErrPointerType)

	ok, err := NewBox(r, testID, [3]float64{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, ok.Dispose())
}

func TestSpan(t *testing.T) {
	r, rec := newResolver(t)

	s, err := NewSpan[int64](r, testID, 10)
	require.NoError(t, err)
	require.Equal(t, 10, s.Len())
	for i, v := range s.Slice() {
		require.Zero(t, v)
		s.Slice()[i] = int64(i * i)
	}
	assert.Equal(t, int64(81), *s.At(9))
	assert.Panics(t, func() { s.At(10) })
	assert.Panics(t, func() { s.At(-1) })

	require.NoError(t, s.Grow(0))
	require.NoError(t, s.Grow(5))
	require.Equal(t, 15, s.Len())
	for i := range 10 {
		require.Equal(t, int64(i*i), *s.At(i))
	}
	for i := 10; i < 15; i++ {
		require.Zero(t, *s.At(i))
	}
	require.ErrorIs(t, s.Grow(-1), memory.ErrNegativeSize)

	borrowed := s.Borrow()
	require.ErrorIs(t, borrowed.Grow(1), memory.ErrNotOwner)
	require.NoError(t, borrowed.Dispose())
	require.Equal(t, 15, s.Len())

	require.NoError(t, s.Dispose())
	assert.Equal(t, 0, s.Len())
	assert.Nil(t, s.Slice())
	assert.Equal(t, 0, rec.Live())

	_, err = NewSpan[int32](r, testID, -1)
	require.ErrorIs(t, err, memory.ErrNegativeSize)
}

func TestSpanGrowZeroesReusedBytes(t *testing.T) {
	r, _ := newResolver(t)

	s, err := NewSpan[byte](r, testID, 64)
	require.NoError(t, err)
	for i := range s.Slice() {
		s.Slice()[i] = 0xFF
	}

	// Shrink the block in place, keeping the stale bytes beyond it, then grow back.
	h := s.Handle()
	res := r.a.TryRealloc(h.Address(), 8, 8)
	require.True(t, res.Success())
	s.h.size, s.n = 8, 8

	require.NoError(t, s.Grow(56))
	for i := 8; i < 64; i++ {
		require.Zero(t, *s.At(i), "byte %d", i)
	}
	require.NoError(t, s.Dispose())
}

// Handles allocated inside a scope on a user scoped provider: half are disposed
// by their owners, the scope releases the rest, and late disposal is harmless.
func TestScopedHandles(t *testing.T) {
	rec := testutil.NewRecorder(native.New())
	d, err := allocctx.NewDispatcher(&allocctx.Options{Backing: rec, Now: testutil.NewClock().Now})
	require.NoError(t, err)
	ctx := allocctx.NewContext()
	require.NoError(t, ctx.SetImplementation(d))
	defer ctx.Close()

	const id memory.ProviderID = 16
	require.NoError(t, ctx.SetAllocatorProvider(d.NewArenaProvider(), id, true))
	require.NoError(t, ctx.FinalizeConfiguration())

	scope, err := ctx.BeginAllocationScope(id)
	require.NoError(t, err)

	handles := make([]Handle, 100)
	for i := range handles {
		handles[i], err = Allocate(scope, id, 64)
		require.NoError(t, err)
	}
	for i := range handles[:50] {
		require.NoError(t, handles[i].Dispose())
	}
	require.NoError(t, scope.Close())

	for i := range handles[50:] {
		require.NoError(t, handles[50+i].Dispose())
	}

	require.NoError(t, d.ClearCachedMemory())
	assert.Equal(t, 100, rec.Frees())
	assert.True(t, d.Cache().Stats().ClientIsAllFreed())
	assert.True(t, ctx.MustGetAllocator(id).Stats().ClientIsAllFreed())
	testutil.RequireAllFreed(t, rec)
}

func newDefaultContext(t *testing.T) (*allocctx.Context, *allocctx.Dispatcher) {
	t.Helper()
	d, err := allocctx.NewDispatcher(&allocctx.Options{Now: testutil.NewClock().Now})
	require.NoError(t, err)
	ctx := allocctx.NewContext()
	require.NoError(t, ctx.SetImplementation(d))
	t.Cleanup(func() { require.NoError(t, ctx.Close()) })
	return ctx, d
}

// Closing one scope must not release handles that live in another scope on the
// same provider, even when the other scope was opened first.
func TestScopeCloseLeavesOtherScopesHandles(t *testing.T) {
	ctx, _ := newDefaultContext(t)

	first, err := ctx.BeginAllocationScope(memory.Default)
	require.NoError(t, err)
	second, err := ctx.BeginAllocationScope(memory.Default)
	require.NoError(t, err)

	kept, err := Allocate(first, memory.Default, 64)
	require.NoError(t, err)
	testutil.Fill(kept.Address(), 64, 11)
	unscoped, err := Allocate(ctx, memory.Default, 64)
	require.NoError(t, err)
	testutil.Fill(unscoped.Address(), 64, 12)

	require.NoError(t, second.Close())

	// Blocks handed out after the close must not alias the live ones.
	others := make([]Handle, 8)
	for i := range others {
		others[i], err = Allocate(ctx, memory.DefaultUnscoped, 64)
		require.NoError(t, err)
		require.NotEqual(t, kept.Address(), others[i].Address())
		require.NotEqual(t, unscoped.Address(), others[i].Address())
		testutil.Fill(others[i].Address(), 64, 0xEE)
	}
	testutil.RequirePattern(t, kept.Address(), 64, 11)
	testutil.RequirePattern(t, unscoped.Address(), 64, 12)

	require.True(t, kept.IsOwner())
	require.NoError(t, kept.Dispose())
	require.NoError(t, first.Close())
	require.NoError(t, unscoped.Dispose())
	for i := range others {
		require.NoError(t, others[i].Dispose())
	}
}

func TestConcurrentScopedHandles(t *testing.T) {
	ctx, d := newDefaultContext(t)

	const workers, rounds, perScope = 2, 50, 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func(seed byte) {
			defer wg.Done()
			<-start
			for range rounds {
				scope, err := ctx.BeginAllocationScope(memory.Default)
				if err != nil {
					t.Error(err)
					return
				}
				handles := make([]Handle, perScope)
				for i := range handles {
					if handles[i], err = Allocate(scope, memory.Default, 64); err != nil {
						t.Error(err)
						return
					}
					testutil.Fill(handles[i].Address(), 64, seed)
				}
				for i := range handles {
					b := handles[i].Bytes()
					for j, v := range b {
						if v != seed+byte(j) {
							t.Errorf("worker %d: handle %d byte %d clobbered: %#x", seed, i, j, v)
							return
						}
					}
				}
				for i := range handles[:perScope/2] {
					if err := handles[i].Dispose(); err != nil {
						t.Error(err)
						return
					}
				}
				if err := scope.Close(); err != nil {
					t.Error(err)
					return
				}
			}
		}(byte(w * 100))
	}
	close(start)
	wg.Wait()

	require.True(t, ctx.MustGetAllocator(memory.Default).Stats().ClientIsAllFreed())
	require.NoError(t, d.ClearCachedMemory())
	require.True(t, d.Cache().Stats().ClientIsAllFreed())
}
