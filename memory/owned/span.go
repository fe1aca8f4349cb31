package owned

import (
	"fmt"
	"unsafe"

	"github.com/joshuapare/memkit/internal/buf"
	"github.com/joshuapare/memkit/memory"
)

// Span holds n contiguous T values in unmanaged memory.
type Span[T any] struct {
	h Handle
	n int
}

// NewSpan allocates n zeroed elements from provider id.
func NewSpan[T any](r Resolver, id memory.ProviderID, n int) (Span[T], error) {
	if err := checkPointerFree[T](); err != nil {
		return Span[T]{}, err
	}
	size, err := buf.SpanBytes(n, elemSize[T]())
	if err != nil {
		return Span[T]{}, fmt.Errorf("owned: span of %d: %w: %w", n, memory.ErrNegativeSize, err)
	}
	h, err := Allocate(r, id, size)
	if err != nil {
		return Span[T]{}, err
	}
	return Span[T]{h: h, n: n}, nil
}

// Len is the number of elements.
func (s Span[T]) Len() int { return s.n }

// Slice views the elements. The view must not outlive the owning span.
func (s Span[T]) Slice() []T {
	if !s.h.IsValid() || s.n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(buf.Pointer(s.h.ptr)), s.n)
}

// At returns a pointer to element i. It panics when i is out of range.
func (s Span[T]) At(i int) *T {
	if i < 0 || i >= s.n || !s.h.IsValid() {
		panic(fmt.Sprintf("owned: index %d out of range [0:%d]", i, s.n))
	}
	addr, _ := buf.Offset(s.h.ptr, i*elemSize[T]())
	return (*T)(buf.Pointer(addr))
}

// Grow appends n zeroed elements, moving the block if needed. Only the owner may grow.
func (s *Span[T]) Grow(n int) error {
	if n < 0 {
		return fmt.Errorf("owned: grow by %d: %w", n, memory.ErrNegativeSize)
	}
	if n == 0 {
		return nil
	}
	size := elemSize[T]()
	total, ok := buf.AddOverflowSafe(s.n, n)
	if !ok {
		return fmt.Errorf("owned: grow by %d: %w", n, memory.ErrNegativeSize)
	}
	bytes, err := buf.SpanBytes(total, size)
	if err != nil {
		return fmt.Errorf("owned: grow by %d: %w: %w", n, memory.ErrNegativeSize, err)
	}

	old := s.n * size
	if err := s.h.Resize(bytes); err != nil {
		return err
	}
	if tail, ok := buf.Offset(s.h.ptr, old); ok {
		buf.Zero(tail, bytes-old)
	}
	s.n = total
	return nil
}

func (s Span[T]) Handle() Handle { return s.h }
func (s Span[T]) IsOwner() bool { return s.h.IsOwner() }
func (s Span[T]) IsValid() bool { return s.h.IsValid() }
func (s Span[T]) Borrow() Span[T] { return Span[T]{h: s.h.Borrow(), n: s.n} }
func (s *Span[T]) Take() Span[T] { return Span[T]{h: s.h.Take(), n: s.n} }

// Dispose frees the elements if s owns them and empties s.
func (s *Span[T]) Dispose() error {
	if err := s.h.Dispose(); err != nil {
		return err
	}
	if !s.h.IsValid() {
		s.n = 0
	}
	return nil
}

func elemSize[T any]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}
