package owned

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"

	"github.com/joshuapare/memkit/internal/buf"
	"github.com/joshuapare/memkit/memory"
)

// Box holds one T in unmanaged memory.
type Box[T any] struct {
	h Handle
}

// NewBox allocates a T from provider id and stores v in it.
func NewBox[T any](r Resolver, id memory.ProviderID, v T) (Box[T], error) {
	if err := checkPointerFree[T](); err != nil {
		return Box[T]{}, err
	}
	var zero T
	h, err := Allocate(r, id, int(unsafe.Sizeof(zero)))
	if err != nil {
		return Box[T]{}, err
	}
	b := Box[T]{h: h}
	b.Set(v)
	return b, nil
}

// Get returns a pointer into the block, or nil for an invalid box.
func (b Box[T]) Get() *T {
	if !b.h.IsValid() {
		return nil
	}
	return (*T)(buf.Pointer(b.h.ptr))
}

// Value returns a copy of the stored value.
func (b Box[T]) Value() T {
	var v T
	if p := b.Get(); p != nil {
		v = *p
	}
	return v
}

// Set stores v. It panics on an invalid box.
func (b Box[T]) Set(v T) {
	p := b.Get()
	if p == nil {
		panic("owned: Set on invalid Box")
	}
	*p = v
}

func (b Box[T]) Handle() Handle { return b.h }
func (b Box[T]) IsOwner() bool { return b.h.IsOwner() }
func (b Box[T]) IsValid() bool { return b.h.IsValid() }
func (b Box[T]) Borrow() Box[T] { return Box[T]{h: b.h.Borrow()} }
func (b *Box[T]) Take() Box[T] { return Box[T]{h: b.h.Take()} }
func (b *Box[T]) Dispose() error { return b.h.Dispose() }

var pointerFree sync.Map // reflect.Type -> bool

func checkPointerFree[T any]() error {
	t := reflect.TypeFor[T]()
	if v, ok := pointerFree.Load(t); ok {
		if v.(bool) { //nolint:errcheck // map holds only bool
			return nil
		}
	} else {
		free := !hasPointers(t)
		pointerFree.Store(t, free)
		if free {
			return nil
		}
	}
	return fmt.Errorf("owned: %s: %w", t, memory.ErrPointerType)
}

func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return false
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		return true
	}
}
