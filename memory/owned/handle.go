package owned

import (
	"fmt"

	"github.com/joshuapare/memkit/internal/buf"
	"github.com/joshuapare/memkit/memory"
)

// Resolver maps a provider id to its allocator. *allocctx.Context and
// *allocctx.Scope implement it.
type Resolver interface {
	GetAllocator(id memory.ProviderID) (memory.Allocator, error)
}

// Handle refers to a block of unmanaged memory.
type Handle struct {
	res  Resolver
	ptr  uintptr
	size int
	id   memory.ProviderID
	owns bool
}

// Allocate returns an owning handle to a zeroed block of size bytes from provider id.
func Allocate(r Resolver, id memory.ProviderID, size int) (Handle, error) {
	a, err := r.GetAllocator(id)
	if err != nil {
		return Handle{}, err
	}
	ptr, err := a.Allocate(size)
	if err != nil {
		return Handle{}, fmt.Errorf("owned: allocate %d bytes from %s: %w", size, id, err)
	}
	return Handle{res: r, ptr: ptr, size: size, id: id, owns: true}, nil
}

// Address is the block's address, or 0 for an invalid handle.
func (h Handle) Address() uintptr { return h.ptr }

// Size is the usable size of the block in bytes.
func (h Handle) Size() int { return h.size }

// Provider is the id the block was allocated from; memory.Invalid once disposed.
func (h Handle) Provider() memory.ProviderID { return h.id }

// IsOwner reports whether disposing h frees the block.
func (h Handle) IsOwner() bool { return h.owns }

// IsValid reports whether h refers to a block.
func (h Handle) IsValid() bool { return h.id != memory.Invalid }

// Bytes views the block. The view must not outlive the owning handle.
func (h Handle) Bytes() []byte {
	if !h.IsValid() {
		return nil
	}
	return buf.Bytes(h.ptr, h.size)
}

// Borrow returns a non-owning copy of h.
func (h Handle) Borrow() Handle {
	h.owns = false
	return h
}

// Take moves ownership out of h into the returned handle. If h does not own its
// block, neither does the result.
func (h *Handle) Take() Handle {
	out := *h
	h.owns = false
	return out
}

// Dispose frees the block if h owns it and marks h invalid. Disposing a borrowed,
// taken-from or already disposed handle does nothing.
func (h *Handle) Dispose() error {
	if !h.owns || h.id == memory.Invalid {
		h.owns = false
		return nil
	}
	a, err := h.res.GetAllocator(h.id)
	if err != nil {
		return fmt.Errorf("owned: dispose: %w", err)
	}
	if err := a.Free(h.ptr); err != nil {
		return fmt.Errorf("owned: dispose %#x: %w", h.ptr, err)
	}
	*h = Handle{}
	return nil
}

// Resize changes the block to size bytes, moving it if needed. Contents up to the
// smaller of the two sizes are kept; growth beyond the old size is not zeroed.
// Only the owner may resize.
func (h *Handle) Resize(size int) error {
	if !h.IsValid() {
		return fmt.Errorf("owned: resize: %w", memory.ErrClosed)
	}
	if !h.owns {
		return fmt.Errorf("owned: resize: %w", memory.ErrNotOwner)
	}
	if size < 0 {
		return fmt.Errorf("owned: resize to %d: %w", size, memory.ErrNegativeSize)
	}

	a, err := h.res.GetAllocator(h.id)
	if err != nil {
		return fmt.Errorf("owned: resize: %w", err)
	}
	if res := a.TryRealloc(h.ptr, size, size); res.Success() {
		h.ptr, h.size = res.Ptr, size
		return nil
	}

	// Rejected: the old block is intact, copy into a fresh one.
	ptr, err := a.Allocate(size)
	if err != nil {
		return fmt.Errorf("owned: resize to %d: %w", size, err)
	}
	buf.Copy(ptr, h.ptr, min(size, h.size))
	if err := a.Free(h.ptr); err != nil {
		_ = a.Free(ptr)
		return fmt.Errorf("owned: resize: release old block: %w", err)
	}
	h.ptr, h.size = ptr, size
	return nil
}
