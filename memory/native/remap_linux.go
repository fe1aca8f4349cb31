//go:build linux

package native

import (
	"golang.org/x/sys/unix"
)

// sysRemap grows or shrinks a mapping, moving it when the kernel cannot extend it
// in place. On error the original mapping is untouched.
func sysRemap(data []byte, length int) ([]byte, error) {
	return unix.Mremap(data, length, unix.MREMAP_MAYMOVE)
}
