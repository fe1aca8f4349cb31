//go:build unix

package native

import (
	"golang.org/x/sys/unix"
)

func sysPageSize() int {
	return unix.Getpagesize()
}

// sysMap maps length bytes of private anonymous memory.
func sysMap(length int) ([]byte, error) {
	return unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

// sysUnmap releases a mapping returned by sysMap or sysRemap.
func sysUnmap(data []byte) error {
	return unix.Munmap(data)
}
