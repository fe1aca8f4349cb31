//go:build windows

package native

import (
	"golang.org/x/sys/windows"

	"github.com/joshuapare/memkit/internal/buf"
)

func sysPageSize() int {
	return windows.Getpagesize()
}

// sysMap reserves and commits length bytes of read-write memory.
func sysMap(length int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(
		0,
		uintptr(length),
		windows.MEM_COMMIT|windows.MEM_RESERVE,
		windows.PAGE_READWRITE,
	)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(addr, length), nil
}

// sysUnmap releases the whole reservation behind data.
func sysUnmap(data []byte) error {
	return windows.VirtualFree(buf.Address(data), 0, windows.MEM_RELEASE)
}
