//go:build !unix && !windows

package native

import (
	"os"

	"github.com/joshuapare/memkit/internal/buf"
	"github.com/joshuapare/memkit/memory"
)

func sysPageSize() int {
	return os.Getpagesize()
}

// sysMap hands out an aligned Go heap slice when no mapping API is available.
// The live table keeps the slice reachable; the Go heap does not move objects.
func sysMap(length int) ([]byte, error) {
	raw := make([]byte, length+memory.Alignment)
	addr := buf.Address(raw)
	shift := 0
	if rem := int(addr % memory.Alignment); rem != 0 {
		shift = memory.Alignment - rem
	}
	return raw[shift : shift+length : shift+length], nil
}

func sysUnmap(data []byte) error {
	return nil
}
