//go:build !linux

package native

func sysRemap(data []byte, length int) ([]byte, error) {
	return copyRemap(data, length)
}
