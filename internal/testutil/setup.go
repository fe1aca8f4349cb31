package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joshuapare/memkit/internal/buf"
	"github.com/joshuapare/memkit/memory"
)

// Fill writes a position-dependent pattern seeded by seed into n bytes at ptr.
func Fill(ptr uintptr, n int, seed byte) {
	view := buf.Bytes(ptr, n)
	for i := range view {
		view[i] = seed + byte(i)
	}
}

// RequirePattern fails the test unless n bytes at ptr hold the pattern written by Fill.
func RequirePattern(t testing.TB, ptr uintptr, n int, seed byte) {
	t.Helper()
	view := buf.Bytes(ptr, n)
	for i, b := range view {
		if b != seed+byte(i) {
			t.Fatalf("byte %d at %#x: got %#x, want %#x", i, ptr, b, seed+byte(i))
		}
	}
}

// RequireZeroed fails the test unless n bytes at ptr are all zero.
func RequireZeroed(t testing.TB, ptr uintptr, n int) {
	t.Helper()
	for i, b := range buf.Bytes(ptr, n) {
		if b != 0 {
			t.Fatalf("byte %d at %#x not zeroed: %#x", i, ptr, b)
		}
	}
}

// RequireAllFreed fails the test unless every byte the allocator obtained or handed
// out has been returned.
func RequireAllFreed(t testing.TB, a memory.Allocator) {
	t.Helper()
	s := a.Stats()
	if !s.ClientIsAllFreed() {
		t.Fatalf("client bytes outstanding: %d", s.ClientOutstanding())
	}
	if !s.IsAllFreed() {
		t.Fatalf("self bytes outstanding: %d", s.SelfOutstanding())
	}
}

// WriteFile writes content to name inside a fresh temporary directory and returns its path.
func WriteFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
