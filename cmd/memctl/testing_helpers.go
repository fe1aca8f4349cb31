package main

import (
	"bytes"
	"os"
	"testing"
)

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	done := make(chan struct{})
	var buf bytes.Buffer
	go func() {
		defer close(done)
		_, _ = buf.ReadFrom(r)
	}()

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout
	<-done
	r.Close()

	return buf.String(), fnErr
}

// resetFlags restores every package-level flag to its default.
func resetFlags() {
	verbose, jsonOut, noColor, configFile = false, false, true, ""
	stressGoroutines, stressIterations, stressMaxSize, stressSeed = 2, 10_000, 1<<20, 0
	scopeBlocks, scopeSize, scopeDispose, scopeProvider = 100, 64, 50, 16
}
