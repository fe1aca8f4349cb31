package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitWritesAtLevel(t *testing.T) {
	t.Cleanup(func() { Set(nil) })

	var out bytes.Buffer
	require.NoError(t, Init(Options{Enabled: true, Level: slog.LevelWarn, Output: &out}))

	Info("hidden")
	Warn("shown", "k", 1)

	require.NotContains(t, out.String(), "hidden")
	require.Contains(t, out.String(), "shown")
	require.Contains(t, out.String(), "k=1")
	require.True(t, Enabled(slog.LevelError))
	require.False(t, Enabled(slog.LevelDebug))
}

func TestInitJSON(t *testing.T) {
	t.Cleanup(func() { Set(nil) })

	var out bytes.Buffer
	require.NoError(t, Init(Options{Enabled: true, Level: slog.LevelDebug, Output: &out, JSON: true}))
	Debug("sweep", "evicted", 3)

	require.Contains(t, out.String(), `"msg":"sweep"`)
	require.Contains(t, out.String(), `"evicted":3`)
}

func TestDisabledDiscards(t *testing.T) {
	require.NoError(t, Init(Options{Enabled: false}))
	require.False(t, Enabled(slog.LevelError))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in    string
		level slog.Level
		ok    bool
	}{
		{"debug", slog.LevelDebug, true},
		{" INFO ", slog.LevelInfo, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"", 0, false},
		{"verbose", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			lvl, ok := ParseLevel(tt.in)
			require.Equal(t, tt.ok, ok)
			if ok {
				require.Equal(t, tt.level, lvl)
			}
		})
	}
}
