// Package logger holds the process-wide structured logger used by the allocator engine.
//
// Output is discarded until Init or Set is called, or until MEMKIT_LOG names a level
// at process start, in which case text records go to stderr.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// EnvLevel is the environment variable that enables stderr logging at startup.
const EnvLevel = "MEMKIT_LOG"

var current atomic.Pointer[slog.Logger]

func init() {
	current.Store(discard())
	if lvl, ok := ParseLevel(os.Getenv(EnvLevel)); ok {
		_ = Init(Options{Enabled: true, Level: lvl, Output: os.Stderr})
	}
}

// Options configures the logger initialization.
type Options struct {
	Enabled bool       // If false, all logging is discarded
	Level   slog.Level // Minimum log level. Default: LevelInfo when enabled
	Output  io.Writer  // Destination. Default: os.Stderr
	JSON    bool       // Emit JSON records instead of text
}

// Init configures logging.
func Init(opts Options) error {
	if !opts.Enabled {
		current.Store(discard())
		return nil
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	level := opts.Level
	if level == 0 {
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if opts.JSON {
		current.Store(slog.New(slog.NewJSONHandler(out, handlerOpts)))
	} else {
		current.Store(slog.New(slog.NewTextHandler(out, handlerOpts)))
	}
	return nil
}

// Set installs l as the engine logger. A nil logger restores the discarding default.
func Set(l *slog.Logger) {
	if l == nil {
		l = discard()
	}
	current.Store(l)
}

// L returns the current logger.
func L() *slog.Logger { return current.Load() }

// Enabled reports whether records at level would be emitted.
func Enabled(level slog.Level) bool {
	return current.Load().Enabled(context.Background(), level)
}

// ParseLevel maps debug/info/warn/error (case-insensitive) to a slog level.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "1", "true":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return 0, false
	}
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Debug logs a debug message with optional key-value pairs.
func Debug(msg string, args ...any) { current.Load().Debug(msg, args...) }

// Info logs an info message with optional key-value pairs.
func Info(msg string, args ...any) { current.Load().Info(msg, args...) }

// Warn logs a warning message with optional key-value pairs.
func Warn(msg string, args ...any) { current.Load().Warn(msg, args...) }

// Error logs an error message with optional key-value pairs.
func Error(msg string, args ...any) { current.Load().Error(msg, args...) }
