package memory

import (
	"log/slog"

	"github.com/joshuapare/memkit/internal/logger"
)

// SetLogger routes the engine's diagnostic records (provider registration, cache
// sweeps, scope teardown) to l. A nil logger discards them again.
func SetLogger(l *slog.Logger) {
	logger.Set(l)
}
