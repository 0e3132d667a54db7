package pool

import (
	"log/slog"

	"github.com/gogpu/pipestate/internal/logging"
)

var logger logging.Pointer

func slogger() *slog.Logger { return logger.Load() }

// SetLogger configures the logger for the pool package.
// Pass nil to disable logging.
func SetLogger(l *slog.Logger) { logger.Store(l) }
