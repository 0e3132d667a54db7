package pipestate

import (
	"log/slog"

	"github.com/gogpu/pipestate/intern"
	"github.com/gogpu/pipestate/internal/logging"
	"github.com/gogpu/pipestate/pipeline"
	"github.com/gogpu/pipestate/pool"
	"github.com/gogpu/pipestate/program"
)

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr logging.Pointer

// SetLogger configures the logger for pipestate and all its sub-packages.
// By default, pipestate produces no log output. Call SetLogger to enable
// logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by pipestate:
//   - [slog.LevelDebug]: compiles, cache misses, pool wraps, evictions
//   - [slog.LevelInfo]: context creation and destruction
//   - [slog.LevelWarn]: fence-wait stalls
//
// Example:
//
//	pipestate.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	loggerPtr.Store(l)
	l = loggerPtr.Load()

	pool.SetLogger(l)
	pipeline.SetLogger(l)
	intern.SetLogger(l)
	program.SetLogger(l)
}

// Logger returns the current logger used by pipestate.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
