package canvas

import (
	"log/slog"

	"github.com/gogpu/canvas/internal/logger"
)

// SetLogger configures the logger for canvas and all its sub-packages.
// By default, canvas produces no log output. Call SetLogger to enable
// logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by canvas:
//   - [slog.LevelDebug]: internal diagnostics (stroke lifecycle, recalculation)
//   - [slog.LevelInfo]: lifecycle events (image created, color space converted)
//   - [slog.LevelWarn]: recoverable misuse (failed assertions, undo misuse)
//
// Example:
//
//	// Enable debug-level logging for full diagnostics:
//	canvas.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	logger.Set(l)
}

// Logger returns the current logger used by canvas.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return logger.Get()
}
