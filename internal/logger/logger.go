// Package logger holds the slog logger shared by every canvas package.
//
// The root canvas package exposes SetLogger/Logger; sub-packages call Get so
// that they share one configuration without importing the root package.
package logger

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// loggerPtr stores the active logger. Accessed atomically so that Set can be
// called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(nopHandler{}))
}

// Get returns the current logger. It never returns nil.
func Get() *slog.Logger {
	return loggerPtr.Load()
}

// Set replaces the current logger. Passing nil restores the silent default.
func Set(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)
}

// Assert reports a recoverable invariant violation. When ok is false the
// condition is logged at warn level and false is returned, letting the
// caller fall back to a safe default:
//
//	if !logger.Assert(dev != nil, "transaction without device") {
//	    return undo.Empty
//	}
func Assert(ok bool, msg string, args ...any) bool {
	if !ok {
		Get().Warn("assertion failed: "+msg, args...)
	}
	return ok
}
