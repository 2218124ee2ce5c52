// Package logging holds the logger shared by every voxelframe package.
//
// The root package configures it through voxelframe.SetLogger. Sub-packages
// read it with Logger so they do not import the root package.
package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler silently discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// loggerPtr stores the active logger. Accessed atomically for thread safety.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(nopHandler{}))
}

// Logger returns the current logger.
func Logger() *slog.Logger { return loggerPtr.Load() }

// Set replaces the shared logger. Nil restores the silent default.
func Set(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)
}

// Enabled reports whether the current logger emits records at level.
// Hot paths check it before building attributes.
func Enabled(level slog.Level) bool {
	return Logger().Enabled(context.Background(), level)
}
