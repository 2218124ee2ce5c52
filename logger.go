package voxelframe

import (
	"log/slog"

	"github.com/gogpu/voxelframe/internal/logging"
)

// SetLogger configures the logger for voxelframe and all its sub-packages.
// By default, voxelframe produces no log output. Call SetLogger to enable
// logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by voxelframe:
//   - [slog.LevelDebug]: per-frame diagnostics (ring stalls, pool allocations)
//   - [slog.LevelInfo]: lifecycle events (device opened, uniform arena growth)
//   - [slog.LevelWarn]: degraded paths (optional stage skipped, bake failed)
//
// Example:
//
//	voxelframe.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	logging.Set(l)
}

// Logger returns the current logger used by voxelframe.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return logging.Logger()
}
