package native

import "errors"

// Package errors for the HAL backend.
var (
	// ErrNoGPU is returned when no GPU adapter is available.
	ErrNoGPU = errors.New("native: no GPU adapter available")

	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("native: unknown backend")

	// ErrNoHAL is returned when a device provider does not expose HAL types.
	ErrNoHAL = errors.New("native: provider does not expose HAL device")

	// ErrInvalidDimensions is returned when width or height is zero.
	ErrInvalidDimensions = errors.New("native: invalid dimensions")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("native: adapter closed")
)
