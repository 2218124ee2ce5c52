// Package gpucore defines the GPU boundary used by the streaming layer,
// the frame composer and the orchestrator.
//
// Everything above this package talks to the GPU through GPUAdapter. The
// production implementation lives in backend/native and is built on
// gogpu/wgpu/hal; tests use the scriptable fake in gpucore/gputest.
package gpucore

import (
	"errors"
	"time"

	"github.com/gogpu/gputypes"
)

// Adapter errors.
var (
	// ErrFenceTimeout is returned when a fence did not signal within the
	// adapter's fence timeout. It indicates a driver-level stall.
	ErrFenceTimeout = errors.New("gpucore: fence wait timed out")

	// ErrDeviceLost is returned when the underlying device is gone.
	ErrDeviceLost = errors.New("gpucore: device lost")

	// ErrUnknownResource is returned when an ID does not name a live resource.
	ErrUnknownResource = errors.New("gpucore: unknown resource")
)

// BufferID identifies a GPU buffer owned by an adapter.
type BufferID uint64

// TextureID identifies a GPU texture owned by an adapter.
type TextureID uint64

// InvalidID is the zero ID. No live resource ever uses it.
const InvalidID = 0

// DefaultUniformAlignment is the WebGPU default for
// minUniformBufferOffsetAlignment.
const DefaultUniformAlignment = 256

// DefaultFenceTimeout bounds a single blocking fence wait.
const DefaultFenceTimeout = 5 * time.Second

// TextureDesc describes a render target texture to create.
type TextureDesc struct {
	// Label is an optional debug name.
	Label string

	// Width and Height are the texture size in pixels.
	Width, Height uint32

	// Format is the pixel format.
	Format gputypes.TextureFormat
}

// Fence is a GPU-to-CPU synchronization point inserted after submitted work.
//
// A fence signals once every command submitted before it was inserted has
// completed on the GPU.
type Fence interface {
	// Signaled reports whether the fence has signaled. It never blocks.
	Signaled() bool

	// Wait blocks until the fence signals. It returns an error wrapping
	// ErrFenceTimeout if the adapter's timeout elapses first.
	Wait() error

	// Release frees the fence. Releasing an unsignaled fence is allowed.
	Release()
}

// GPUAdapter abstracts the GPU operations this module needs.
//
// Resource lifecycle:
//   - Resources are created via Create* methods
//   - Resources must be explicitly destroyed via Destroy* methods
//   - Destroy may be called while submitted work still references the
//     resource; implementations defer the physical release until that work
//     has completed
//   - IDs become invalid after destruction and must not be reused
//
// GPUAdapter is used from the render goroutine only.
type GPUAdapter interface {
	// MinUniformAlignment returns the device's minimum uniform buffer
	// offset alignment in bytes. It is always a power of two.
	MinUniformAlignment() uint64

	// CreateBuffer creates a CPU-writable GPU buffer.
	CreateBuffer(label string, size uint64, usage gputypes.BufferUsage) (BufferID, error)

	// DestroyBuffer releases a buffer.
	DestroyBuffer(id BufferID)

	// WriteBuffer uploads data at offset. The write is ordered before any
	// work submitted afterwards.
	WriteBuffer(id BufferID, offset uint64, data []byte) error

	// CreateTexture creates a 2D render target texture.
	CreateTexture(desc TextureDesc) (TextureID, error)

	// DestroyTexture releases a texture.
	DestroyTexture(id TextureID)

	// ClearTarget records a pass that clears color (and depth, if non-zero)
	// to the given values.
	ClearTarget(color TextureID, depth TextureID, clear gputypes.Color) error

	// Submit submits all work recorded since the previous Submit.
	Submit() error

	// InsertFence inserts a fence after all work submitted so far.
	InsertFence() (Fence, error)
}
