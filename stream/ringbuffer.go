// Package stream feeds rapidly changing data to the GPU without CPU/GPU
// stalls on the common path.
//
// RingBuffer rotates through N physical buffers guarded by fences, so the
// CPU writes into a buffer the GPU has finished reading. UniformArena packs
// many small per-draw uniform values into one growable ring-backed buffer per
// frame.
//
// Call pattern for both types: write any number of times during a frame,
// submit the frame's GPU work, then call Rotate (RingBuffer) or EndFrame
// (UniformArena) exactly once. Rotating before submission would let the
// next writer overwrite data the GPU has not consumed yet.
package stream

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/voxelframe/internal/gpucore"
	"github.com/gogpu/voxelframe/internal/logging"
)

// DefaultDepth is the number of physical buffers in a RingBuffer.
// Visible latency is bounded to DefaultDepth-1 frames.
const DefaultDepth = 3

// Stream errors.
var (
	// ErrClosed is returned when using a closed RingBuffer or UniformArena.
	ErrClosed = errors.New("stream: closed")

	// ErrInvalidSize is returned for zero buffer or value sizes.
	ErrInvalidSize = errors.New("stream: invalid size")
)

// RingBuffer supplies a CPU-writable GPU buffer for a rapidly updated object.
//
// Slot i is never handed out again until the fence inserted when it was last
// rotated away has signaled. With depth N, Current blocks only when all N
// slots are still in flight on the GPU.
//
// RingBuffer is not safe for concurrent use; it belongs to the render
// goroutine.
type RingBuffer struct {
	adapter gpucore.GPUAdapter
	label   string
	size    uint64

	buffers []gpucore.BufferID
	fences  []gpucore.Fence
	current int

	closed bool
}

// NewRingBuffer creates depth physical buffers of size bytes each.
// A depth of zero or less selects DefaultDepth.
func NewRingBuffer(adapter gpucore.GPUAdapter, label string, size uint64, usage gputypes.BufferUsage, depth int) (*RingBuffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: ring buffer %q has size 0", ErrInvalidSize, label)
	}
	if depth <= 0 {
		depth = DefaultDepth
	}

	r := &RingBuffer{
		adapter: adapter,
		label:   label,
		size:    size,
		buffers: make([]gpucore.BufferID, 0, depth),
		fences:  make([]gpucore.Fence, depth),
	}
	for i := range depth {
		id, err := adapter.CreateBuffer(fmt.Sprintf("%s#%d", label, i), size, usage)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("create ring buffer %q slot %d: %w", label, i, err)
		}
		r.buffers = append(r.buffers, id)
	}
	return r, nil
}

// Size returns the size of each physical buffer in bytes.
func (r *RingBuffer) Size() uint64 { return r.size }

// Depth returns the number of physical buffers.
func (r *RingBuffer) Depth() int { return len(r.buffers) }

// Index returns the index of the current slot.
func (r *RingBuffer) Index() int { return r.current }

// Current returns the buffer for the current slot.
//
// If the slot still holds a fence from its previous use, Current blocks
// until that fence signals. The fence is released afterwards, so repeated
// calls within one frame return immediately.
func (r *RingBuffer) Current() (gpucore.BufferID, error) {
	if r.closed {
		return gpucore.InvalidID, ErrClosed
	}
	if f := r.fences[r.current]; f != nil {
		if !f.Signaled() {
			logging.Logger().Debug("stream: ring slot still in flight, waiting",
				slog.String("ring", r.label), slog.Int("slot", r.current))
			if err := f.Wait(); err != nil {
				return gpucore.InvalidID, fmt.Errorf("ring %q slot %d: %w", r.label, r.current, err)
			}
		}
		f.Release()
		r.fences[r.current] = nil
	}
	return r.buffers[r.current], nil
}

// Rotate fences the current slot and advances to the next one.
//
// Rotate must be called after the GPU work that reads the current slot has
// been submitted.
func (r *RingBuffer) Rotate() error {
	if r.closed {
		return ErrClosed
	}
	f, err := r.adapter.InsertFence()
	if err != nil {
		return fmt.Errorf("ring %q: insert fence: %w", r.label, err)
	}
	// A slot that was never read this cycle may still hold its older fence;
	// the new fence signals no earlier, so it replaces it.
	if old := r.fences[r.current]; old != nil {
		old.Release()
	}
	r.fences[r.current] = f
	r.current = (r.current + 1) % len(r.buffers)
	return nil
}

// Close destroys every physical buffer and releases outstanding fences.
// Close is idempotent.
func (r *RingBuffer) Close() {
	if r.closed {
		return
	}
	r.closed = true
	for i, f := range r.fences {
		if f != nil {
			f.Release()
			r.fences[i] = nil
		}
	}
	for _, id := range r.buffers {
		r.adapter.DestroyBuffer(id)
	}
	r.buffers = nil
}

// Closed reports whether Close has been called.
func (r *RingBuffer) Closed() bool { return r.closed }
