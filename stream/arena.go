package stream

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/voxelframe/internal/gpucore"
	"github.com/gogpu/voxelframe/internal/logging"
)

// Slice is a byte range inside a GPU buffer holding one uniform block.
type Slice struct {
	Buffer gpucore.BufferID
	Offset uint64
	Size   uint64
}

// UniformArena packs fixed-size uniform blocks into one growable
// ring-backed buffer per frame.
//
// Block indices within a frame are unique and increase monotonically. When
// the next index reaches capacity, the arena doubles its capacity by
// allocating a larger ring; the old ring joins a retirement list because
// draws recorded earlier in the frame still reference its slices. Retired
// rings are closed by EndFrame. Indexing continues in the new ring, so a
// frame that writes W blocks into an arena of capacity C ends with the
// smallest power of two that is at least max(C+1, W).
//
// UniformArena is not safe for concurrent use.
type UniformArena struct {
	adapter   gpucore.GPUAdapter
	label     string
	valueSize uint64
	blockSize uint64

	capacity  int
	nextBlock int
	ring      *RingBuffer
	retired   []*RingBuffer

	hasLast   bool
	lastValue []byte
	lastSlice Slice

	closed bool
}

// NewUniformArena creates an arena for values of valueSize bytes.
//
// The block size is valueSize rounded up to the adapter's minimum uniform
// offset alignment. The initial capacity is rounded up to a power of two.
func NewUniformArena(adapter gpucore.GPUAdapter, label string, valueSize uint64, initialCapacity int) (*UniformArena, error) {
	if valueSize == 0 {
		return nil, fmt.Errorf("%w: uniform arena %q has value size 0", ErrInvalidSize, label)
	}
	align := adapter.MinUniformAlignment()
	if align == 0 {
		align = gpucore.DefaultUniformAlignment
	}
	a := &UniformArena{
		adapter:   adapter,
		label:     label,
		valueSize: valueSize,
		blockSize: alignUp(valueSize, align),
		capacity:  nextPowerOfTwo(initialCapacity),
	}
	ring, err := a.newRing(a.capacity)
	if err != nil {
		return nil, err
	}
	a.ring = ring
	return a, nil
}

func (a *UniformArena) newRing(capacity int) (*RingBuffer, error) {
	return NewRingBuffer(a.adapter, a.label, a.blockSize*uint64(capacity),
		gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst, DefaultDepth)
}

// BlockSize returns the aligned size of one block in bytes.
func (a *UniformArena) BlockSize() uint64 { return a.blockSize }

// Capacity returns the number of blocks the live ring can hold.
func (a *UniformArena) Capacity() int { return a.capacity }

// NextBlock returns the index the next write will use.
func (a *UniformArena) NextBlock() int { return a.nextBlock }

// PendingRetirement returns the number of rings waiting for EndFrame.
func (a *UniformArena) PendingRetirement() int { return len(a.retired) }

// Write stores value in the next block and returns its slice.
//
// If value equals the previously written value, the previous slice is
// returned and nothing is written.
func (a *UniformArena) Write(value []byte) (Slice, error) {
	if a.closed {
		return Slice{}, ErrClosed
	}
	if err := a.checkValue(value); err != nil {
		return Slice{}, err
	}

	if a.hasLast && bytes.Equal(value, a.lastValue) {
		return a.lastSlice, nil
	}

	if a.nextBlock == a.capacity {
		if err := a.grow(a.capacity * 2); err != nil {
			return Slice{}, err
		}
	}

	buf, err := a.ring.Current()
	if err != nil {
		return Slice{}, err
	}
	offset := uint64(a.nextBlock) * a.blockSize
	if err := a.adapter.WriteBuffer(buf, offset, value); err != nil {
		return Slice{}, fmt.Errorf("uniform arena %q: write block %d: %w", a.label, a.nextBlock, err)
	}
	a.nextBlock++

	s := Slice{Buffer: buf, Offset: offset, Size: a.valueSize}
	a.remember(value, s)
	return s, nil
}

// WriteAll stores every value in consecutive blocks with one growth check
// and one upload. Duplicate suppression does not apply; the last element
// becomes the last-written value.
func (a *UniformArena) WriteAll(values [][]byte) ([]Slice, error) {
	if a.closed {
		return nil, ErrClosed
	}
	if len(values) == 0 {
		return nil, nil
	}
	for _, v := range values {
		if err := a.checkValue(v); err != nil {
			return nil, err
		}
	}

	need := a.nextBlock + len(values)
	if need > a.capacity {
		newCap := a.capacity
		for newCap < need {
			newCap *= 2
		}
		if err := a.grow(newCap); err != nil {
			return nil, err
		}
	}

	buf, err := a.ring.Current()
	if err != nil {
		return nil, err
	}

	first := uint64(a.nextBlock) * a.blockSize
	data := make([]byte, uint64(len(values)-1)*a.blockSize+uint64(len(values[len(values)-1])))
	slices := make([]Slice, len(values))
	for i, v := range values {
		rel := uint64(i) * a.blockSize
		copy(data[rel:], v)
		slices[i] = Slice{Buffer: buf, Offset: first + rel, Size: a.valueSize}
	}
	if err := a.adapter.WriteBuffer(buf, first, data); err != nil {
		return nil, fmt.Errorf("uniform arena %q: write %d blocks at %d: %w", a.label, len(values), a.nextBlock, err)
	}
	a.nextBlock = need

	last := values[len(values)-1]
	a.remember(last, slices[len(slices)-1])
	return slices, nil
}

// EndFrame resets the arena for the next frame.
//
// It must be called once per frame, after the frame's GPU work has been
// submitted: it resets the block index, forgets the last-written value,
// rotates the live ring and closes rings retired during the frame.
func (a *UniformArena) EndFrame() error {
	if a.closed {
		return ErrClosed
	}
	a.nextBlock = 0
	a.hasLast = false
	a.lastValue = a.lastValue[:0]

	if err := a.ring.Rotate(); err != nil {
		return err
	}
	for i, r := range a.retired {
		r.Close()
		a.retired[i] = nil
	}
	a.retired = a.retired[:0]
	return nil
}

// Close releases the live ring and every retired ring.
func (a *UniformArena) Close() {
	if a.closed {
		return
	}
	a.closed = true
	for _, r := range a.retired {
		r.Close()
	}
	a.retired = nil
	a.ring.Close()
}

func (a *UniformArena) grow(capacity int) error {
	ring, err := a.newRing(capacity)
	if err != nil {
		return fmt.Errorf("uniform arena %q: grow to %d blocks: %w", a.label, capacity, err)
	}
	logging.Logger().Info("stream: uniform arena grew",
		slog.String("arena", a.label),
		slog.Int("from", a.capacity),
		slog.Int("to", capacity),
		slog.Uint64("bytes", a.blockSize*uint64(capacity)))

	a.retired = append(a.retired, a.ring)
	a.ring = ring
	a.capacity = capacity
	return nil
}

func (a *UniformArena) checkValue(v []byte) error {
	if len(v) == 0 || uint64(len(v)) > a.valueSize {
		return fmt.Errorf("%w: uniform arena %q got %d bytes, value size is %d", ErrInvalidSize, a.label, len(v), a.valueSize)
	}
	return nil
}

func (a *UniformArena) remember(v []byte, s Slice) {
	a.lastValue = append(a.lastValue[:0], v...)
	a.lastSlice = s
	a.hasLast = true
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
