// Package gputest provides an in-memory gpucore.GPUAdapter for tests.
//
// Buffers are plain byte slices, textures are bookkeeping entries and fences
// are controlled by the test: a fence stays unsignaled until Signal or
// SignalAll is called, unless AutoSignal is set.
package gputest

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/voxelframe/internal/gpucore"
)

// Adapter is a scriptable gpucore.GPUAdapter.
type Adapter struct {
	mu sync.Mutex

	// Alignment is returned by MinUniformAlignment. Zero means 256.
	Alignment uint64

	// AutoSignal makes every inserted fence signal immediately.
	AutoSignal bool

	// FailCreateTexture makes CreateTexture fail when set.
	FailCreateTexture error

	nextID   uint64
	buffers  map[gpucore.BufferID][]byte
	textures map[gpucore.TextureID]gpucore.TextureDesc
	fences   []*Fence

	// Counters for verification.
	BuffersCreated    int
	BuffersDestroyed  int
	TexturesCreated   int
	TexturesDestroyed int
	Writes            int
	Clears            int
	Submits           int
}

// New creates an Adapter with the default 256-byte uniform alignment.
func New() *Adapter {
	return &Adapter{
		buffers:  make(map[gpucore.BufferID][]byte),
		textures: make(map[gpucore.TextureID]gpucore.TextureDesc),
	}
}

func (a *Adapter) newID() uint64 {
	a.nextID++
	return a.nextID
}

// MinUniformAlignment implements gpucore.GPUAdapter.
func (a *Adapter) MinUniformAlignment() uint64 {
	if a.Alignment == 0 {
		return gpucore.DefaultUniformAlignment
	}
	return a.Alignment
}

// CreateBuffer implements gpucore.GPUAdapter.
func (a *Adapter) CreateBuffer(_ string, size uint64, _ gputypes.BufferUsage) (gpucore.BufferID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if size == 0 {
		return gpucore.InvalidID, fmt.Errorf("gputest: zero-sized buffer")
	}
	id := gpucore.BufferID(a.newID())
	a.buffers[id] = make([]byte, size)
	a.BuffersCreated++
	return id, nil
}

// DestroyBuffer implements gpucore.GPUAdapter.
func (a *Adapter) DestroyBuffer(id gpucore.BufferID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.buffers[id]; ok {
		delete(a.buffers, id)
		a.BuffersDestroyed++
	}
}

// WriteBuffer implements gpucore.GPUAdapter.
func (a *Adapter) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, id)
	}
	if offset+uint64(len(data)) > uint64(len(buf)) {
		return fmt.Errorf("gputest: write [%d,%d) past buffer size %d", offset, offset+uint64(len(data)), len(buf))
	}
	copy(buf[offset:], data)
	a.Writes++
	return nil
}

// Bytes returns the contents of a live buffer, or nil.
func (a *Adapter) Bytes(id gpucore.BufferID) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buffers[id]
}

// BufferAlive reports whether id names a live buffer.
func (a *Adapter) BufferAlive(id gpucore.BufferID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.buffers[id]
	return ok
}

// LiveBuffers returns the number of live buffers.
func (a *Adapter) LiveBuffers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffers)
}

// CreateTexture implements gpucore.GPUAdapter.
func (a *Adapter) CreateTexture(desc gpucore.TextureDesc) (gpucore.TextureID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailCreateTexture != nil {
		return gpucore.InvalidID, a.FailCreateTexture
	}
	id := gpucore.TextureID(a.newID())
	a.textures[id] = desc
	a.TexturesCreated++
	return id, nil
}

// DestroyTexture implements gpucore.GPUAdapter.
func (a *Adapter) DestroyTexture(id gpucore.TextureID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.textures[id]; ok {
		delete(a.textures, id)
		a.TexturesDestroyed++
	}
}

// TextureAlive reports whether id names a live texture.
func (a *Adapter) TextureAlive(id gpucore.TextureID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.textures[id]
	return ok
}

// ClearTarget implements gpucore.GPUAdapter.
func (a *Adapter) ClearTarget(color, _ gpucore.TextureID, _ gputypes.Color) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.textures[color]; !ok {
		return fmt.Errorf("%w: texture %d", gpucore.ErrUnknownResource, color)
	}
	a.Clears++
	return nil
}

// Submit implements gpucore.GPUAdapter.
func (a *Adapter) Submit() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Submits++
	return nil
}

// InsertFence implements gpucore.GPUAdapter.
func (a *Adapter) InsertFence() (gpucore.Fence, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f := &Fence{index: len(a.fences)}
	if a.AutoSignal {
		f.signaled = true
	}
	a.fences = append(a.fences, f)
	return f, nil
}

// Fences returns every fence inserted so far, oldest first.
func (a *Adapter) Fences() []*Fence {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Fence, len(a.fences))
	copy(out, a.fences)
	return out
}

// SignalAll signals every fence inserted so far.
func (a *Adapter) SignalAll() {
	for _, f := range a.Fences() {
		f.Signal()
	}
}

// Fence is a test-controlled gpucore.Fence.
//
// Wait on an unsignaled fence returns gpucore.ErrFenceTimeout immediately
// unless OnWait is set, in which case OnWait runs first (typically to signal
// the fence) and Wait re-checks.
type Fence struct {
	mu       sync.Mutex
	index    int
	signaled bool
	released bool

	// OnWait runs when Wait finds the fence unsignaled.
	OnWait func(f *Fence)

	// Waits counts blocking waits on an unsignaled fence.
	Waits int
}

// Signal marks the fence signaled.
func (f *Fence) Signal() {
	f.mu.Lock()
	f.signaled = true
	f.mu.Unlock()
}

// Signaled implements gpucore.Fence.
func (f *Fence) Signaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaled
}

// Wait implements gpucore.Fence.
func (f *Fence) Wait() error {
	f.mu.Lock()
	if f.signaled {
		f.mu.Unlock()
		return nil
	}
	f.Waits++
	hook := f.OnWait
	f.mu.Unlock()

	if hook != nil {
		hook(f)
		if f.Signaled() {
			return nil
		}
	}
	return fmt.Errorf("%w: fence %d", gpucore.ErrFenceTimeout, f.index)
}

// Release implements gpucore.Fence.
func (f *Fence) Release() {
	f.mu.Lock()
	f.released = true
	f.mu.Unlock()
}

// Released reports whether Release was called.
func (f *Fence) Released() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}
