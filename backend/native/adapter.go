//go:build !nogpu

// Package native implements gpucore.GPUAdapter on gogpu/wgpu/hal.
package native

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/voxelframe/internal/gpucore"
	"github.com/gogpu/voxelframe/internal/logging"
)

// texture is a render target together with its default view.
type texture struct {
	tex  hal.Texture
	view hal.TextureView
	desc gpucore.TextureDesc
}

// grave is a resource released by the caller but possibly still in use by
// submitted work. It is destroyed once the timeline passes value.
type grave struct {
	value   uint64
	buffer  hal.Buffer
	texture *texture
	cmd     hal.CommandBuffer
}

// HALAdapter implements gpucore.GPUAdapter using gogpu/wgpu/hal directly.
//
// Submissions signal one timeline fence with increasing values. Fences
// handed out by InsertFence wait for a value on that timeline, and
// destroyed resources are kept alive until the timeline passes the last
// submission that could reference them.
//
// Thread Safety: HALAdapter is safe for concurrent use, although the
// renderer only calls it from the render goroutine.
type HALAdapter struct {
	mu     sync.Mutex
	device hal.Device
	queue  hal.Queue
	limits gputypes.Limits

	fenceTimeout time.Duration

	// Timeline fence shared by every submission.
	timeline  hal.Fence
	submitted uint64

	nextID   uint64
	buffers  map[gpucore.BufferID]hal.Buffer
	textures map[gpucore.TextureID]*texture

	// Command buffers recorded since the last Submit.
	recorded  []hal.CommandBuffer
	graveyard []grave

	// owner is non-nil when the adapter opened the device itself.
	owner  *Device
	closed bool
}

// Option configures a HALAdapter.
type Option func(*HALAdapter)

// WithFenceTimeout bounds blocking fence waits. Zero keeps the default.
func WithFenceTimeout(d time.Duration) Option {
	return func(a *HALAdapter) {
		if d > 0 {
			a.fenceTimeout = d
		}
	}
}

// WithLimits sets the device limits. Without it the WebGPU defaults apply.
func WithLimits(l gputypes.Limits) Option {
	return func(a *HALAdapter) { a.limits = l }
}

// New creates a HALAdapter wrapping the given device and queue. The caller
// keeps ownership of both.
func New(device hal.Device, queue hal.Queue, opts ...Option) (*HALAdapter, error) {
	a := &HALAdapter{
		device:       device,
		queue:        queue,
		limits:       gputypes.DefaultLimits(),
		fenceTimeout: gpucore.DefaultFenceTimeout,
		buffers:      make(map[gpucore.BufferID]hal.Buffer),
		textures:     make(map[gpucore.TextureID]*texture),
	}
	for _, opt := range opts {
		opt(a)
	}

	fence, err := device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("native: create timeline fence: %w", err)
	}
	a.timeline = fence
	return a, nil
}

// NewFromProvider creates a HALAdapter on a device shared by the host
// application. The provider must implement HalDevice() any and HalQueue()
// any returning hal.Device and hal.Queue.
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*HALAdapter, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHAL
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoHAL)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoHAL)
	}
	logging.Logger().Info("native: using shared GPU device",
		slog.Any("format", provider.SurfaceFormat()))
	return New(device, queue, opts...)
}

// NewOwned opens a device on the named backend and returns an adapter that
// closes the device on Close.
func NewOwned(backend string, opts ...Option) (*HALAdapter, error) {
	d, err := Open(backend)
	if err != nil {
		return nil, err
	}
	a, err := New(d.Device, d.Queue, opts...)
	if err != nil {
		d.Close()
		return nil, err
	}
	a.owner = d
	return a, nil
}

func (a *HALAdapter) newID() uint64 {
	a.nextID++
	return a.nextID
}

// MinUniformAlignment implements gpucore.GPUAdapter.
func (a *HALAdapter) MinUniformAlignment() uint64 {
	if al := uint64(a.limits.MinUniformBufferOffsetAlignment); al != 0 {
		return al
	}
	return gpucore.DefaultUniformAlignment
}

// === Buffer Management ===

// CreateBuffer implements gpucore.GPUAdapter.
func (a *HALAdapter) CreateBuffer(label string, size uint64, usage gputypes.BufferUsage) (gpucore.BufferID, error) {
	if size == 0 {
		return gpucore.InvalidID, fmt.Errorf("native: buffer %q: size must be positive", label)
	}
	buf, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create buffer %q: %w", label, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	id := gpucore.BufferID(a.newID())
	a.buffers[id] = buf
	return id, nil
}

// DestroyBuffer implements gpucore.GPUAdapter. The buffer is released once
// every submission that may reference it has completed.
func (a *HALAdapter) DestroyBuffer(id gpucore.BufferID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.buffers[id]
	if !ok {
		return
	}
	delete(a.buffers, id)
	a.graveyard = append(a.graveyard, grave{value: a.lastUseLocked(), buffer: buf})
}

// WriteBuffer implements gpucore.GPUAdapter.
func (a *HALAdapter) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	a.mu.Lock()
	buf, ok := a.buffers[id]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, id)
	}
	if len(data) > 0 {
		a.queue.WriteBuffer(buf, offset, data)
	}
	return nil
}

// === Texture Management ===

// CreateTexture implements gpucore.GPUAdapter.
func (a *HALAdapter) CreateTexture(desc gpucore.TextureDesc) (gpucore.TextureID, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return gpucore.InvalidID, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, desc.Width, desc.Height)
	}
	usage := gputypes.TextureUsageRenderAttachment
	if !isDepthFormat(desc.Format) {
		usage |= gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopySrc
	}

	tex, err := a.device.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        desc.Format,
		Usage:         usage,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create texture %q: %w", desc.Label, err)
	}
	view, err := a.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label: desc.Label + "_view",
	})
	if err != nil {
		a.device.DestroyTexture(tex)
		return gpucore.InvalidID, fmt.Errorf("native: create view for %q: %w", desc.Label, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	id := gpucore.TextureID(a.newID())
	a.textures[id] = &texture{tex: tex, view: view, desc: desc}
	return id, nil
}

// DestroyTexture implements gpucore.GPUAdapter.
func (a *HALAdapter) DestroyTexture(id gpucore.TextureID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.textures[id]
	if !ok {
		return
	}
	delete(a.textures, id)
	a.graveyard = append(a.graveyard, grave{value: a.lastUseLocked(), texture: t})
}

// ClearTarget implements gpucore.GPUAdapter. It records a render pass that
// clears color and, when depth is non-zero, depth to 1 and stencil to 0.
func (a *HALAdapter) ClearTarget(color, depth gpucore.TextureID, clear gputypes.Color) error {
	a.mu.Lock()
	ct, ok := a.textures[color]
	var dt *texture
	if ok && depth != gpucore.InvalidID {
		dt, ok = a.textures[depth]
	}
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: clear target %d/%d", gpucore.ErrUnknownResource, color, depth)
	}

	encoder, err := a.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "clear_encoder",
	})
	if err != nil {
		return fmt.Errorf("native: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("clear"); err != nil {
		encoder.DiscardEncoding()
		return fmt.Errorf("native: begin encoding: %w", err)
	}

	rpDesc := &hal.RenderPassDescriptor{
		Label: "clear_pass",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       ct.view,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: clear,
		}},
	}
	if dt != nil {
		ds := &hal.RenderPassDepthStencilAttachment{
			View:            dt.view,
			DepthLoadOp:     gputypes.LoadOpClear,
			DepthStoreOp:    gputypes.StoreOpStore,
			DepthClearValue: 1.0,
		}
		if dt.desc.Format == gputypes.TextureFormatDepth24PlusStencil8 {
			ds.StencilLoadOp = gputypes.LoadOpClear
			ds.StencilStoreOp = gputypes.StoreOpStore
		}
		rpDesc.DepthStencilAttachment = ds
	}
	rp := encoder.BeginRenderPass(rpDesc)
	rp.End()

	cmd, err := encoder.EndEncoding()
	if err != nil {
		encoder.DiscardEncoding()
		return fmt.Errorf("native: end encoding: %w", err)
	}

	a.mu.Lock()
	a.recorded = append(a.recorded, cmd)
	a.mu.Unlock()
	return nil
}

// === Submission and fences ===

// Submit implements gpucore.GPUAdapter. Every submission advances the
// timeline, even when nothing was recorded, so fences inserted afterwards
// cover queue writes made since the previous Submit.
func (a *HALAdapter) Submit() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}

	value := a.submitted + 1
	if err := a.queue.Submit(a.recorded, a.timeline, value); err != nil {
		return fmt.Errorf("native: submit %d command buffers: %w", len(a.recorded), err)
	}
	a.submitted = value
	for _, cmd := range a.recorded {
		a.graveyard = append(a.graveyard, grave{value: value, cmd: cmd})
	}
	a.recorded = a.recorded[:0]

	a.reclaimLocked()
	return nil
}

// InsertFence implements gpucore.GPUAdapter. The fence waits for the
// latest submission.
func (a *HALAdapter) InsertFence() (gpucore.Fence, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	return &fence{adapter: a, value: a.submitted}, nil
}

// Completed returns the highest timeline value known to have completed.
func (a *HALAdapter) Completed() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completedLocked()
}

// Pending returns the number of resources waiting for the GPU before they
// are destroyed.
func (a *HALAdapter) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.graveyard)
}

// lastUseLocked returns the timeline value after which a resource released
// now is no longer referenced. Recorded but unsubmitted work lands in the
// next submission.
func (a *HALAdapter) lastUseLocked() uint64 {
	if len(a.recorded) > 0 {
		return a.submitted + 1
	}
	return a.submitted
}

func (a *HALAdapter) completedLocked() uint64 {
	// Binary search the timeline: Wait with a zero timeout never blocks.
	lo, hi := uint64(0), a.submitted
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		if ok, err := a.device.Wait(a.timeline, mid, 0); err == nil && ok {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// reclaimLocked destroys graveyard entries the GPU is done with.
func (a *HALAdapter) reclaimLocked() {
	if len(a.graveyard) == 0 {
		return
	}
	done := a.completedLocked()
	kept := a.graveyard[:0]
	freed := 0
	for _, g := range a.graveyard {
		if g.value > done {
			kept = append(kept, g)
			continue
		}
		a.bury(g)
		freed++
	}
	clear(a.graveyard[len(kept):])
	a.graveyard = kept
	if freed > 0 {
		logging.Logger().Debug("native: reclaimed resources",
			slog.Int("count", freed),
			slog.Uint64("completed", done))
	}
}

func (a *HALAdapter) bury(g grave) {
	switch {
	case g.buffer != nil:
		a.device.DestroyBuffer(g.buffer)
	case g.texture != nil:
		a.device.DestroyTextureView(g.texture.view)
		a.device.DestroyTexture(g.texture.tex)
	case g.cmd != nil:
		a.device.FreeCommandBuffer(g.cmd)
	}
}

// Close waits for outstanding work, then destroys every resource the
// adapter still holds. A device opened by NewOwned is closed as well.
func (a *HALAdapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true

	if a.submitted > 0 {
		if ok, err := a.device.Wait(a.timeline, a.submitted, a.fenceTimeout); err != nil || !ok {
			logging.Logger().Warn("native: GPU did not drain before close",
				slog.Uint64("submitted", a.submitted),
				slog.Any("error", err))
		}
	}
	for _, g := range a.graveyard {
		a.bury(g)
	}
	a.graveyard = nil
	for _, cmd := range a.recorded {
		a.device.FreeCommandBuffer(cmd)
	}
	a.recorded = nil
	for id, buf := range a.buffers {
		a.device.DestroyBuffer(buf)
		delete(a.buffers, id)
	}
	for id, t := range a.textures {
		a.device.DestroyTextureView(t.view)
		a.device.DestroyTexture(t.tex)
		delete(a.textures, id)
	}
	a.device.DestroyFence(a.timeline)

	if a.owner != nil {
		a.owner.Close()
		a.owner = nil
	}
}

// fence is a point on the adapter's timeline.
type fence struct {
	adapter  *HALAdapter
	value    uint64
	released bool
}

// Signaled implements gpucore.Fence.
func (f *fence) Signaled() bool {
	if f.value == 0 {
		return true
	}
	ok, err := f.adapter.device.Wait(f.adapter.timeline, f.value, 0)
	return err == nil && ok
}

// Wait implements gpucore.Fence.
func (f *fence) Wait() error {
	if f.value == 0 {
		return nil
	}
	ok, err := f.adapter.device.Wait(f.adapter.timeline, f.value, f.adapter.fenceTimeout)
	if err != nil {
		return fmt.Errorf("%w: timeline value %d: %w", gpucore.ErrDeviceLost, f.value, err)
	}
	if !ok {
		return fmt.Errorf("%w: timeline value %d after %v", gpucore.ErrFenceTimeout, f.value, f.adapter.fenceTimeout)
	}
	return nil
}

// Release implements gpucore.Fence. Timeline fences own no GPU object.
func (f *fence) Release() { f.released = true }

func isDepthFormat(f gputypes.TextureFormat) bool {
	switch f {
	case gputypes.TextureFormatDepth24PlusStencil8,
		gputypes.TextureFormatDepth24Plus,
		gputypes.TextureFormatDepth32Float,
		gputypes.TextureFormatDepth16Unorm:
		return true
	}
	return false
}

var _ gpucore.GPUAdapter = (*HALAdapter)(nil)
