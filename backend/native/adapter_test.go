//go:build !nogpu

package native

import (
	"errors"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/voxelframe/internal/gpucore"
)

// newNoopAdapter opens a noop device and wraps it.
func newNoopAdapter(t *testing.T) *HALAdapter {
	t.Helper()
	a, err := NewOwned(BackendNoop)
	if err != nil {
		t.Fatalf("NewOwned(noop): %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open("metal2"); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("err = %v, want ErrUnknownBackend", err)
	}
}

func TestHALAdapterAlignment(t *testing.T) {
	a := newNoopAdapter(t)
	al := a.MinUniformAlignment()
	if al == 0 || al&(al-1) != 0 {
		t.Errorf("MinUniformAlignment = %d, want a power of two", al)
	}
}

func TestHALAdapterBufferLifecycle(t *testing.T) {
	a := newNoopAdapter(t)

	id, err := a.CreateBuffer("test", 1024, gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if id == gpucore.InvalidID {
		t.Fatal("CreateBuffer returned the invalid ID")
	}
	if err := a.WriteBuffer(id, 256, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("WriteBuffer: %v", err)
	}

	a.DestroyBuffer(id)
	a.DestroyBuffer(id)
	if got := a.Pending(); got != 1 {
		t.Errorf("Pending = %d, want 1 deferred buffer", got)
	}
	if err := a.WriteBuffer(id, 0, []byte{1}); !errors.Is(err, gpucore.ErrUnknownResource) {
		t.Errorf("write after destroy: err = %v, want ErrUnknownResource", err)
	}

	// Nothing was ever submitted, so the first Submit reclaims it.
	if err := a.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := a.Pending(); got != 0 {
		t.Errorf("Pending after Submit = %d, want 0", got)
	}
}

func TestHALAdapterZeroSizes(t *testing.T) {
	a := newNoopAdapter(t)
	if _, err := a.CreateBuffer("empty", 0, gputypes.BufferUsageUniform); err == nil {
		t.Error("zero-sized buffer created")
	}
	if _, err := a.CreateTexture(gpucore.TextureDesc{Width: 0, Height: 8}); !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("err = %v, want ErrInvalidDimensions", err)
	}
}

func TestHALAdapterClearTarget(t *testing.T) {
	a := newNoopAdapter(t)

	color, err := a.CreateTexture(gpucore.TextureDesc{
		Label: "main", Width: 64, Height: 32, Format: gputypes.TextureFormatRGBA8Unorm,
	})
	if err != nil {
		t.Fatalf("CreateTexture(color): %v", err)
	}
	depth, err := a.CreateTexture(gpucore.TextureDesc{
		Label: "main_depth", Width: 64, Height: 32, Format: gputypes.TextureFormatDepth24PlusStencil8,
	})
	if err != nil {
		t.Fatalf("CreateTexture(depth): %v", err)
	}

	sky := gputypes.Color{R: 0.5, G: 0.7, B: 1, A: 1}
	if err := a.ClearTarget(color, depth, sky); err != nil {
		t.Fatalf("ClearTarget: %v", err)
	}
	if err := a.ClearTarget(color, gpucore.InvalidID, sky); err != nil {
		t.Fatalf("ClearTarget without depth: %v", err)
	}
	if err := a.ClearTarget(color, 9999, sky); !errors.Is(err, gpucore.ErrUnknownResource) {
		t.Errorf("unknown depth: err = %v, want ErrUnknownResource", err)
	}

	// The texture was used by recorded work, so it outlives the next
	// submission.
	a.DestroyTexture(color)
	if err := a.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f, err := a.InsertFence()
	if err != nil {
		t.Fatalf("InsertFence: %v", err)
	}
	if err := f.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	f.Release()
	if err := a.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := a.Pending(); got != 0 {
		t.Errorf("Pending after GPU drained = %d, want 0", got)
	}
}

// scriptedEncoder fails BeginEncoding or EndEncoding on request and counts
// discards.
type scriptedEncoder struct {
	hal.CommandEncoder
	beginErr, endErr error
	discards         *int
}

func (e *scriptedEncoder) BeginEncoding(label string) error {
	if e.beginErr != nil {
		return e.beginErr
	}
	return e.CommandEncoder.BeginEncoding(label)
}

func (e *scriptedEncoder) EndEncoding() (hal.CommandBuffer, error) {
	if e.endErr != nil {
		return nil, e.endErr
	}
	return e.CommandEncoder.EndEncoding()
}

func (e *scriptedEncoder) DiscardEncoding() {
	*e.discards++
	e.CommandEncoder.DiscardEncoding()
}

// encoderDevice wraps every command encoder the device creates.
type encoderDevice struct {
	hal.Device
	beginErr, endErr error
	discards         int
}

func (d *encoderDevice) CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	enc, err := d.Device.CreateCommandEncoder(desc)
	if err != nil {
		return nil, err
	}
	return &scriptedEncoder{CommandEncoder: enc, beginErr: d.beginErr, endErr: d.endErr, discards: &d.discards}, nil
}

func TestHALAdapterClearTargetEncodingFailure(t *testing.T) {
	encodeErr := errors.New("device out of memory")
	tests := []struct {
		name       string
		begin, end error
	}{
		{"begin", encodeErr, nil},
		{"end", nil, encodeErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Open(BackendNoop)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer d.Close()

			dev := &encoderDevice{Device: d.Device, beginErr: tt.begin, endErr: tt.end}
			a, err := New(dev, d.Queue)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer a.Close()

			color, err := a.CreateTexture(gpucore.TextureDesc{Label: "main", Width: 8, Height: 8, Format: gputypes.TextureFormatRGBA8Unorm})
			if err != nil {
				t.Fatalf("CreateTexture: %v", err)
			}
			if err := a.ClearTarget(color, gpucore.InvalidID, gputypes.Color{A: 1}); !errors.Is(err, encodeErr) {
				t.Fatalf("ClearTarget: err = %v, want the encoding error", err)
			}
			if dev.discards != 1 {
				t.Errorf("encoder discarded %d times, want 1", dev.discards)
			}
			if len(a.recorded) != 0 {
				t.Errorf("%d command buffers recorded after a failed clear", len(a.recorded))
			}
		})
	}
}

func TestHALAdapterFenceBeforeSubmit(t *testing.T) {
	a := newNoopAdapter(t)
	f, err := a.InsertFence()
	if err != nil {
		t.Fatalf("InsertFence: %v", err)
	}
	if !f.Signaled() {
		t.Error("fence with no prior work is not signaled")
	}
	if err := f.Wait(); err != nil {
		t.Errorf("Wait: %v", err)
	}
}

func TestHALAdapterClosed(t *testing.T) {
	a, err := NewOwned(BackendNoop)
	if err != nil {
		t.Fatalf("NewOwned: %v", err)
	}
	if _, err := a.CreateBuffer("leak", 64, gputypes.BufferUsageUniform); err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	a.Close()
	a.Close()
	if err := a.Submit(); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after Close: err = %v, want ErrClosed", err)
	}
	if _, err := a.InsertFence(); !errors.Is(err, ErrClosed) {
		t.Errorf("InsertFence after Close: err = %v, want ErrClosed", err)
	}
}

// plainProvider is a DeviceProvider without HAL accessors.
type plainProvider struct {
	gpucontext.DeviceProvider
}

// sharedProvider exposes an already opened noop device.
type sharedProvider struct {
	gpucontext.DeviceProvider
	device hal.Device
	queue  hal.Queue
}

func (p *sharedProvider) HalDevice() any                        { return p.device }
func (p *sharedProvider) HalQueue() any                         { return p.queue }
func (p *sharedProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatBGRA8Unorm }

func TestNewFromProvider(t *testing.T) {
	if _, err := NewFromProvider(plainProvider{}); !errors.Is(err, ErrNoHAL) {
		t.Errorf("plain provider: err = %v, want ErrNoHAL", err)
	}
	if _, err := NewFromProvider(&sharedProvider{}); !errors.Is(err, ErrNoHAL) {
		t.Errorf("nil device: err = %v, want ErrNoHAL", err)
	}

	d, err := Open(BackendNoop)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	a, err := NewFromProvider(&sharedProvider{device: d.Device, queue: d.Queue})
	if err != nil {
		t.Fatalf("NewFromProvider: %v", err)
	}
	if _, err := a.CreateBuffer("shared", 64, gputypes.BufferUsageUniform); err != nil {
		t.Errorf("CreateBuffer on shared device: %v", err)
	}
	a.Close()
	// The shared device stays usable after the adapter closes.
	if _, err := New(d.Device, d.Queue); err != nil {
		t.Errorf("New on shared device after Close: %v", err)
	}
}
