//go:build !nogpu

package native

import (
	"fmt"
	"log/slog"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	// Register the Vulkan backend.
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/voxelframe/internal/logging"
)

// Backend names accepted by Open.
const (
	BackendNoop   = "noop"
	BackendVulkan = "vulkan"
)

// Device is an opened HAL device together with the instance that owns it.
type Device struct {
	Device hal.Device
	Queue  hal.Queue
	Name   string

	instance hal.Instance
}

// Open opens a device on the named backend. The noop backend needs no GPU
// and is what tests and headless runs use.
func Open(backend string) (*Device, error) {
	var (
		instance hal.Instance
		err      error
	)
	switch backend {
	case BackendNoop:
		instance, err = noop.API{}.CreateInstance(nil)
	case BackendVulkan:
		b, ok := hal.GetBackend(gputypes.BackendVulkan)
		if !ok {
			return nil, fmt.Errorf("%w: vulkan backend not available", ErrNoGPU)
		}
		instance, err = b.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
	if err != nil {
		return nil, fmt.Errorf("native: create %s instance: %w", backend, err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoGPU
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("native: open device: %w", err)
	}
	logging.Logger().Info("native: device opened",
		slog.String("backend", backend),
		slog.String("adapter", selected.Info.Name))
	return &Device{
		Device:   openDev.Device,
		Queue:    openDev.Queue,
		Name:     selected.Info.Name,
		instance: instance,
	}, nil
}

// Close destroys the device and its instance.
func (d *Device) Close() {
	if d.Device != nil {
		d.Device.Destroy()
		d.Device = nil
	}
	if d.instance != nil {
		d.instance.Destroy()
		d.instance = nil
	}
}
