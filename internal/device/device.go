// Package device opens headless hal devices for the noise engine.
//
// Backends are looked up by name in a gpucontext.Registry. The default
// priority is vulkan, then the software rasterizer, then noop.
package device

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/gogpu/wgpu/hal/software"
	"github.com/gogpu/wgpu/hal/vulkan"
)

// Backend names.
const (
	Vulkan   = "vulkan"
	Software = "software"
	Noop     = "noop"
)

// MinInvocations is the workgroup size 3D kernels dispatch with (8x8x8).
const MinInvocations = 512

var (
	// ErrUnknownBackend is returned for a backend name that is not registered.
	ErrUnknownBackend = errors.New("device: unknown backend")

	// ErrNoAdapter is returned when a backend exposes no adapter.
	ErrNoAdapter = errors.New("device: no adapter found")

	// ErrNotHAL is returned when a provider does not expose hal objects.
	ErrNotHAL = errors.New("device: provider does not expose hal device and queue")
)

// Backends holds the backends Open can select by name.
var Backends = newBackends()

func newBackends() *gpucontext.Registry[hal.Backend] {
	r := gpucontext.NewRegistry[hal.Backend](gpucontext.WithPriority(Vulkan, Software, Noop))
	r.Register(Vulkan, func() hal.Backend { return vulkan.Backend{} })
	r.Register(Software, func() hal.Backend { return software.API{} })
	r.Register(Noop, func() hal.Backend { return noop.API{} })
	return r
}

// Device is an open device and the instance and adapter it came from.
type Device struct {
	Backend string
	Info    gputypes.AdapterInfo
	Limits  gputypes.Limits
	Device  hal.Device
	Queue   hal.Queue

	instance hal.Instance
	adapter  hal.Adapter
	owned    bool
}

// Open creates an instance of the named backend, picks an adapter and opens
// a device. An empty name selects the highest-priority backend.
func Open(name string) (*Device, error) {
	if name == "" {
		name = Backends.BestName()
	}
	if !Backends.Has(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	backend := Backends.Get(name)

	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{
		Backends: gputypes.BackendsPrimary,
	})
	if err != nil {
		return nil, fmt.Errorf("device: create %s instance: %w", name, err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("%w: %s", ErrNoAdapter, name)
	}
	exposed := pickAdapter(adapters)

	limits := RequiredLimits(exposed.Capabilities.Limits)
	open, err := exposed.Adapter.Open(0, limits)
	if err != nil {
		exposed.Adapter.Destroy()
		instance.Destroy()
		return nil, fmt.Errorf("device: open %s adapter: %w", exposed.Info.Name, err)
	}

	return &Device{
		Backend:  name,
		Info:     exposed.Info,
		Limits:   limits,
		Device:   open.Device,
		Queue:    open.Queue,
		instance: instance,
		adapter:  exposed.Adapter,
		owned:    true,
	}, nil
}

// pickAdapter prefers a discrete GPU, then an integrated one, then the
// first adapter.
func pickAdapter(adapters []hal.ExposedAdapter) hal.ExposedAdapter {
	for _, want := range []gputypes.DeviceType{gputypes.DeviceTypeDiscreteGPU, gputypes.DeviceTypeIntegratedGPU} {
		for _, a := range adapters {
			if a.Info.DeviceType == want {
				return a
			}
		}
	}
	return adapters[0]
}

// RequiredLimits returns the default limits, raised to what 3D kernels
// need where the adapter supports it.
func RequiredLimits(supported gputypes.Limits) gputypes.Limits {
	limits := gputypes.DefaultLimits()
	if supported.MaxComputeInvocationsPerWorkgroup >= MinInvocations {
		limits.MaxComputeInvocationsPerWorkgroup = MinInvocations
	}
	if supported.MaxComputeWorkgroupSizeZ >= 8 && limits.MaxComputeWorkgroupSizeZ < 8 {
		limits.MaxComputeWorkgroupSizeZ = 8
	}
	return limits
}

// halProvider is implemented by providers that expose hal objects directly.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// FromProvider wraps the hal device and queue of an existing provider. The
// returned Device does not own them; Close is a no-op.
func FromProvider(provider any) (*Device, error) {
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNotHAL
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, ErrNotHAL
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, ErrNotHAL
	}
	d := &Device{Device: device, Queue: queue, Limits: gputypes.DefaultLimits()}
	if dp, ok := provider.(gpucontext.DeviceProvider); ok {
		info := dp.AdapterInfo()
		d.Info.Name = info.Name
	}
	return d, nil
}

// Close destroys the device, adapter and instance Open created.
func (d *Device) Close() {
	if !d.owned {
		return
	}
	d.owned = false
	d.Device.Destroy()
	d.adapter.Destroy()
	d.instance.Destroy()
}
