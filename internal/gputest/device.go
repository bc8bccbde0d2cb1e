// Package gputest provides a recording hal device for GPU-free tests.
//
// Device, Queue and the encoders it creates build on the noop backend and
// remember what was asked of them: textures, pipelines, bind groups,
// compute passes and texture-to-buffer copies. A copy fills the staging
// buffer with a deterministic texel pattern surrounded by PadByte, so
// readback code can be checked end to end.
package gputest

import (
	"errors"
	"sync"

	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// PadByte fills the row padding of every simulated copy.
const PadByte = 0xEE

// ErrInjected is returned by operations a test asked to fail.
var ErrInjected = errors.New("gputest: injected failure")

// Texture is a recorded texture.
type Texture struct {
	noop.Texture
	ID   int
	Desc hal.TextureDescriptor
}

// TextureView is a recorded view of a Texture.
type TextureView struct {
	noop.Resource
	Texture *Texture
}

// Pipeline is a recorded compute pipeline.
type Pipeline struct {
	noop.Resource
	ID    int
	Label string
	Entry string
}

// BindGroup is a recorded bind group.
type BindGroup struct {
	noop.Resource
	ID   int
	Desc hal.BindGroupDescriptor
}

// Pass is one recorded compute pass.
type Pass struct {
	Label      string
	Pipeline   *Pipeline
	Groups     map[uint32]hal.BindGroup
	Workgroups [3]uint32
	Dispatched bool
}

// Copy is one recorded texture-to-buffer copy.
type Copy struct {
	Texture *Texture
	Buffer  hal.Buffer
	Region  hal.BufferTextureCopy
}

// Device is a recording hal.Device. The zero value is not usable; call New.
type Device struct {
	noop.Device

	queue *Queue

	// Gate, when non-nil, blocks every CreateComputePipeline until it is
	// closed.
	Gate chan struct{}

	mu               sync.Mutex
	textures         []*Texture
	pipelines        []*Pipeline
	bindGroups       int
	destroyedGroups  int
	buffers          int
	destroyedBuffers int
	failPipelines    map[string]error
	failMaps         int
	passes           []Pass
	copies           []Copy
	encoders         int
	waitIdle         int
}

// New returns a recording device and its queue.
func New() (*Device, *Queue) {
	q := &Queue{}
	return &Device{queue: q, failPipelines: make(map[string]error)}, q
}

// FailPipeline makes compilation of the pipeline with the given label fail.
func (d *Device) FailPipeline(label string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failPipelines[label] = ErrInjected
}

// FailMaps makes the next n MapBuffer calls fail.
func (d *Device) FailMaps(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failMaps = n
}

// CreateTexture records the descriptor.
func (d *Device) CreateTexture(desc *hal.TextureDescriptor) (hal.Texture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &Texture{ID: len(d.textures) + 1, Desc: *desc}
	d.textures = append(d.textures, t)
	return t, nil
}

// CreateTextureView returns a view remembering its texture.
func (d *Device) CreateTextureView(tex hal.Texture, _ *hal.TextureViewDescriptor) (hal.TextureView, error) {
	t, _ := tex.(*Texture)
	return &TextureView{Texture: t}, nil
}

// CreateComputePipeline records the pipeline, waiting on Gate first.
func (d *Device) CreateComputePipeline(desc *hal.ComputePipelineDescriptor) (hal.ComputePipeline, error) {
	if d.Gate != nil {
		<-d.Gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failPipelines[desc.Label]; err != nil {
		return nil, err
	}
	p := &Pipeline{ID: len(d.pipelines) + 1, Label: desc.Label, Entry: desc.Compute.EntryPoint}
	d.pipelines = append(d.pipelines, p)
	return p, nil
}

// CreateBindGroup records the descriptor.
func (d *Device) CreateBindGroup(desc *hal.BindGroupDescriptor) (hal.BindGroup, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bindGroups++
	g := &BindGroup{ID: d.bindGroups}
	if desc != nil {
		g.Desc = *desc
	}
	return g, nil
}

// DestroyBindGroup counts destroyed bind groups.
func (d *Device) DestroyBindGroup(hal.BindGroup) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyedGroups++
}

// CreateBuffer counts buffers and creates a noop buffer with backing data.
func (d *Device) CreateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error) {
	d.mu.Lock()
	d.buffers++
	d.mu.Unlock()
	return d.Device.CreateBuffer(desc)
}

// DestroyBuffer counts destroyed buffers.
func (d *Device) DestroyBuffer(hal.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyedBuffers++
}

// MapBuffer maps a noop buffer unless a failure was injected.
func (d *Device) MapBuffer(buffer hal.Buffer, offset, size uint64) (hal.BufferMapping, error) {
	d.mu.Lock()
	if d.failMaps > 0 {
		d.failMaps--
		d.mu.Unlock()
		return hal.BufferMapping{}, ErrInjected
	}
	d.mu.Unlock()
	return d.Device.MapBuffer(buffer, offset, size)
}

// CreateCommandEncoder returns a recording encoder.
func (d *Device) CreateCommandEncoder(*hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.encoders++
	return &Encoder{device: d}, nil
}

// WaitIdle counts calls.
func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waitIdle++
	return nil
}

// Textures returns the textures created so far.
func (d *Device) Textures() []*Texture {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Texture(nil), d.textures...)
}

// Pipelines returns the compute pipelines created so far.
func (d *Device) Pipelines() []*Pipeline {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Pipeline(nil), d.pipelines...)
}

// Passes returns every recorded compute pass in recording order.
func (d *Device) Passes() []Pass {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Pass(nil), d.passes...)
}

// Dispatches returns the workgroup counts of every dispatched pass.
func (d *Device) Dispatches() [][3]uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out [][3]uint32
	for _, p := range d.passes {
		if p.Dispatched {
			out = append(out, p.Workgroups)
		}
	}
	return out
}

// Copies returns every recorded texture-to-buffer copy.
func (d *Device) Copies() []Copy {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Copy(nil), d.copies...)
}

// BindGroups returns the number of bind groups created and destroyed.
func (d *Device) BindGroups() (created, destroyed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bindGroups, d.destroyedGroups
}

// Buffers returns the number of buffers created and destroyed.
func (d *Device) Buffers() (created, destroyed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buffers, d.destroyedBuffers
}

// Encoders returns the number of command encoders created.
func (d *Device) Encoders() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.encoders
}

func (d *Device) recordPass(p Pass) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.passes = append(d.passes, p)
}

func (d *Device) recordCopy(c Copy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.copies = append(d.copies, c)
}
