package gpu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/noise/gpucore"
	"github.com/gogpu/noise/kernel"
)

// sizeUniformBytes is the size of the image extent uniform (vec4<f32>).
const sizeUniformBytes = 16

// Request is a generation request as seen by the consumer timeline.
type Request struct {
	Target gpucore.ImageID
	Kernel kernel.Descriptor
	Size   gpucore.Size
}

// ResourceSet is everything one dispatch binds. It is created by the
// Binder, owned by one half of the scheduler's double buffer and released
// once the submission that dispatched it has completed.
type ResourceSet struct {
	Key        gpucore.PipelineKey
	Target     gpucore.ImageID
	Size       gpucore.Size
	Inputs     []gpucore.ImageID
	ImageGroup hal.BindGroup
	ParamGroup hal.BindGroup

	buffers []hal.Buffer
}

// Release destroys the bind groups and buffers of the set.
func (s *ResourceSet) Release(device hal.Device) {
	if s.ImageGroup != nil {
		device.DestroyBindGroup(s.ImageGroup)
		s.ImageGroup = nil
	}
	if s.ParamGroup != nil {
		device.DestroyBindGroup(s.ParamGroup)
		s.ParamGroup = nil
	}
	for _, b := range s.buffers {
		device.DestroyBuffer(b)
	}
	s.buffers = nil
}

// Binder resolves requests into resource sets.
//
// Every accepted request gets freshly allocated parameter and size buffers;
// nothing is pooled.
type Binder struct {
	device  hal.Device
	queue   hal.Queue
	images  ImageStore
	catalog *Catalog

	bound   uint64
	dropped uint64
}

// NewBinder returns a binder resolving images from images and layouts
// from catalog.
func NewBinder(device hal.Device, queue hal.Queue, images ImageStore, catalog *Catalog) *Binder {
	return &Binder{device: device, queue: queue, images: images, catalog: catalog}
}

// Bind resolves every request in order. Invalid requests are logged and
// skipped; they never affect the others.
func (b *Binder) Bind(requests []Request) []*ResourceSet {
	sets := make([]*ResourceSet, 0, len(requests))
	for _, req := range requests {
		set, err := b.bind(req)
		if err != nil {
			b.dropped++
			logDropped(req, err)
			continue
		}
		b.bound++
		sets = append(sets, set)
	}
	return sets
}

// Stats returns the number of requests bound and dropped so far.
func (b *Binder) Stats() (bound, dropped uint64) {
	return b.bound, b.dropped
}

func logDropped(req Request, err error) {
	attrs := []any{"image", req.Target.String(), "kernel", req.Kernel.Tag, "size", req.Size.String(), "err", err}
	var verr *ValidationError
	if errors.As(err, &verr) {
		slogger().Warn("noise: invalid request dropped", attrs...)
		return
	}
	slogger().Warn("noise: request dropped", attrs...)
}

// validate checks a request against the registered type and the target
// image and returns the resolved target and input images.
func (b *Binder) validate(req Request) (kernel.Type, *Image, []*Image, error) {
	t, ok := b.catalog.Type(req.Kernel.Tag)
	if !ok {
		return t, nil, nil, fmt.Errorf("%w: %q", ErrUnknownKernel, req.Kernel.Tag)
	}
	key := gpucore.PipelineKey{Tag: t.Tag, Dim: req.Size.Dim}
	invalid := func(reason error, detail string) error {
		return &ValidationError{Image: req.Target, Key: key, Reason: reason, Detail: detail}
	}

	if err := req.Size.Validate(); err != nil {
		return t, nil, nil, invalid(ErrInvalidSize, err.Error())
	}
	img, ok := b.images.Image(req.Target)
	if !ok {
		return t, nil, nil, fmt.Errorf("%w: %s", ErrImageNotFound, req.Target)
	}
	if !t.Supports(req.Size.Dim) {
		return t, nil, nil, invalid(ErrUnsupportedDimension, fmt.Sprintf("%s supports %v", t.Tag, t.Dimensions))
	}
	if img.Size.Dim != req.Size.Dim {
		return t, nil, nil, invalid(ErrDimensionMismatch, fmt.Sprintf("image is %s", img.Size.Dim))
	}
	if img.Size != req.Size {
		return t, nil, nil, invalid(ErrSizeMismatch, fmt.Sprintf("image is %s", img.Size))
	}
	if img.Format != b.catalog.StorageFormat() {
		return t, nil, nil, invalid(ErrFormatMismatch, fmt.Sprintf("image is %v", img.Format))
	}

	var inputs []*Image
	if t.Op == gpucore.OpCombiner {
		if len(req.Kernel.Inputs) != 1 {
			return t, nil, nil, invalid(ErrInputMismatch, fmt.Sprintf("want 1 input, got %d", len(req.Kernel.Inputs)))
		}
		in, ok := b.images.Image(req.Kernel.Inputs[0])
		if !ok {
			return t, nil, nil, fmt.Errorf("%w: input %s", ErrImageNotFound, req.Kernel.Inputs[0])
		}
		if in.Size != img.Size || in.Format != img.Format {
			return t, nil, nil, invalid(ErrInputMismatch, fmt.Sprintf("input %s is %s", in.ID, in.Size))
		}
		inputs = append(inputs, in)
	}
	return t, img, inputs, nil
}

func (b *Binder) bind(req Request) (*ResourceSet, error) {
	t, img, inputs, err := b.validate(req)
	if err != nil {
		return nil, err
	}
	key := gpucore.PipelineKey{Tag: t.Tag, Dim: req.Size.Dim}
	params, err := t.Split(req.Kernel.Params)
	if err != nil {
		return nil, &ValidationError{Image: req.Target, Key: key, Reason: err}
	}
	imageLayout, paramLayout, err := b.catalog.Layouts(key)
	if err != nil {
		return nil, err
	}

	set := &ResourceSet{Key: key, Target: req.Target, Size: req.Size}
	for _, in := range inputs {
		set.Inputs = append(set.Inputs, in.ID)
	}
	ok := false
	defer func() {
		if !ok {
			set.Release(b.device)
		}
	}()

	sizeBuf, err := b.upload(key.Label()+" size", sizeUniform(req.Size),
		gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	set.buffers = append(set.buffers, sizeBuf)

	imageEntries := []gputypes.BindGroupEntry{
		{Binding: 0, Resource: gputypes.TextureViewBinding{TextureView: img.View.NativeHandle()}},
		{Binding: 1, Resource: gputypes.BufferBinding{Buffer: sizeBuf.NativeHandle(), Size: sizeUniformBytes}},
	}
	for i, in := range inputs {
		imageEntries = append(imageEntries, gputypes.BindGroupEntry{
			Binding:  uint32(2 + i),
			Resource: gputypes.TextureViewBinding{TextureView: in.View.NativeHandle()},
		})
	}
	set.ImageGroup, err = b.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   key.Label() + " image",
		Layout:  imageLayout,
		Entries: imageEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("noise: create image bind group: %w", err)
	}

	paramEntries := make([]gputypes.BindGroupEntry, len(params))
	for i, data := range params {
		buf, err := b.upload(fmt.Sprintf("%s param %d", key.Label(), i), data, t.Params[i].Usage())
		if err != nil {
			return nil, err
		}
		set.buffers = append(set.buffers, buf)
		paramEntries[i] = gputypes.BindGroupEntry{
			Binding:  uint32(i),
			Resource: gputypes.BufferBinding{Buffer: buf.NativeHandle(), Size: uint64(len(data))},
		}
	}
	set.ParamGroup, err = b.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   key.Label() + " params",
		Layout:  paramLayout,
		Entries: paramEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("noise: create param bind group: %w", err)
	}

	ok = true
	return set, nil
}

// upload creates a buffer holding data.
func (b *Binder) upload(label string, data []byte, usage gputypes.BufferUsage) (hal.Buffer, error) {
	buf, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  uint64(len(data)),
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("noise: create buffer %s: %w", label, err)
	}
	if err := b.queue.WriteBuffer(buf, 0, data); err != nil {
		b.device.DestroyBuffer(buf)
		return nil, fmt.Errorf("noise: write buffer %s: %w", label, err)
	}
	return buf, nil
}

func sizeUniform(size gpucore.Size) []byte {
	out := make([]byte, 0, sizeUniformBytes)
	for _, v := range size.Uniform() {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}
