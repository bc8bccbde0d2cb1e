package gputest

import (
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/noise/gpucore"
)

// Encoder is a recording hal.CommandEncoder.
type Encoder struct {
	noop.CommandEncoder
	device *Device
}

// BeginComputePass returns a pass that is recorded when it ends.
func (e *Encoder) BeginComputePass(desc *hal.ComputePassDescriptor) hal.ComputePassEncoder {
	p := &ComputePass{device: e.device, pass: Pass{Groups: make(map[uint32]hal.BindGroup)}}
	if desc != nil {
		p.pass.Label = desc.Label
	}
	return p
}

// CopyTextureToBuffer records the copy and writes Pattern into dst at the
// region's row pitch, filling the padding with PadByte.
func (e *Encoder) CopyTextureToBuffer(src hal.Texture, dst hal.Buffer, regions []hal.BufferTextureCopy) {
	tex, _ := src.(*Texture)
	for _, r := range regions {
		e.device.recordCopy(Copy{Texture: tex, Buffer: dst, Region: r})
		if tex == nil {
			continue
		}
		pixel, ok := gpucore.PixelSize(tex.Desc.Format)
		if !ok {
			continue
		}
		rowBytes := int(r.Size.Width * pixel)
		rows := int(r.Size.Height * r.Size.DepthOrArrayLayers)
		pitch := int(r.BufferLayout.BytesPerRow)
		tight := Pattern(rowBytes, rows)
		padded := make([]byte, pitch*rows)
		for i := range padded {
			padded[i] = PadByte
		}
		for row := 0; row < rows; row++ {
			copy(padded[row*pitch:], tight[row*rowBytes:(row+1)*rowBytes])
		}
		_ = e.device.queue.WriteBuffer(dst, r.BufferLayout.Offset, padded)
	}
}

// Pattern returns the tight bytes a simulated copy of rows rows of
// rowBytes bytes produces. No byte equals PadByte.
func Pattern(rowBytes, rows int) []byte {
	out := make([]byte, rowBytes*rows)
	for row := 0; row < rows; row++ {
		for i := 0; i < rowBytes; i++ {
			out[row*rowBytes+i] = byte((row*31 + i) % PadByte)
		}
	}
	return out
}

// ComputePass is a recording hal.ComputePassEncoder.
type ComputePass struct {
	noop.ComputePassEncoder
	device *Device
	pass   Pass
}

// SetPipeline records the pipeline.
func (p *ComputePass) SetPipeline(pipeline hal.ComputePipeline) {
	p.pass.Pipeline, _ = pipeline.(*Pipeline)
}

// SetBindGroup records the group at index.
func (p *ComputePass) SetBindGroup(index uint32, group hal.BindGroup, _ []uint32) {
	p.pass.Groups[index] = group
}

// Dispatch records the workgroup counts.
func (p *ComputePass) Dispatch(x, y, z uint32) {
	p.pass.Workgroups = [3]uint32{x, y, z}
	p.pass.Dispatched = true
}

// End records the pass.
func (p *ComputePass) End() {
	p.device.recordPass(p.pass)
}
