package kernel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/noise/gpucore"
)

// Errors returned when registering or decoding kernels.
var (
	// ErrInvalidType is returned when a Type is missing a required field.
	ErrInvalidType = errors.New("kernel: invalid type")

	// ErrDuplicateTag is returned when two types share a tag.
	ErrDuplicateTag = errors.New("kernel: duplicate type tag")

	// ErrUnknownTag is returned when no type is registered for a tag.
	ErrUnknownTag = errors.New("kernel: unknown type tag")

	// ErrParamSize is returned when parameter bytes do not match the
	// declared parameter layout.
	ErrParamSize = errors.New("kernel: parameter size mismatch")
)

// Kernel is a parametrized GPU compute program. Values of a Kernel are
// plain data; the program itself is described by the Type registered
// under TypeTag.
type Kernel interface {
	// TypeTag names the registered Type that runs this kernel.
	TypeTag() string

	// AppendParams appends the kernel's parameter bytes to dst, in the
	// binding order of the Type's Params.
	AppendParams(dst []byte) []byte
}

// InputKernel is implemented by combiners that read a second image.
type InputKernel interface {
	Kernel

	// Inputs returns the images read by the kernel in addition to the target.
	Inputs() []gpucore.ImageID
}

// Descriptor is the type-erased form of a kernel. A tag plus the parameter
// bytes fully determine the GPU buffers the kernel binds, so requests for
// different kernel types can be queued together.
type Descriptor struct {
	Tag    string
	Params []byte
	Inputs []gpucore.ImageID
}

// Describe erases k into a Descriptor.
func Describe(k Kernel) Descriptor {
	d := Descriptor{
		Tag:    k.TypeTag(),
		Params: k.AppendParams(nil),
	}
	if in, ok := k.(InputKernel); ok {
		d.Inputs = append([]gpucore.ImageID(nil), in.Inputs()...)
	}
	return d
}

// ParamBinding is one parameter buffer in a kernel's parameter bind group.
type ParamBinding struct {
	// Size is the exact byte size of the buffer.
	Size uint64

	// Type is the buffer binding type. Zero means uniform.
	Type gputypes.BufferBindingType
}

// BindingType returns Type, defaulting to a uniform buffer.
func (b ParamBinding) BindingType() gputypes.BufferBindingType {
	if b.Type == gputypes.BufferBindingTypeUndefined {
		return gputypes.BufferBindingTypeUniform
	}
	return b.Type
}

// Usage returns the buffer usage needed to bind and upload the buffer.
func (b ParamBinding) Usage() gputypes.BufferUsage {
	if b.BindingType() == gputypes.BufferBindingTypeUniform {
		return gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst
	}
	return gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst
}

// Type is the setup-time registration record of a kernel type.
type Type struct {
	// Tag uniquely names the type.
	Tag string

	// Op is what the kernel does with its target.
	Op gpucore.Op

	// Defines are the shader-define tokens of the type. The first token is
	// the type's own; wrappers append theirs after the wrapped type's.
	Defines []string

	// Source is the WGSL entry template. It is expanded once per supported
	// dimension with the "2D" or "3D" token defined.
	Source string

	// EntryPoint is the compute entry point. Empty means "main".
	EntryPoint string

	// Dimensions lists the supported texture dimensionalities.
	Dimensions []gpucore.Dimension

	// Params is the parameter bind group layout, in binding order.
	Params []ParamBinding
}

// Entry returns the entry point name.
func (t Type) Entry() string {
	if t.EntryPoint == "" {
		return "main"
	}
	return t.EntryPoint
}

// Define returns the type's own shader-define token.
func (t Type) Define() string {
	if len(t.Defines) == 0 {
		return ""
	}
	return t.Defines[0]
}

// Supports reports whether the type has a variant for d.
func (t Type) Supports(d gpucore.Dimension) bool {
	for _, s := range t.Dimensions {
		if s == d {
			return true
		}
	}
	return false
}

// Keys returns one pipeline key per supported dimension.
func (t Type) Keys() []gpucore.PipelineKey {
	keys := make([]gpucore.PipelineKey, 0, len(t.Dimensions))
	for _, d := range t.Dimensions {
		keys = append(keys, gpucore.PipelineKey{Tag: t.Tag, Dim: d})
	}
	return keys
}

// ParamSize returns the total byte size of the parameter bindings.
func (t Type) ParamSize() uint64 {
	var n uint64
	for _, p := range t.Params {
		n += p.Size
	}
	return n
}

// Split cuts params into one slice per parameter binding. It is the
// inverse of a kernel's AppendParams.
func (t Type) Split(params []byte) ([][]byte, error) {
	if uint64(len(params)) != t.ParamSize() {
		return nil, fmt.Errorf("%w: %s wants %d bytes, got %d", ErrParamSize, t.Tag, t.ParamSize(), len(params))
	}
	out := make([][]byte, len(t.Params))
	var off uint64
	for i, p := range t.Params {
		out[i] = params[off : off+p.Size]
		off += p.Size
	}
	return out, nil
}

// Validate checks the registration record.
func (t Type) Validate() error {
	switch {
	case t.Tag == "":
		return fmt.Errorf("%w: empty tag", ErrInvalidType)
	case t.Source == "":
		return fmt.Errorf("%w: %s has no shader source", ErrInvalidType, t.Tag)
	case len(t.Dimensions) == 0:
		return fmt.Errorf("%w: %s declares no dimensions", ErrInvalidType, t.Tag)
	case len(t.Defines) == 0:
		return fmt.Errorf("%w: %s has no shader-define token", ErrInvalidType, t.Tag)
	}
	for _, d := range t.Dimensions {
		if !d.Valid() {
			return fmt.Errorf("%w: %s declares dimension %d", ErrInvalidType, t.Tag, d)
		}
	}
	for i, p := range t.Params {
		if p.Size == 0 || p.Size%4 != 0 {
			return fmt.Errorf("%w: %s param %d has size %d", ErrInvalidType, t.Tag, i, p.Size)
		}
		if p.BindingType() == gputypes.BufferBindingTypeUniform && p.Size%16 != 0 {
			return fmt.Errorf("%w: %s uniform param %d is not 16-byte sized", ErrInvalidType, t.Tag, i)
		}
	}
	return nil
}

func appendU32(dst []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, v)
}

func appendF32(dst []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
}

// both is the dimension list of kernels with 2D and 3D variants.
var both = []gpucore.Dimension{gpucore.Dimension2D, gpucore.Dimension3D}

// uniform16 is a single 16-byte uniform parameter buffer.
var uniform16 = []ParamBinding{{Size: 16}}
