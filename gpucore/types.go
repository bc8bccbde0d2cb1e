package gpucore

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// ImageID is an opaque handle to an image owned by the image store.
type ImageID uint64

// InvalidID is the zero value, representing an invalid/null image.
const InvalidID ImageID = 0

// String returns a short form used in log records.
func (id ImageID) String() string {
	return fmt.Sprintf("image#%d", uint64(id))
}

// WorkgroupExtent is the number of texels a workgroup covers on each axis.
const WorkgroupExtent = 8

// Dimension is the dimensionality of an image or kernel variant.
type Dimension uint8

// Dimensions.
const (
	// DimensionUnknown is the zero value; never valid for a request.
	DimensionUnknown Dimension = 0

	// Dimension2D is a width x height image.
	Dimension2D Dimension = 2

	// Dimension3D is a width x height x depth volume.
	Dimension3D Dimension = 3
)

// String returns "2D", "3D" or "unknown".
func (d Dimension) String() string {
	switch d {
	case Dimension2D:
		return "2D"
	case Dimension3D:
		return "3D"
	default:
		return "unknown"
	}
}

// Define returns the shader-define token selecting this dimensionality.
// It is the same text as String.
func (d Dimension) Define() string {
	return d.String()
}

// Valid reports whether d is 2D or 3D.
func (d Dimension) Valid() bool {
	return d == Dimension2D || d == Dimension3D
}

// TextureDimension converts to the gputypes texture dimension.
func (d Dimension) TextureDimension() gputypes.TextureDimension {
	if d == Dimension3D {
		return gputypes.TextureDimension3D
	}
	return gputypes.TextureDimension2D
}

// ViewDimension converts to the gputypes texture view dimension.
func (d Dimension) ViewDimension() gputypes.TextureViewDimension {
	if d == Dimension3D {
		return gputypes.TextureViewDimension3D
	}
	return gputypes.TextureViewDimension2D
}

// Size is the extent of an image. A 2D size always has Depth == 1.
type Size struct {
	Dim    Dimension
	Width  uint32
	Height uint32
	Depth  uint32
}

// Size2D returns a 2D size.
func Size2D(width, height uint32) Size {
	return Size{Dim: Dimension2D, Width: width, Height: height, Depth: 1}
}

// Size3D returns a 3D size.
func Size3D(width, height, depth uint32) Size {
	return Size{Dim: Dimension3D, Width: width, Height: height, Depth: depth}
}

// Dimension returns the dimensionality the size was declared with.
func (s Size) Dimension() Dimension {
	return s.Dim
}

// Validate reports whether the size can describe an image.
func (s Size) Validate() error {
	if !s.Dim.Valid() {
		return fmt.Errorf("gpucore: invalid dimension %d", s.Dim)
	}
	if s.Width == 0 || s.Height == 0 || s.Depth == 0 {
		return fmt.Errorf("gpucore: empty size %s", s)
	}
	if s.Dim == Dimension2D && s.Depth != 1 {
		return fmt.Errorf("gpucore: 2D size with depth %d", s.Depth)
	}
	return nil
}

// Texels returns the number of texels covered by the size.
func (s Size) Texels() uint64 {
	return uint64(s.Width) * uint64(s.Height) * uint64(s.Depth)
}

// Workgroups returns the dispatch grid for the size.
// The z component is always 1 for a 2D size.
func (s Size) Workgroups() (x, y, z uint32) {
	x = ceilDiv(s.Width, WorkgroupExtent)
	y = ceilDiv(s.Height, WorkgroupExtent)
	z = 1
	if s.Dim == Dimension3D {
		z = ceilDiv(s.Depth, WorkgroupExtent)
	}
	return x, y, z
}

// Uniform returns the extent as the four floats written to the image size
// uniform: (width, height, depth, 0).
func (s Size) Uniform() [4]float32 {
	return [4]float32{float32(s.Width), float32(s.Height), float32(s.Depth), 0}
}

// String formats the size as WxH or WxHxD.
func (s Size) String() string {
	if s.Dim == Dimension3D {
		return fmt.Sprintf("%dx%dx%d", s.Width, s.Height, s.Depth)
	}
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

func ceilDiv(n, d uint32) uint32 {
	return uint32((uint64(n) + uint64(d) - 1) / uint64(d))
}

// Op classifies what a kernel does with its target image.
type Op uint8

// Kernel ops.
const (
	// OpGenerator writes fresh values into the target.
	OpGenerator Op = iota

	// OpModifier reads and rewrites the target in place.
	OpModifier

	// OpCombiner mixes a second input image into the target.
	OpCombiner
)

// String returns the op name.
func (o Op) String() string {
	switch o {
	case OpGenerator:
		return "generator"
	case OpModifier:
		return "modifier"
	case OpCombiner:
		return "combiner"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// Define returns the shader-define token for the op.
func (o Op) Define() string {
	switch o {
	case OpModifier:
		return "MODIFIER"
	case OpCombiner:
		return "COMBINER"
	default:
		return "GENERATOR"
	}
}

// PixelSize returns the size in bytes of one texel of the given format.
// Returns false for compressed, depth and unknown formats.
func PixelSize(format gputypes.TextureFormat) (uint32, bool) {
	switch format {
	case gputypes.TextureFormatR8Unorm,
		gputypes.TextureFormatR8Snorm,
		gputypes.TextureFormatR8Uint,
		gputypes.TextureFormatR8Sint:
		return 1, true
	case gputypes.TextureFormatR16Float,
		gputypes.TextureFormatRG8Unorm:
		return 2, true
	case gputypes.TextureFormatR32Float,
		gputypes.TextureFormatR32Uint,
		gputypes.TextureFormatRGBA8Unorm,
		gputypes.TextureFormatBGRA8Unorm:
		return 4, true
	case gputypes.TextureFormatRG32Float,
		gputypes.TextureFormatRGBA16Float:
		return 8, true
	case gputypes.TextureFormatRGBA32Float:
		return 16, true
	default:
		return 0, false
	}
}
