package kernel

import "github.com/gogpu/noise/gpucore"

// BlendTag is the type tag of Blend.
const BlendTag = "blend"

// BlendMode selects how Blend mixes the two images.
type BlendMode uint32

// Blend modes.
const (
	BlendMix BlendMode = iota
	BlendAdd
	BlendMultiply
	BlendMin
	BlendMax
)

// Blend combines Other into the target. For BlendMix, Factor is the weight
// of Other; the remaining modes scale their result by Factor.
type Blend struct {
	Other  gpucore.ImageID
	Factor float32
	Mode   BlendMode
}

// TypeTag implements Kernel.
func (Blend) TypeTag() string { return BlendTag }

// AppendParams implements Kernel. Layout: factor, mode, padding.
func (b Blend) AppendParams(dst []byte) []byte {
	dst = appendF32(dst, b.Factor)
	dst = appendU32(dst, uint32(b.Mode))
	dst = appendU32(dst, 0)
	return appendU32(dst, 0)
}

// Inputs implements InputKernel.
func (b Blend) Inputs() []gpucore.ImageID {
	return []gpucore.ImageID{b.Other}
}

// BlendType returns the registration record for Blend.
func BlendType() Type {
	return Type{
		Tag:        BlendTag,
		Op:         gpucore.OpCombiner,
		Defines:    []string{"BLEND"},
		Source:     mustShader("blend_main"),
		Dimensions: both,
		Params:     uniform16,
	}
}
