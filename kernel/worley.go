package kernel

import "github.com/gogpu/noise/gpucore"

// WorleyTag is the type tag of Worley.
const WorleyTag = "worley"

// WorleyFlags toggle Worley behavior in the shader.
type WorleyFlags uint32

// Worley flags.
const (
	// WorleyTileable wraps the cell grid so the image tiles seamlessly.
	WorleyTileable WorleyFlags = 1 << iota

	// WorleyInvert outputs 1 - distance.
	WorleyInvert
)

// Worley is cellular noise: the distance to the nearest feature point.
type Worley struct {
	Seed      uint32
	Frequency float32
	Flags     WorleyFlags
}

// NewWorley returns Worley noise with frequency 5.
func NewWorley(seed uint32) Worley {
	return Worley{Seed: seed, Frequency: 5}
}

// TypeTag implements Kernel.
func (Worley) TypeTag() string { return WorleyTag }

// AppendParams implements Kernel. Layout: seed, frequency, flags, padding.
func (w Worley) AppendParams(dst []byte) []byte {
	dst = appendU32(dst, w.Seed)
	dst = appendF32(dst, w.Frequency)
	dst = appendU32(dst, uint32(w.Flags))
	return appendU32(dst, 0)
}

// WorleyType returns the registration record for Worley.
func WorleyType() Type {
	return Type{
		Tag:        WorleyTag,
		Op:         gpucore.OpGenerator,
		Defines:    []string{"WORLEY"},
		Source:     mustShader("worley_main"),
		Dimensions: both,
		Params:     uniform16,
	}
}
