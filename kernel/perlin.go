package kernel

import "github.com/gogpu/noise/gpucore"

// PerlinTag is the type tag of Perlin.
const PerlinTag = "perlin"

// PerlinFlags toggle Perlin behavior in the shader.
type PerlinFlags uint32

// Perlin flags.
const (
	// PerlinTileable wraps the lattice so the image tiles seamlessly.
	PerlinTileable PerlinFlags = 1 << iota

	// PerlinRemap maps the output from [-1, 1] to [0, 1].
	PerlinRemap

	// PerlinInterpolateCubic uses cubic instead of quintic fade.
	PerlinInterpolateCubic
)

// Perlin is gradient noise.
type Perlin struct {
	Seed      uint32
	Frequency float32
	Flags     PerlinFlags
}

// NewPerlin returns Perlin noise with frequency 5 and remapped output.
func NewPerlin(seed uint32) Perlin {
	return Perlin{Seed: seed, Frequency: 5, Flags: PerlinRemap}
}

// TypeTag implements Kernel.
func (Perlin) TypeTag() string { return PerlinTag }

// AppendParams implements Kernel. Layout: seed, frequency, flags, padding.
func (p Perlin) AppendParams(dst []byte) []byte {
	dst = appendU32(dst, p.Seed)
	dst = appendF32(dst, p.Frequency)
	dst = appendU32(dst, uint32(p.Flags))
	return appendU32(dst, 0)
}

// PerlinType returns the registration record for Perlin.
func PerlinType() Type {
	return Type{
		Tag:        PerlinTag,
		Op:         gpucore.OpGenerator,
		Defines:    []string{"PERLIN"},
		Source:     mustShader("perlin_main"),
		Dimensions: both,
		Params:     uniform16,
	}
}
