package kernel

import "github.com/gogpu/noise/gpucore"

// Fbm is fractal Brownian motion over a base generator: Octaves layers of
// Noise, each scaled in frequency by Lacunarity and in amplitude by
// Persistence.
type Fbm[T Kernel] struct {
	Noise       T
	Octaves     uint32
	Lacunarity  float32
	Persistence float32
}

// NewFbm returns an Fbm with 4 octaves, lacunarity 2 and persistence 0.5.
func NewFbm[T Kernel](noise T) Fbm[T] {
	return Fbm[T]{Noise: noise, Octaves: 4, Lacunarity: 2, Persistence: 0.5}
}

// FbmTag returns the type tag of an Fbm over the given base tag.
func FbmTag(base string) string {
	return "fbm<" + base + ">"
}

// TypeTag implements Kernel.
func (f Fbm[T]) TypeTag() string { return FbmTag(f.Noise.TypeTag()) }

// AppendParams implements Kernel. The Fbm buffer (octaves, lacunarity,
// persistence, padding) comes first, followed by the base kernel's buffers.
func (f Fbm[T]) AppendParams(dst []byte) []byte {
	dst = appendU32(dst, f.Octaves)
	dst = appendF32(dst, f.Lacunarity)
	dst = appendF32(dst, f.Persistence)
	dst = appendU32(dst, 0)
	return f.Noise.AppendParams(dst)
}

// FbmOf synthesizes the registration record of an Fbm over base. The
// shader is the shared fbm template with base's define tokens selecting
// the base noise function.
func FbmOf(base Type) Type {
	defines := make([]string, 0, len(base.Defines)+1)
	defines = append(defines, "FBM")
	defines = append(defines, base.Defines...)

	params := make([]ParamBinding, 0, len(base.Params)+1)
	params = append(params, ParamBinding{Size: 16})
	params = append(params, base.Params...)

	return Type{
		Tag:        FbmTag(base.Tag),
		Op:         gpucore.OpGenerator,
		Defines:    defines,
		Source:     mustShader("fbm_main"),
		Dimensions: append([]gpucore.Dimension(nil), base.Dimensions...),
		Params:     params,
	}
}
