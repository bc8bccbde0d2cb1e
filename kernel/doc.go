// Package kernel describes the compute programs the noise engine runs.
//
// A [Kernel] is a value (for example [Perlin] or [Fbm]) carrying parameters.
// A [Type] is the setup-time registration record of a kernel type: its WGSL
// entry template, define tokens, supported dimensions and parameter bind
// group layout. Requests travel through the engine as a [Descriptor], the
// type-erased pair of tag and parameter bytes, and [Type.Split] turns those
// bytes back into the contents of each parameter buffer.
//
// Derived kernels are synthesized from a base type:
//
//	reg, _ := kernel.NewRegistry(kernel.PerlinType(), kernel.FbmOf(kernel.PerlinType()))
//	k := kernel.NewFbm(kernel.NewPerlin(7)) // tag "fbm<perlin>"
package kernel
