// Package gpucore defines the value types shared by the noise engine and its
// GPU-consumer timeline.
//
// Nothing in this package touches a GPU device. It holds the vocabulary the
// producer side and the consumer side agree on:
//
//   - [ImageID]: opaque handle to an image owned by the image store
//   - [Size] and [Dimension]: the extent of a request and of its target
//   - [PipelineKey]: the (kernel type, dimensionality) pair a compiled
//     pipeline is cached under
//   - [PipelineState]: the lifecycle of one cached pipeline
//   - [Op]: whether a kernel generates, modifies or combines images
//
// # Workgroups
//
// All kernels run with a fixed workgroup extent of [WorkgroupExtent] texels
// on every axis. [Size.Workgroups] converts an image extent into the grid
// passed to a dispatch, rounding partial groups up:
//
//	gpucore.Size2D(128, 128).Workgroups() // (16, 16, 1)
//	gpucore.Size3D(20, 20, 20).Workgroups() // (3, 3, 3)
package gpucore
