package gpucore

import "fmt"

// PipelineKey identifies one compiled compute pipeline.
//
// A kernel type compiles to a separate pipeline per dimensionality because
// the 2D and 3D variants bind different storage texture layouts.
type PipelineKey struct {
	// Tag is the kernel type tag, e.g. "perlin" or "fbm<perlin>".
	Tag string

	// Dim selects the 2D or 3D variant.
	Dim Dimension
}

// String returns "tag/2D" or "tag/3D".
func (k PipelineKey) String() string {
	return k.Tag + "/" + k.Dim.String()
}

// Label returns a debug label for GPU objects created for the key.
func (k PipelineKey) Label() string {
	return "noise " + k.String()
}

// PipelineState is the lifecycle of one cached pipeline.
type PipelineState uint8

// Pipeline states.
const (
	// PipelineUnregistered means the key was never registered.
	PipelineUnregistered PipelineState = iota

	// PipelineCompiling means compilation was requested and has not finished.
	PipelineCompiling

	// PipelineReady means the pipeline can be used for dispatch.
	PipelineReady

	// PipelineFailed means compilation failed; the key never becomes ready.
	PipelineFailed
)

// String returns the state name.
func (s PipelineState) String() string {
	switch s {
	case PipelineUnregistered:
		return "Unregistered"
	case PipelineCompiling:
		return "Compiling"
	case PipelineReady:
		return "Ready"
	case PipelineFailed:
		return "Failed"
	default:
		return fmt.Sprintf("PipelineState(%d)", uint8(s))
	}
}
