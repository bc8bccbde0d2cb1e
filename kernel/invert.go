package kernel

import "github.com/gogpu/noise/gpucore"

// InvertTag is the type tag of Invert.
const InvertTag = "invert"

// Invert replaces every value v of the target with 1 - v.
type Invert struct{}

// TypeTag implements Kernel.
func (Invert) TypeTag() string { return InvertTag }

// AppendParams implements Kernel. Invert has no parameters.
func (Invert) AppendParams(dst []byte) []byte { return dst }

// InvertType returns the registration record for Invert.
func InvertType() Type {
	return Type{
		Tag:        InvertTag,
		Op:         gpucore.OpModifier,
		Defines:    []string{"INVERT"},
		Source:     mustShader("invert_main"),
		Dimensions: both,
	}
}
