package gpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/noise/gpucore"
)

// Per-request errors. A request failing with one of these is logged and
// dropped; sibling requests in the same tick are unaffected.
var (
	// ErrImageNotFound means the target or an input image does not exist.
	ErrImageNotFound = errors.New("noise: image not found")

	// ErrUnknownKernel means no kernel type is registered for the tag.
	ErrUnknownKernel = errors.New("noise: unknown kernel type")

	// ErrUnsupportedDimension means the kernel type has no variant for the
	// requested dimensionality.
	ErrUnsupportedDimension = errors.New("noise: kernel does not support dimension")

	// ErrDimensionMismatch means the request and the target image differ
	// in dimensionality.
	ErrDimensionMismatch = errors.New("noise: dimension mismatch")

	// ErrSizeMismatch means the request size differs from the image size.
	ErrSizeMismatch = errors.New("noise: size mismatch")

	// ErrFormatMismatch means the image format is not the storage format
	// kernels are compiled for.
	ErrFormatMismatch = errors.New("noise: format mismatch")

	// ErrInputMismatch means a combiner input is missing or differs from
	// the target.
	ErrInputMismatch = errors.New("noise: combiner input mismatch")

	// ErrInvalidSize means the request size is malformed.
	ErrInvalidSize = errors.New("noise: invalid size")

	// ErrImageTooLarge means an image exceeds the device texture limits.
	ErrImageTooLarge = errors.New("noise: image exceeds device limits")
)

// Subsystem errors.
var (
	// ErrReadbackMap means mapping a staging buffer for read failed.
	// It is delivered in the Readback result of that one image.
	ErrReadbackMap = errors.New("noise: readback map failed")

	// ErrReadbackWait means the bounded wait for a readback copy expired.
	ErrReadbackWait = errors.New("noise: readback wait expired")

	// ErrNotRegistered is returned when looking up a key that was never
	// registered.
	ErrNotRegistered = errors.New("noise: pipeline not registered")
)

// ValidationError describes a request rejected by the binder.
type ValidationError struct {
	Image  gpucore.ImageID
	Key    gpucore.PipelineKey
	Reason error
	Detail string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("noise: invalid request for %s with %s: %v", e.Image, e.Key, e.Reason)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Reason }

// CompileError reports a pipeline that failed to compile.
type CompileError struct {
	Key gpucore.PipelineKey
	Err error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("noise: compile %s: %v", e.Key, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }
