package noise

import (
	"errors"

	"github.com/gogpu/noise/internal/gpu"
)

var (
	// ErrClosed is returned by engine methods called after Close.
	ErrClosed = errors.New("noise: engine closed")

	// ErrSequenceOrder is returned when a sequence stage uses a kernel of
	// the wrong op, such as a combiner passed to Modify.
	ErrSequenceOrder = errors.New("noise: kernel op does not match sequence stage")

	// ErrNoReadback is returned by TryReceiveReadback for an image that
	// has no readback channel.
	ErrNoReadback = errors.New("noise: no readback queued for image")
)

// Errors reported by the consumer timeline, in logs and readback results.
var (
	ErrImageNotFound        = gpu.ErrImageNotFound
	ErrUnknownKernel        = gpu.ErrUnknownKernel
	ErrUnsupportedDimension = gpu.ErrUnsupportedDimension
	ErrDimensionMismatch    = gpu.ErrDimensionMismatch
	ErrSizeMismatch         = gpu.ErrSizeMismatch
	ErrFormatMismatch       = gpu.ErrFormatMismatch
	ErrInputMismatch        = gpu.ErrInputMismatch
	ErrImageTooLarge        = gpu.ErrImageTooLarge
	ErrReadbackMap          = gpu.ErrReadbackMap
	ErrReadbackWait         = gpu.ErrReadbackWait
)

// ValidationError describes a request dropped on the consumer timeline.
type ValidationError = gpu.ValidationError

// CompileError reports a kernel pipeline that failed to compile. Tick
// returns it on every call once it happened.
type CompileError = gpu.CompileError
