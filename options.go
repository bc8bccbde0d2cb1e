package noise

import (
	"log/slog"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/noise/internal/gpu"
	"github.com/gogpu/noise/internal/wgsl"
	"github.com/gogpu/noise/kernel"
)

// ShaderFormat selects how kernel shaders reach the backend.
type ShaderFormat uint8

const (
	// ShaderSPIRV compiles WGSL to SPIR-V before creating modules. Native
	// backends such as Vulkan need this.
	ShaderSPIRV ShaderFormat = iota

	// ShaderWGSL passes WGSL text to the backend unchanged.
	ShaderWGSL
)

// String returns "spirv" or "wgsl".
func (f ShaderFormat) String() string {
	return f.format().String()
}

func (f ShaderFormat) format() wgsl.Format {
	if f == ShaderWGSL {
		return wgsl.FormatWGSL
	}
	return wgsl.FormatSPIRV
}

// Option configures an Engine during creation.
//
// Example:
//
//	engine, err := noise.NewEngine(device, queue,
//	    noise.WithShaderFormat(noise.ShaderWGSL),
//	    noise.WithReadbackTimeout(time.Second),
//	)
type Option func(*options)

// options holds optional configuration for Engine creation.
type options struct {
	logger          *slog.Logger
	shaderFormat    ShaderFormat
	workers         int
	rowAlignment    uint32
	readbackTimeout time.Duration
	kernels         []kernel.Type
	builtins        bool
	limits          gputypes.Limits
}

// defaultOptions returns the default engine options.
func defaultOptions() options {
	return options{
		shaderFormat:    ShaderSPIRV,
		workers:         2,
		rowAlignment:    gpu.DefaultRowAlignment,
		readbackTimeout: gpu.DefaultReadbackTimeout,
		builtins:        true,
	}
}

// WithLogger sets the package logger when the engine is created.
// It is a shorthand for calling SetLogger first.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithShaderFormat selects SPIR-V or WGSL shader modules.
func WithShaderFormat(f ShaderFormat) Option {
	return func(o *options) {
		o.shaderFormat = f
	}
}

// WithCompileWorkers bounds the number of pipelines compiled concurrently.
// Values below 1 are ignored.
func WithCompileWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithRowAlignment sets the row stride alignment of readback copies.
// It must be a power of two; other values are ignored.
func WithRowAlignment(n uint32) Option {
	return func(o *options) {
		if n > 0 && n&(n-1) == 0 {
			o.rowAlignment = n
		}
	}
}

// WithReadbackTimeout bounds the one blocking wait of a tick: waiting for
// the submission that carries readback copies.
func WithReadbackTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.readbackTimeout = d
		}
	}
}

// WithLimits sets the device limits image sizes are checked against.
// Without it the WebGPU default limits apply.
func WithLimits(limits gputypes.Limits) Option {
	return func(o *options) {
		o.limits = limits
	}
}

// WithKernels registers additional kernel types when the engine is created.
func WithKernels(types ...kernel.Type) Option {
	return func(o *options) {
		o.kernels = append(o.kernels, types...)
	}
}

// WithoutBuiltins skips registration of the built-in kernel types.
func WithoutBuiltins() Option {
	return func(o *options) {
		o.builtins = false
	}
}
