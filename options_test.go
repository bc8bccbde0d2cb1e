package noise

import (
	"log/slog"
	"testing"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/noise/internal/gpu"
	"github.com/gogpu/noise/internal/wgsl"
	"github.com/gogpu/noise/kernel"
)

func TestDefaultOptions(t *testing.T) {
	o := defaultOptions()
	if o.shaderFormat != ShaderSPIRV {
		t.Errorf("shaderFormat = %v, want spirv", o.shaderFormat)
	}
	if o.rowAlignment != gpu.DefaultRowAlignment {
		t.Errorf("rowAlignment = %d, want %d", o.rowAlignment, gpu.DefaultRowAlignment)
	}
	if o.readbackTimeout != gpu.DefaultReadbackTimeout {
		t.Errorf("readbackTimeout = %v", o.readbackTimeout)
	}
	if !o.builtins || o.workers != 2 || o.logger != nil {
		t.Errorf("defaults = %+v", o)
	}
}

func TestOptions(t *testing.T) {
	logger := slog.New(nopHandler{})
	extra := kernel.PerlinType()
	extra.Tag = "perlin-extra"

	tests := []struct {
		name  string
		opt   Option
		check func(options) bool
	}{
		{"logger", WithLogger(logger), func(o options) bool { return o.logger == logger }},
		{"wgsl", WithShaderFormat(ShaderWGSL), func(o options) bool { return o.shaderFormat.format() == wgsl.FormatWGSL }},
		{"workers", WithCompileWorkers(8), func(o options) bool { return o.workers == 8 }},
		{"workers ignored", WithCompileWorkers(0), func(o options) bool { return o.workers == 2 }},
		{"alignment", WithRowAlignment(512), func(o options) bool { return o.rowAlignment == 512 }},
		{"alignment not power of two", WithRowAlignment(300), func(o options) bool { return o.rowAlignment == gpu.DefaultRowAlignment }},
		{"timeout", WithReadbackTimeout(time.Second), func(o options) bool { return o.readbackTimeout == time.Second }},
		{"timeout ignored", WithReadbackTimeout(-1), func(o options) bool { return o.readbackTimeout == gpu.DefaultReadbackTimeout }},
		{"kernels", WithKernels(extra), func(o options) bool { return len(o.kernels) == 1 && o.kernels[0].Tag == "perlin-extra" }},
		{"no builtins", WithoutBuiltins(), func(o options) bool { return !o.builtins }},
		{"limits", WithLimits(gputypes.Limits{MaxTextureDimension2D: 16384}), func(o options) bool { return o.limits.MaxTextureDimension2D == 16384 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := defaultOptions()
			tt.opt(&o)
			if !tt.check(o) {
				t.Errorf("option not applied: %+v", o)
			}
		})
	}
}

func TestShaderFormatString(t *testing.T) {
	if got := ShaderSPIRV.String(); got != "spirv" {
		t.Errorf("ShaderSPIRV = %q", got)
	}
	if got := ShaderWGSL.String(); got != "wgsl" {
		t.Errorf("ShaderWGSL = %q", got)
	}
}
