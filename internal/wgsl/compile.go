package wgsl

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

// Format selects what a shader module is created from.
type Format uint8

// Shader formats.
const (
	// FormatSPIRV compiles WGSL to SPIR-V with naga before module creation.
	FormatSPIRV Format = iota

	// FormatWGSL hands WGSL text to the backend unchanged.
	FormatWGSL
)

// String returns "spirv" or "wgsl".
func (f Format) String() string {
	if f == FormatWGSL {
		return "wgsl"
	}
	return "spirv"
}

// CompileSPIRV compiles WGSL source to SPIR-V words.
func CompileSPIRV(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("wgsl: compile: %w", err)
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("wgsl: compile: SPIR-V length %d is not a multiple of 4", len(spirvBytes))
	}

	// SPIR-V is a stream of little-endian 32-bit words.
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(spirvBytes[i*4:])
	}
	return words, nil
}

// Source converts expanded WGSL into a hal shader source of the given format.
func Source(format Format, source string) (hal.ShaderSource, error) {
	if format == FormatWGSL {
		return hal.ShaderSource{WGSL: source}, nil
	}
	words, err := CompileSPIRV(source)
	if err != nil {
		return hal.ShaderSource{}, err
	}
	return hal.ShaderSource{SPIRV: words}, nil
}

// CreateModule creates a hal shader module from expanded WGSL.
func CreateModule(device hal.Device, label string, format Format, source string) (hal.ShaderModule, error) {
	src, err := Source(format, source)
	if err != nil {
		return nil, err
	}
	module, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: src,
	})
	if err != nil {
		return nil, fmt.Errorf("wgsl: create shader module %s: %w", label, err)
	}
	return module, nil
}
