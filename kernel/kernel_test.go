package kernel

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/gogpu/noise/gpucore"
	"github.com/gogpu/noise/internal/wgsl"
)

func TestDescribePerlin(t *testing.T) {
	p := Perlin{Seed: 42, Frequency: 3.5, Flags: PerlinTileable | PerlinRemap}
	d := Describe(p)
	if d.Tag != PerlinTag {
		t.Fatalf("Tag = %q", d.Tag)
	}
	if len(d.Params) != 16 {
		t.Fatalf("len(Params) = %d, want 16", len(d.Params))
	}
	if got := binary.LittleEndian.Uint32(d.Params[0:]); got != 42 {
		t.Errorf("seed = %d", got)
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(d.Params[4:])); got != 3.5 {
		t.Errorf("frequency = %v", got)
	}
	if got := binary.LittleEndian.Uint32(d.Params[8:]); got != 3 {
		t.Errorf("flags = %d", got)
	}
	if d.Inputs != nil {
		t.Errorf("Inputs = %v, want nil", d.Inputs)
	}
}

func TestFbmParamsSplit(t *testing.T) {
	f := NewFbm(NewWorley(9))
	d := Describe(f)
	if d.Tag != "fbm<worley>" {
		t.Fatalf("Tag = %q", d.Tag)
	}
	typ := FbmOf(WorleyType())
	parts, err := typ.Split(d.Params)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("len(parts) = %d, want 2", len(parts))
	}
	if got := binary.LittleEndian.Uint32(parts[0]); got != 4 {
		t.Errorf("octaves = %d, want 4", got)
	}
	if !bytes.Equal(parts[1], NewWorley(9).AppendParams(nil)) {
		t.Errorf("base params = %x", parts[1])
	}
}

func TestSplitSizeMismatch(t *testing.T) {
	_, err := PerlinType().Split(make([]byte, 12))
	if !errors.Is(err, ErrParamSize) {
		t.Errorf("err = %v, want ErrParamSize", err)
	}
	parts, err := InvertType().Split(nil)
	if err != nil || len(parts) != 0 {
		t.Errorf("Invert Split = (%v, %v)", parts, err)
	}
}

func TestFbmOfComposesDefines(t *testing.T) {
	typ := FbmOf(PerlinType())
	if typ.Tag != "fbm<perlin>" {
		t.Errorf("Tag = %q", typ.Tag)
	}
	if got := strings.Join(typ.Defines, " "); got != "FBM PERLIN" {
		t.Errorf("Defines = %q", got)
	}
	if typ.Define() != "FBM" {
		t.Errorf("Define() = %q", typ.Define())
	}
	if len(typ.Params) != 2 {
		t.Errorf("len(Params) = %d", len(typ.Params))
	}
}

func TestBlendInputs(t *testing.T) {
	d := Describe(Blend{Other: 7, Factor: 0.5})
	if len(d.Inputs) != 1 || d.Inputs[0] != 7 {
		t.Errorf("Inputs = %v", d.Inputs)
	}
	if BlendType().Op != gpucore.OpCombiner {
		t.Error("Blend must be a combiner")
	}
}

func TestTypeValidate(t *testing.T) {
	valid := PerlinType()
	tests := []struct {
		name   string
		mutate func(*Type)
	}{
		{"empty tag", func(t *Type) { t.Tag = "" }},
		{"no source", func(t *Type) { t.Source = "" }},
		{"no dims", func(t *Type) { t.Dimensions = nil }},
		{"bad dim", func(t *Type) { t.Dimensions = []gpucore.Dimension{gpucore.DimensionUnknown} }},
		{"no define", func(t *Type) { t.Defines = nil }},
		{"unaligned uniform", func(t *Type) { t.Params = []ParamBinding{{Size: 12}} }},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("PerlinType().Validate() = %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ := PerlinType()
			tt.mutate(&typ)
			if err := typ.Validate(); !errors.Is(err, ErrInvalidType) {
				t.Errorf("Validate() = %v, want ErrInvalidType", err)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(Builtins()...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if reg.Len() != 6 {
		t.Errorf("Len() = %d, want 6", reg.Len())
	}
	if _, ok := reg.Lookup("fbm<perlin>"); !ok {
		t.Error("fbm<perlin> not registered")
	}
	if _, ok := reg.Lookup("simplex"); ok {
		t.Error("unexpected simplex")
	}
	if err := reg.Register(PerlinType()); !errors.Is(err, ErrDuplicateTag) {
		t.Errorf("duplicate Register = %v", err)
	}
	types := reg.Types()
	if types[0].Tag != PerlinTag || types[len(types)-1].Tag != BlendTag {
		t.Errorf("registration order not kept: %s..%s", types[0].Tag, types[len(types)-1].Tag)
	}
}

func TestBuiltinShadersExpand(t *testing.T) {
	for _, typ := range Builtins() {
		for _, dim := range typ.Dimensions {
			t.Run(typ.Tag+"/"+dim.String(), func(t *testing.T) {
				defines := append(append([]string{}, typ.Defines...), typ.Op.Define(), dim.Define())
				src, err := wgsl.Expand(Library, typ.Source, typ.Tag, defines...)
				if err != nil {
					t.Fatalf("Expand: %v", err)
				}
				if !strings.Contains(src, "fn "+typ.Entry()+"(") {
					t.Error("entry point missing")
				}
				if strings.Count(src, "fn outside(") != 1 {
					t.Error("common imported more than once")
				}
				if strings.Contains(src, "#") {
					t.Error("directive left in expanded source")
				}
			})
		}
	}
}

func TestFbmShaderSelectsBase(t *testing.T) {
	typ := FbmOf(PerlinType())
	defines := append(append([]string{}, typ.Defines...), "2D")
	src, err := wgsl.Expand(Library, typ.Source, typ.Tag, defines...)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(src, "fn perlin(") || strings.Contains(src, "fn worley(") {
		t.Error("fbm<perlin> must include perlin and not worley")
	}
	if !strings.Contains(src, "vec2<f32>") || strings.Contains(src, "texture_storage_3d") {
		t.Error("2D variant expanded with 3D bindings")
	}
}
