package gpucore

import (
	"math"
	"testing"

	"github.com/gogpu/gputypes"
)

func TestSizeWorkgroups(t *testing.T) {
	tests := []struct {
		name    string
		size    Size
		x, y, z uint32
	}{
		{"128x128", Size2D(128, 128), 16, 16, 1},
		{"1x1", Size2D(1, 1), 1, 1, 1},
		{"partial", Size2D(9, 17), 2, 3, 1},
		{"3D exact", Size3D(32, 32, 32), 4, 4, 4},
		{"3D partial", Size3D(20, 20, 20), 3, 3, 3},
		{"max width", Size2D(math.MaxUint32, 1), 1 << 29, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y, z := tt.size.Workgroups()
			if x != tt.x || y != tt.y || z != tt.z {
				t.Errorf("Workgroups() = (%d,%d,%d), want (%d,%d,%d)", x, y, z, tt.x, tt.y, tt.z)
			}
		})
	}
}

func TestSizeValidate(t *testing.T) {
	tests := []struct {
		name    string
		size    Size
		wantErr bool
	}{
		{"2D", Size2D(4, 4), false},
		{"3D", Size3D(4, 4, 4), false},
		{"3D depth 1", Size3D(4, 4, 1), false},
		{"zero width", Size2D(0, 4), true},
		{"2D with depth", Size{Dim: Dimension2D, Width: 4, Height: 4, Depth: 2}, true},
		{"no dimension", Size{Width: 4, Height: 4, Depth: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.size.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSizeString(t *testing.T) {
	if got := Size2D(300, 4).String(); got != "300x4" {
		t.Errorf("String() = %q", got)
	}
	if got := Size3D(2, 3, 4).String(); got != "2x3x4" {
		t.Errorf("String() = %q", got)
	}
}

func TestPixelSize(t *testing.T) {
	tests := []struct {
		format gputypes.TextureFormat
		want   uint32
		ok     bool
	}{
		{gputypes.TextureFormatR8Unorm, 1, true},
		{gputypes.TextureFormatRGBA8Unorm, 4, true},
		{gputypes.TextureFormatR32Float, 4, true},
		{gputypes.TextureFormatRGBA32Float, 16, true},
		{gputypes.TextureFormatUndefined, 0, false},
	}
	for _, tt := range tests {
		got, ok := PixelSize(tt.format)
		if got != tt.want || ok != tt.ok {
			t.Errorf("PixelSize(%v) = (%d, %v), want (%d, %v)", tt.format, got, ok, tt.want, tt.ok)
		}
	}
}

func TestPipelineKeyString(t *testing.T) {
	k := PipelineKey{Tag: "fbm<perlin>", Dim: Dimension3D}
	if got := k.String(); got != "fbm<perlin>/3D" {
		t.Errorf("String() = %q", got)
	}
	if a, b := (PipelineKey{"perlin", Dimension2D}), (PipelineKey{"perlin", Dimension3D}); a == b {
		t.Error("2D and 3D keys of the same kernel must differ")
	}
}

func TestPipelineStateString(t *testing.T) {
	for s, want := range map[PipelineState]string{
		PipelineUnregistered: "Unregistered",
		PipelineCompiling:    "Compiling",
		PipelineReady:        "Ready",
		PipelineFailed:       "Failed",
	} {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", s, got, want)
		}
	}
}
