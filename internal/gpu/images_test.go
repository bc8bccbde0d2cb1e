package gpu

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/noise/gpucore"
	"github.com/gogpu/noise/internal/gputest"
)

func TestImagesCreate(t *testing.T) {
	device, _ := gputest.New()
	images := NewImages(device)
	defer images.Close()

	tests := []struct {
		size gpucore.Size
		dim  gputypes.TextureDimension
	}{
		{gpucore.Size2D(128, 64), gputypes.TextureDimension2D},
		{gpucore.Size3D(32, 32, 16), gputypes.TextureDimension3D},
	}
	for i, tt := range tests {
		id, err := images.Create(tt.size, gputypes.TextureFormatRGBA8Unorm)
		if err != nil {
			t.Fatalf("Create(%s): %v", tt.size, err)
		}
		if got, ok := images.Size(id); !ok || got != tt.size {
			t.Errorf("Size(%s) = %v, %v", id, got, ok)
		}
		tex := device.Textures()[i]
		if tex.Desc.Dimension != tt.dim {
			t.Errorf("texture dimension = %v, want %v", tex.Desc.Dimension, tt.dim)
		}
		if tex.Desc.Size.DepthOrArrayLayers != tt.size.Depth {
			t.Errorf("texture depth = %d, want %d", tex.Desc.Size.DepthOrArrayLayers, tt.size.Depth)
		}
		for _, u := range []gputypes.TextureUsage{gputypes.TextureUsageStorageBinding, gputypes.TextureUsageCopySrc} {
			if tex.Desc.Usage&u == 0 {
				t.Errorf("texture usage %v lacks %v", tex.Desc.Usage, u)
			}
		}
	}
	if images.Len() != 2 {
		t.Errorf("Len() = %d, want 2", images.Len())
	}
}

func TestImagesCreateErrors(t *testing.T) {
	device, _ := gputest.New()
	images := NewImages(device)

	if _, err := images.Create(gpucore.Size2D(0, 4), gputypes.TextureFormatRGBA8Unorm); err == nil {
		t.Error("empty size accepted")
	}
	if _, err := images.Create(gpucore.Size{Dim: gpucore.Dimension2D, Width: 4, Height: 4, Depth: 2}, gputypes.TextureFormatRGBA8Unorm); err == nil {
		t.Error("2D size with depth 2 accepted")
	}
	if _, err := images.Create(gpucore.Size2D(4, 4), gputypes.TextureFormatDepth24Plus); err == nil {
		t.Error("depth format accepted")
	}
	if images.Len() != 0 {
		t.Errorf("Len() = %d after failures", images.Len())
	}
}

func TestImagesRemove(t *testing.T) {
	device, _ := gputest.New()
	images := NewImages(device)

	id, err := images.Create(gpucore.Size2D(8, 8), gputypes.TextureFormatRGBA8Unorm)
	if err != nil {
		t.Fatal(err)
	}
	img, ok := images.Remove(id)
	if !ok || img.ID != id {
		t.Fatalf("Remove(%s) = %v, %v", id, img, ok)
	}
	if _, ok := images.Image(id); ok {
		t.Error("removed image still resolves")
	}
	if _, ok := images.Remove(id); ok {
		t.Error("second Remove succeeded")
	}
	images.Release(img)

	next, _ := images.Create(gpucore.Size2D(8, 8), gputypes.TextureFormatRGBA8Unorm)
	if next == id {
		t.Error("image id reused")
	}
}

func TestImagesCreateLimits(t *testing.T) {
	device, _ := gputest.New()
	images := NewImages(device)
	defer images.Close()

	tests := []struct {
		name   string
		limits gputypes.Limits
		size   gpucore.Size
		ok     bool
	}{
		{"2D at limit", gputypes.Limits{}, gpucore.Size2D(8192, 1), true},
		{"2D over limit", gputypes.Limits{}, gpucore.Size2D(8193, 1), false},
		{"3D at limit", gputypes.Limits{}, gpucore.Size3D(1, 1, 2048), true},
		{"3D over limit", gputypes.Limits{}, gpucore.Size3D(2049, 1, 1), false},
		{"raised limit", gputypes.Limits{MaxTextureDimension2D: 16384}, gpucore.Size2D(16384, 1), true},
		{"row stride overflow", gputypes.Limits{MaxTextureDimension2D: 1 << 31}, gpucore.Size2D(1<<30, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			images.SetLimits(tt.limits)
			_, err := images.Create(tt.size, gputypes.TextureFormatRGBA8Unorm)
			switch {
			case tt.ok && err != nil:
				t.Errorf("Create(%s): %v", tt.size, err)
			case !tt.ok && !errors.Is(err, ErrImageTooLarge):
				t.Errorf("Create(%s) = %v, want ErrImageTooLarge", tt.size, err)
			}
		})
	}
}
