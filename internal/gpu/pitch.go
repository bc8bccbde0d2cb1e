package gpu

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/noise/gpucore"
)

// DefaultRowAlignment is the row stride alignment GPU texture-to-buffer
// copies require.
const DefaultRowAlignment = 256

// RowPitch returns width*pixelSize rounded up to a multiple of alignment.
// A row that is already aligned is not padded.
func RowPitch(width, pixelSize, alignment uint32) uint32 {
	row := uint64(width) * uint64(pixelSize)
	if alignment > 1 {
		a := uint64(alignment)
		row = (row + a - 1) / a * a
	}
	return uint32(row)
}

// CopyLayout is the layout of an image copied into a staging buffer.
type CopyLayout struct {
	Size      gpucore.Size
	PixelSize uint32
	RowBytes  uint32
	RowPitch  uint32
}

// NewCopyLayout returns the staging layout of an image.
func NewCopyLayout(size gpucore.Size, pixelSize, alignment uint32) CopyLayout {
	return CopyLayout{
		Size:      size,
		PixelSize: pixelSize,
		RowBytes:  size.Width * pixelSize,
		RowPitch:  RowPitch(size.Width, pixelSize, alignment),
	}
}

// rows returns the number of rows across all slices.
func (l CopyLayout) rows() uint64 {
	return uint64(l.Size.Height) * uint64(l.Size.Depth)
}

// StagingSize is the padded byte size of the staging buffer.
func (l CopyLayout) StagingSize() uint64 {
	return uint64(l.RowPitch) * l.rows()
}

// TightSize is the byte size of the image without row padding.
func (l CopyLayout) TightSize() uint64 {
	return uint64(l.RowBytes) * l.rows()
}

// Region returns the copy region for the whole image.
func (l CopyLayout) Region(texture hal.Texture) hal.BufferTextureCopy {
	return hal.BufferTextureCopy{
		BufferLayout: hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  l.RowPitch,
			RowsPerImage: l.Size.Height,
		},
		TextureBase: hal.ImageCopyTexture{
			Texture:  texture,
			MipLevel: 0,
		},
		Size: hal.Extent3D{
			Width:              l.Size.Width,
			Height:             l.Size.Height,
			DepthOrArrayLayers: l.Size.Depth,
		},
	}
}

// Depad strips the trailing alignment bytes of every row of padded and
// returns the tightly packed image.
func (l CopyLayout) Depad(padded []byte) ([]byte, error) {
	if uint64(len(padded)) < l.StagingSize() {
		return nil, fmt.Errorf("noise: staging data is %d bytes, want %d", len(padded), l.StagingSize())
	}
	out := make([]byte, l.TightSize())
	if l.RowPitch == l.RowBytes {
		copy(out, padded)
		return out, nil
	}
	pitch, row := uint64(l.RowPitch), uint64(l.RowBytes)
	for r := uint64(0); r < l.rows(); r++ {
		copy(out[r*row:(r+1)*row], padded[r*pitch:r*pitch+row])
	}
	return out, nil
}
