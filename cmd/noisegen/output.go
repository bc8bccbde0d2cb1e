package main

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	"github.com/gogpu/noise"
)

const (
	formatPNG  = "png"
	formatTIFF = "tiff"
)

// Slices splits tightly packed RGBA8 texels into one image per depth
// slice.
func Slices(data []byte, size noise.Size) ([]*image.NRGBA, error) {
	w, h := int(size.Width), int(size.Height)
	depth := max(int(size.Depth), 1)
	slice := w * h * 4
	if len(data) != slice*depth {
		return nil, fmt.Errorf("noisegen: readback has %d bytes, want %d for %s", len(data), slice*depth, size)
	}

	out := make([]*image.NRGBA, depth)
	for z := range depth {
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		copy(img.Pix, data[z*slice:(z+1)*slice])
		out[z] = img
	}
	return out, nil
}

// Scale resizes img by factor with Catmull-Rom filtering. A factor of 1
// returns img unchanged.
func Scale(img *image.NRGBA, factor float64) *image.NRGBA {
	if factor == 1 {
		return img
	}
	b := img.Bounds()
	w := max(int(float64(b.Dx())*factor+0.5), 1)
	h := max(int(float64(b.Dy())*factor+0.5), 1)
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Encode writes img in format.
func Encode(w io.Writer, img image.Image, format string) error {
	switch format {
	case formatPNG:
		return png.Encode(w, img)
	case formatTIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	}
	return fmt.Errorf("%w: format %q", ErrJob, format)
}

// OutputNames returns the file names written for an image: one per
// depth slice, suffixed _zNN for 3D images.
func OutputNames(name string, size noise.Size, format string) []string {
	if size.Dimension() == noise.Dimension2D {
		return []string{name + "." + format}
	}
	names := make([]string, size.Depth)
	for z := range names {
		names[z] = fmt.Sprintf("%s_z%02d.%s", name, z, format)
	}
	return names
}

// WriteImage writes the readback of one image into dir and returns the
// paths it created.
func WriteImage(dir, name string, size noise.Size, data []byte, format string, scale float64) ([]string, error) {
	slices, err := Slices(data, size)
	if err != nil {
		return nil, err
	}
	names := OutputNames(name, size, format)
	paths := make([]string, 0, len(names))
	for i, img := range slices {
		path := filepath.Join(dir, names[i])
		if err := writeFile(path, Scale(img, scale), format); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, img image.Image, format string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return Encode(f, img, format)
}
