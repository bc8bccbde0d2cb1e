package gpu

import (
	"fmt"
	"math"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/noise/gpucore"
)

// Image is a GPU-resident image.
type Image struct {
	ID      gpucore.ImageID
	Size    gpucore.Size
	Format  gputypes.TextureFormat
	Texture hal.Texture
	View    hal.TextureView
}

// ImageStore resolves image handles on the consumer timeline.
type ImageStore interface {
	Image(id gpucore.ImageID) (*Image, bool)
}

// imageUsage lets kernels write the image, combiners read it and readback
// copy it out.
const imageUsage = gputypes.TextureUsageStorageBinding |
	gputypes.TextureUsageTextureBinding |
	gputypes.TextureUsageCopySrc |
	gputypes.TextureUsageCopyDst

// Images is an ImageStore backed by hal textures. Images may be created
// and removed from any goroutine.
type Images struct {
	device hal.Device
	limits gputypes.Limits

	mu     sync.RWMutex
	next   gpucore.ImageID
	images map[gpucore.ImageID]*Image
}

// NewImages returns an empty store creating textures on device.
func NewImages(device hal.Device) *Images {
	return &Images{
		device: device,
		limits: gputypes.DefaultLimits(),
		images: make(map[gpucore.ImageID]*Image),
	}
}

// SetLimits sets the texture limits Create checks sizes against. Zero
// dimension limits keep their current value. Call before creating images.
func (s *Images) SetLimits(limits gputypes.Limits) {
	if limits.MaxTextureDimension2D != 0 {
		s.limits.MaxTextureDimension2D = limits.MaxTextureDimension2D
	}
	if limits.MaxTextureDimension3D != 0 {
		s.limits.MaxTextureDimension3D = limits.MaxTextureDimension3D
	}
}

// fits reports an error if size cannot be allocated within the limits or
// if one row of it does not fit a uint32 copy stride.
func (s *Images) fits(size gpucore.Size, pixelSize uint32) error {
	limit := s.limits.MaxTextureDimension2D
	if size.Dim == gpucore.Dimension3D {
		limit = s.limits.MaxTextureDimension3D
	}
	if size.Width > limit || size.Height > limit || size.Depth > limit {
		return fmt.Errorf("%w: %s, max %d per axis", ErrImageTooLarge, size, limit)
	}
	if uint64(size.Width)*uint64(pixelSize)+DefaultRowAlignment > math.MaxUint32 {
		return fmt.Errorf("%w: %s rows overflow the copy stride", ErrImageTooLarge, size)
	}
	return nil
}

// Create allocates a texture and a full view of it.
func (s *Images) Create(size gpucore.Size, format gputypes.TextureFormat) (gpucore.ImageID, error) {
	if err := size.Validate(); err != nil {
		return gpucore.InvalidID, err
	}
	pixel, ok := gpucore.PixelSize(format)
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("noise: unsupported image format %v", format)
	}
	if err := s.fits(size, pixel); err != nil {
		return gpucore.InvalidID, err
	}

	s.mu.Lock()
	s.next++
	id := s.next
	s.mu.Unlock()

	label := "noise " + id.String()
	tex, err := s.device.CreateTexture(&hal.TextureDescriptor{
		Label: label,
		Size: hal.Extent3D{
			Width:              size.Width,
			Height:             size.Height,
			DepthOrArrayLayers: size.Depth,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     size.Dim.TextureDimension(),
		Format:        format,
		Usage:         imageUsage,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("noise: create texture %s: %w", size, err)
	}
	view, err := s.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:     label,
		Format:    format,
		Dimension: size.Dim.ViewDimension(),
		Aspect:    gputypes.TextureAspectAll,
	})
	if err != nil {
		s.device.DestroyTexture(tex)
		return gpucore.InvalidID, fmt.Errorf("noise: create texture view: %w", err)
	}

	img := &Image{ID: id, Size: size, Format: format, Texture: tex, View: view}
	s.mu.Lock()
	s.images[id] = img
	s.mu.Unlock()
	slogger().Debug("noise: image created", "image", id, "size", size.String(), "format", format)
	return id, nil
}

// Image implements ImageStore.
func (s *Images) Image(id gpucore.ImageID) (*Image, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.images[id]
	return img, ok
}

// Size returns the size an image was created with.
func (s *Images) Size(id gpucore.ImageID) (gpucore.Size, bool) {
	img, ok := s.Image(id)
	if !ok {
		return gpucore.Size{}, false
	}
	return img.Size, true
}

// Remove forgets an image and returns it so the caller can release its
// GPU objects once in-flight work no longer uses them.
func (s *Images) Remove(id gpucore.ImageID) (*Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	if ok {
		delete(s.images, id)
	}
	return img, ok
}

// Len returns the number of live images.
func (s *Images) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.images)
}

// Release destroys the GPU objects of an image.
func (s *Images) Release(img *Image) {
	if img == nil {
		return
	}
	if img.View != nil {
		s.device.DestroyTextureView(img.View)
	}
	if img.Texture != nil {
		s.device.DestroyTexture(img.Texture)
	}
}

// Close releases every image.
func (s *Images) Close() {
	s.mu.Lock()
	images := s.images
	s.images = make(map[gpucore.ImageID]*Image)
	s.mu.Unlock()
	for _, img := range images {
		s.Release(img)
	}
}
