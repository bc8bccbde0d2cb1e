package gpucore

// Readback is the result of one readback of an image.
//
// Data holds Size.Texels() * pixel-size bytes, rows tightly packed and
// slices stacked for 3D images. When Err is non-nil Data is nil.
type Readback struct {
	Image ImageID
	Size  Size
	Data  []byte
	Err   error
}
