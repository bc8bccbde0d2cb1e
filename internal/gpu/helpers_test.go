package gpu

import (
	"context"
	"sync"
	"testing"
	"unsafe"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/noise/gpucore"
	"github.com/gogpu/noise/internal/gputest"
	"github.com/gogpu/noise/internal/wgsl"
	"github.com/gogpu/noise/kernel"
)

const perlin2DTag = "perlin2d"

// perlin2D is Perlin registered under its own tag with a 2D variant only.
func perlin2D() kernel.Type {
	t := kernel.PerlinType()
	t.Tag = perlin2DTag
	t.Dimensions = []gpucore.Dimension{gpucore.Dimension2D}
	return t
}

// perlinRequest returns a Perlin request under tag.
func perlinRequest(target gpucore.ImageID, tag string, size gpucore.Size) Request {
	d := kernel.Describe(kernel.NewPerlin(1))
	d.Tag = tag
	return Request{Target: target, Kernel: d, Size: size}
}

func testCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Library:      kernel.Library,
		ShaderFormat: wgsl.FormatWGSL,
	}
}

// harness is a consumer on a recording device.
type harness struct {
	t        *testing.T
	device   *gputest.Device
	queue    *gputest.Queue
	images   *Images
	consumer *Consumer

	gate     chan struct{}
	openGate sync.Once
}

// newHarness registers types on a fresh consumer. A non-nil gate holds
// every pipeline in Compiling until h.release is called.
func newHarness(t *testing.T, gate chan struct{}, types ...kernel.Type) *harness {
	t.Helper()
	device, queue := gputest.New()
	device.Gate = gate
	images := NewImages(device)
	c, err := NewConsumer(device, queue, images, Config{Catalog: testCatalogConfig()})
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	h := &harness{t: t, device: device, queue: queue, images: images, consumer: c, gate: gate}
	t.Cleanup(func() {
		h.release()
		if err := c.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	for _, typ := range types {
		if err := c.Catalog().Register(typ); err != nil {
			t.Fatalf("Register(%s): %v", typ.Tag, err)
		}
	}
	return h
}

// release lets gated pipelines finish compiling.
func (h *harness) release() {
	if h.gate != nil {
		h.openGate.Do(func() { close(h.gate) })
	}
}

// ready waits until every registered pipeline has compiled.
func (h *harness) ready() {
	h.t.Helper()
	h.release()
	if err := h.consumer.Catalog().Wait(); err != nil {
		h.t.Fatalf("Catalog.Wait: %v", err)
	}
}

func (h *harness) image(size gpucore.Size) gpucore.ImageID {
	h.t.Helper()
	id, err := h.images.Create(size, gputypes.TextureFormatRGBA8Unorm)
	if err != nil {
		h.t.Fatalf("Create(%s): %v", size, err)
	}
	return id
}

func (h *harness) tick(batch Batch) {
	h.t.Helper()
	if err := h.consumer.Tick(context.Background(), batch); err != nil {
		h.t.Fatalf("Tick: %v", err)
	}
}

// withLogger routes package logs into a recorder for the test.
func withLogger(t *testing.T) *gputest.LogRecorder {
	t.Helper()
	logger, rec := gputest.Logger()
	SetLogger(logger)
	t.Cleanup(func() { SetLogger(nil) })
	return rec
}

func unsafeBytes(p unsafe.Pointer, n int) []byte {
	return unsafe.Slice((*byte)(p), n)
}
