package noise

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/noise/gpucore"
	"github.com/gogpu/noise/internal/device"
	"github.com/gogpu/noise/internal/gpu"
	"github.com/gogpu/noise/kernel"
)

// DefaultFormat is the texel format built-in kernels write.
const DefaultFormat = gputypes.TextureFormatRGBA8Unorm

// Dimension is the dimensionality of an image or kernel variant.
type Dimension = gpucore.Dimension

// Dimensions.
const (
	Dimension2D = gpucore.Dimension2D
	Dimension3D = gpucore.Dimension3D
)

// Stats is a snapshot of engine counters.
type Stats struct {
	gpu.Stats

	// Queued is the number of requests waiting for the next Tick.
	Queued int

	// Images is the number of live images.
	Images int
}

// Engine schedules noise kernels on a GPU.
//
// Two timelines meet in an Engine. Producers call Submit, Sequence and
// QueueReadback from any goroutine; those calls only append to in-memory
// queues. Tick runs the consumer timeline: it takes everything queued so
// far, binds GPU resources, dispatches what the compiled pipelines allow,
// submits one command buffer and delivers finished readbacks. Results are
// picked up with the non-blocking TryReceiveReadback.
//
// Tick, Register and Close are serialized with each other.
type Engine struct {
	device hal.Device
	queue  hal.Queue
	opts   options

	images    *gpu.Images
	consumer  *gpu.Consumer
	requests  RequestQueue
	readbacks *readbackChannels

	mu      sync.Mutex
	ops     map[string]gpucore.Op
	retired []*gpu.Image

	tickMu sync.Mutex
	closed atomic.Bool
}

// NewEngine creates an engine on device and queue and registers the
// kernel types selected by opts. Pipelines compile in the background; use
// WaitPipelines to block until they are ready.
func NewEngine(dev hal.Device, queue hal.Queue, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger != nil {
		SetLogger(o.logger)
	}

	images := gpu.NewImages(dev)
	images.SetLimits(o.limits)
	consumer, err := gpu.NewConsumer(dev, queue, images, gpu.Config{
		Catalog: gpu.CatalogConfig{
			Library:      kernel.Library,
			ShaderFormat: o.shaderFormat.format(),
			Workers:      o.workers,
		},
		Readback: gpu.ReadbackConfig{
			RowAlignment: o.rowAlignment,
			Timeout:      o.readbackTimeout,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("noise: create consumer: %w", err)
	}

	e := &Engine{
		device:    dev,
		queue:     queue,
		opts:      o,
		images:    images,
		consumer:  consumer,
		readbacks: newReadbackChannels(),
		ops:       make(map[string]gpucore.Op),
	}

	var types []kernel.Type
	if o.builtins {
		types = append(types, kernel.Builtins()...)
	}
	types = append(types, o.kernels...)
	if err := e.Register(types...); err != nil {
		_ = e.Close()
		return nil, err
	}

	Logger().Info("noise: engine created",
		"shaders", o.shaderFormat.String(),
		"kernels", len(types),
		"workers", o.workers,
	)
	return e, nil
}

// NewEngineFromProvider creates an engine on the hal device and queue of
// provider, typically a gpucontext.DeviceProvider that also exposes
// HalDevice and HalQueue. The engine does not take ownership of them.
func NewEngineFromProvider(provider any, opts ...Option) (*Engine, error) {
	d, err := device.FromProvider(provider)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithLimits(d.Limits)}, opts...)
	return NewEngine(d.Device, d.Queue, opts...)
}

// Register adds kernel types and starts compiling their pipelines. Types
// are registered at setup time; requests for a type registered later
// wait in the scheduler like any request whose pipeline is compiling.
func (e *Engine) Register(types ...kernel.Type) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	if e.closed.Load() {
		return ErrClosed
	}
	for _, t := range types {
		if err := e.consumer.Catalog().Register(t); err != nil {
			return fmt.Errorf("noise: register %q: %w", t.Tag, err)
		}
		e.mu.Lock()
		e.ops[t.Tag] = t.Op
		e.mu.Unlock()
	}
	return nil
}

func (e *Engine) kernelOp(tag string) (gpucore.Op, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	op, ok := e.ops[tag]
	return op, ok
}

// CreateImage allocates a GPU image kernels can write.
func (e *Engine) CreateImage(size Size, format gputypes.TextureFormat) (ImageID, error) {
	if e.closed.Load() {
		return gpucore.InvalidID, ErrClosed
	}
	return e.images.Create(size, format)
}

// DestroyImage removes an image. Requests already queued for it are
// dropped; its GPU objects are released once no submitted work uses them.
func (e *Engine) DestroyImage(id ImageID) error {
	img, ok := e.images.Remove(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrImageNotFound, id)
	}
	e.readbacks.cancel(id)
	e.mu.Lock()
	e.retired = append(e.retired, img)
	e.mu.Unlock()
	return nil
}

// ImageSize returns the size of an image.
func (e *Engine) ImageSize(id ImageID) (Size, bool) {
	return e.images.Size(id)
}

// Submit queues k to run over target at size and returns target. It never
// blocks and never fails: invalid requests are logged and dropped on the
// consumer timeline.
func (e *Engine) Submit(target ImageID, k kernel.Kernel, size Size) ImageID {
	return e.SubmitDescriptor(target, kernel.Describe(k), size)
}

// SubmitDescriptor is Submit for an already type-erased kernel.
func (e *Engine) SubmitDescriptor(target ImageID, d kernel.Descriptor, size Size) ImageID {
	e.requests.Push(Request{Target: target, Kernel: d, Size: size})
	return target
}

// SubmitRequests queues requests in order. Requests with Readback set also
// queue a readback of their target.
func (e *Engine) SubmitRequests(reqs ...Request) error {
	if e.closed.Load() {
		return ErrClosed
	}
	for _, r := range reqs {
		if r.Readback {
			e.readbacks.queue(r.Target)
		}
	}
	e.requests.Push(reqs...)
	return nil
}

// QueueReadback requests a one-shot copy of the next generation that
// completes for img. Calling it again before the result arrives has no
// further effect.
func (e *Engine) QueueReadback(img ImageID) {
	e.readbacks.queue(img)
}

// TryReceiveReadback returns the bytes of a delivered readback without
// blocking. ok is false while nothing has arrived. A readback that failed
// on the GPU side is returned with ok set and a non-nil error.
func (e *Engine) TryReceiveReadback(img ImageID) (data []byte, ok bool, err error) {
	res, ok, err := e.readbacks.tryReceive(img)
	if !ok {
		return nil, false, err
	}
	return res.Data, true, res.Err
}

// CancelReadback forgets the readback channel of img. A result that
// arrives afterwards is discarded.
func (e *Engine) CancelReadback(img ImageID) {
	e.readbacks.cancel(img)
}

// Tick runs one consumer tick: it drains the request queue and readback
// registrations, then binds, dispatches, submits and completes readbacks.
//
// Tick blocks only while waiting for a submission that carries readback
// copies, bounded by ctx and WithReadbackTimeout. It returns a
// *CompileError once any kernel pipeline failed to compile.
func (e *Engine) Tick(ctx context.Context) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	if e.closed.Load() {
		return ErrClosed
	}

	queued := e.requests.Drain()
	batch := gpu.Batch{
		Requests:  make([]gpu.Request, len(queued)),
		Readbacks: e.readbacks.drain(),
	}
	for i, r := range queued {
		batch.Requests[i] = gpu.Request{Target: r.Target, Kernel: r.Kernel, Size: r.Size}
	}
	e.mu.Lock()
	batch.Retired, e.retired = e.retired, nil
	e.mu.Unlock()

	return e.consumer.Tick(ctx, batch)
}

// WaitPipelines blocks until every registered pipeline finished compiling
// or ctx is done. It returns a *CompileError if any failed.
func (e *Engine) WaitPipelines(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	done := make(chan error, 1)
	go func() {
		done <- e.consumer.Catalog().Wait()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PipelineState returns the compile state of the tag's pipeline for dim.
func (e *Engine) PipelineState(tag string, dim Dimension) gpucore.PipelineState {
	return e.consumer.Catalog().State(gpucore.PipelineKey{Tag: tag, Dim: dim})
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.tickMu.Lock()
	s := e.consumer.Stats()
	e.tickMu.Unlock()
	return Stats{Stats: s, Queued: e.requests.Len(), Images: e.images.Len()}
}

// Close waits for the device to go idle and releases every GPU object the
// engine created. Queued requests are discarded. Close does not destroy
// the device or queue.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	e.requests.Drain()
	err := e.consumer.Close()
	e.mu.Lock()
	retired := e.retired
	e.retired = nil
	e.mu.Unlock()
	for _, img := range retired {
		e.images.Release(img)
	}
	Logger().Info("noise: engine closed")
	return err
}
