package noise

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/noise/gpucore"
	"github.com/gogpu/noise/internal/gputest"
	"github.com/gogpu/noise/kernel"
)

// testEngine is an engine on a recording device.
type testEngine struct {
	*Engine
	device *gputest.Device
	queue  *gputest.Queue

	gate     chan struct{}
	openGate sync.Once
}

// newTestEngine creates an engine with WGSL shaders. A non-nil gate holds
// every pipeline in Compiling until release is called.
func newTestEngine(t *testing.T, gate chan struct{}, opts ...Option) *testEngine {
	t.Helper()
	device, queue := gputest.New()
	device.Gate = gate
	opts = append([]Option{WithShaderFormat(ShaderWGSL)}, opts...)
	e, err := NewEngine(device, queue, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	te := &testEngine{Engine: e, device: device, queue: queue, gate: gate}
	t.Cleanup(func() {
		te.release()
		if err := e.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return te
}

func (e *testEngine) release() {
	if e.gate != nil {
		e.openGate.Do(func() { close(e.gate) })
	}
}

func (e *testEngine) ready(t *testing.T) {
	t.Helper()
	e.release()
	if err := e.WaitPipelines(context.Background()); err != nil {
		t.Fatalf("WaitPipelines: %v", err)
	}
}

func (e *testEngine) image(t *testing.T, size Size) ImageID {
	t.Helper()
	id, err := e.CreateImage(size, DefaultFormat)
	if err != nil {
		t.Fatalf("CreateImage(%s): %v", size, err)
	}
	return id
}

func (e *testEngine) tick(t *testing.T) {
	t.Helper()
	if err := e.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
}

// recordLogs routes package logs into a recorder for the test.
func recordLogs(t *testing.T) *gputest.LogRecorder {
	t.Helper()
	logger, rec := gputest.Logger()
	SetLogger(logger)
	t.Cleanup(func() { SetLogger(nil) })
	return rec
}

func TestEngineSingleDispatch(t *testing.T) {
	e := newTestEngine(t, nil)
	e.ready(t)
	img := e.image(t, Size2D(128, 128))

	if got := e.Submit(img, kernel.NewPerlin(7), Size2D(128, 128)); got != img {
		t.Fatalf("Submit returned %s, want %s", got, img)
	}
	e.tick(t)

	want := [][3]uint32{{16, 16, 1}}
	if got := e.device.Dispatches(); !reflect.DeepEqual(got, want) {
		t.Fatalf("dispatches = %v, want %v", got, want)
	}
	stats := e.Stats()
	if stats.Flagged != 1 || stats.Submissions != 1 {
		t.Errorf("flagged, submissions = %d, %d; want 1, 1", stats.Flagged, stats.Submissions)
	}
	if stats.Queued != 0 || stats.Pending != 0 {
		t.Errorf("queued %d, pending %d after the tick", stats.Queued, stats.Pending)
	}
}

func TestEngineDropsUnsupportedDimension(t *testing.T) {
	rec := recordLogs(t)
	flat := kernel.PerlinType()
	flat.Tag = "perlin2d"
	flat.Dimensions = []gpucore.Dimension{gpucore.Dimension2D}

	e := newTestEngine(t, nil, WithoutBuiltins(), WithKernels(flat))
	e.ready(t)
	size := Size3D(32, 32, 32)
	img := e.image(t, size)

	d := kernel.Describe(kernel.NewPerlin(1))
	d.Tag = flat.Tag
	e.SubmitDescriptor(img, d, size)
	e.tick(t)
	e.tick(t)

	if got := e.device.Dispatches(); len(got) != 0 {
		t.Errorf("dispatches = %v, want none", got)
	}
	if n := rec.Count(slog.LevelWarn, "noise: invalid request dropped"); n != 1 {
		t.Errorf("validation log entries = %d, want 1", n)
	}
	if e.Stats().Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", e.Stats().Dropped)
	}
}

func TestEngineReadback(t *testing.T) {
	e := newTestEngine(t, nil)
	e.ready(t)
	size := Size2D(300, 5)
	img := e.image(t, size)

	e.QueueReadback(img)
	e.Submit(img, kernel.NewPerlin(1), size)
	e.tick(t)
	e.tick(t)

	data, ok, err := e.TryReceiveReadback(img)
	if !ok || err != nil {
		t.Fatalf("TryReceiveReadback = %v, %v", ok, err)
	}
	if len(data) != 300*5*4 {
		t.Fatalf("len = %d, want %d", len(data), 300*5*4)
	}
	if _, ok, _ := e.TryReceiveReadback(img); ok {
		t.Error("second receive returned data")
	}

	e.Submit(img, kernel.NewPerlin(2), size)
	e.tick(t)
	if _, ok, _ := e.TryReceiveReadback(img); ok {
		t.Error("data delivered without a new QueueReadback")
	}
}

func TestEngineReadbackFlag(t *testing.T) {
	e := newTestEngine(t, nil)
	e.ready(t)
	size := Size3D(8, 8, 2)
	img := e.image(t, size)

	err := e.SubmitRequests(Request{
		Target:   img,
		Kernel:   kernel.Describe(kernel.NewWorley(3)),
		Size:     size,
		Readback: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	e.tick(t)

	data, ok, err := e.TryReceiveReadback(img)
	if !ok || err != nil || len(data) != 8*8*2*4 {
		t.Fatalf("readback = %d bytes, %v, %v", len(data), ok, err)
	}
}

func TestEngineReadbackMapFailure(t *testing.T) {
	withRecorder := recordLogs(t)
	e := newTestEngine(t, nil)
	e.ready(t)
	img := e.image(t, Size2D(8, 8))

	e.QueueReadback(img)
	e.Submit(img, kernel.NewPerlin(1), Size2D(8, 8))
	e.device.FailMaps(1)
	e.tick(t)

	data, ok, err := e.TryReceiveReadback(img)
	if !ok || !errors.Is(err, ErrReadbackMap) || data != nil {
		t.Fatalf("TryReceiveReadback = %v, %v, %v", data, ok, err)
	}
	if n := withRecorder.Level(slog.LevelError); n != 1 {
		t.Errorf("error log entries = %d, want 1", n)
	}
}

func TestEngineNoReadbackQueued(t *testing.T) {
	e := newTestEngine(t, nil)
	if _, ok, err := e.TryReceiveReadback(99); ok || !errors.Is(err, ErrNoReadback) {
		t.Errorf("TryReceiveReadback = %v, %v", ok, err)
	}

	img := e.image(t, Size2D(8, 8))
	e.QueueReadback(img)
	e.CancelReadback(img)
	if _, _, err := e.TryReceiveReadback(img); !errors.Is(err, ErrNoReadback) {
		t.Errorf("after cancel err = %v", err)
	}
}

func TestEngineQueuesUntilPipelineReady(t *testing.T) {
	gate := make(chan struct{})
	e := newTestEngine(t, gate, WithoutBuiltins(), WithKernels(kernel.PerlinType()))
	a := e.image(t, Size2D(16, 16))
	b := e.image(t, Size2D(64, 64))

	e.Submit(a, kernel.NewPerlin(1), Size2D(16, 16))
	e.Submit(b, kernel.NewPerlin(2), Size2D(64, 64))
	e.tick(t)
	e.tick(t)

	if got := e.device.Dispatches(); len(got) != 0 {
		t.Fatalf("dispatched %v while compiling", got)
	}
	if s := e.PipelineState(kernel.PerlinTag, Dimension2D); s != gpucore.PipelineCompiling {
		t.Fatalf("state = %s, want Compiling", s)
	}
	if p := e.Stats().Pending; p != 2 {
		t.Fatalf("Pending = %d, want 2", p)
	}

	e.ready(t)
	e.tick(t)
	want := [][3]uint32{{2, 2, 1}, {8, 8, 1}}
	if got := e.device.Dispatches(); !reflect.DeepEqual(got, want) {
		t.Errorf("dispatches = %v, want %v", got, want)
	}
	if e.queue.Submits() != 1 {
		t.Errorf("submits = %d, want 1", e.queue.Submits())
	}
}

func TestEngineLateKernelWaits(t *testing.T) {
	e := newTestEngine(t, nil, WithoutBuiltins(), WithKernels(kernel.PerlinType()))
	e.ready(t)
	e.tick(t)

	gate := make(chan struct{})
	e.device.Gate = gate
	e.gate = gate
	late := kernel.PerlinType()
	late.Tag = "perlin-late"
	if err := e.Register(late); err != nil {
		t.Fatalf("Register: %v", err)
	}

	a := e.image(t, Size2D(16, 16))
	b := e.image(t, Size2D(16, 16))
	e.Submit(a, kernel.NewPerlin(1), Size2D(16, 16))
	e.SubmitDescriptor(b, kernel.Descriptor{Tag: late.Tag, Params: kernel.NewPerlin(2).AppendParams(nil)}, Size2D(16, 16))
	for i := 0; i < 3; i++ {
		e.tick(t)
	}
	if got := e.device.Dispatches(); len(got) != 0 {
		t.Fatalf("dispatched %v while %s was compiling", got, late.Tag)
	}
	if p := e.Stats().Pending; p != 2 {
		t.Fatalf("Pending = %d, want 2", p)
	}

	e.ready(t)
	e.tick(t)
	want := [][3]uint32{{2, 2, 1}, {2, 2, 1}}
	if got := e.device.Dispatches(); !reflect.DeepEqual(got, want) {
		t.Errorf("dispatches = %v, want %v", got, want)
	}
}

func TestNewEngineReturnsWhileCompiling(t *testing.T) {
	gate := make(chan struct{})
	device, queue := gputest.New()
	device.Gate = gate

	type result struct {
		e   *Engine
		err error
	}
	done := make(chan result, 1)
	go func() {
		e, err := NewEngine(device, queue, WithShaderFormat(ShaderWGSL))
		done <- result{e, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-time.After(5 * time.Second):
		close(gate)
		t.Fatal("NewEngine blocked on pipeline compilation")
	}
	if r.err != nil {
		close(gate)
		t.Fatalf("NewEngine: %v", r.err)
	}
	t.Cleanup(func() {
		close(gate)
		if err := r.e.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	if s := r.e.PipelineState(kernel.PerlinTag, Dimension2D); s != gpucore.PipelineCompiling {
		t.Errorf("state = %s, want Compiling", s)
	}
}

func TestEngineWaitPipelinesContext(t *testing.T) {
	gate := make(chan struct{})
	e := newTestEngine(t, gate, WithoutBuiltins(), WithKernels(kernel.PerlinType()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.WaitPipelines(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("WaitPipelines = %v, want context.Canceled", err)
	}
}

func TestEngineCompileFailure(t *testing.T) {
	recordLogs(t)
	device, queue := gputest.New()
	device.FailPipeline("noise perlin/3D")
	e, err := NewEngine(device, queue,
		WithShaderFormat(ShaderWGSL),
		WithoutBuiltins(),
		WithKernels(kernel.PerlinType()),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	var cerr *CompileError
	if err := e.WaitPipelines(context.Background()); !errors.As(err, &cerr) {
		t.Fatalf("WaitPipelines = %v, want *CompileError", err)
	}
	if cerr.Key.Dim != Dimension3D {
		t.Errorf("failed key = %s", cerr.Key)
	}
	if err := e.Tick(context.Background()); !errors.As(err, &cerr) {
		t.Errorf("Tick = %v, want *CompileError", err)
	}
}

func TestEngineSequence(t *testing.T) {
	e := newTestEngine(t, nil)
	e.ready(t)
	size := Size2D(32, 32)
	img := e.image(t, size)
	other := e.image(t, size)

	got, err := e.Sequence(img).
		Generate(kernel.NewFbm(kernel.NewPerlin(1))).
		Modify(kernel.Invert{}).
		Combine(kernel.Blend{Other: other, Factor: 0.25}).
		Submit(true)
	if err != nil || got != img {
		t.Fatalf("Submit = %s, %v", got, err)
	}
	e.tick(t)

	var labels []string
	for _, p := range e.device.Passes() {
		labels = append(labels, p.Label)
	}
	want := []string{"noise fbm<perlin>/2D", "noise invert/2D", "noise blend/2D"}
	if !reflect.DeepEqual(labels, want) {
		t.Errorf("passes = %v, want %v", labels, want)
	}
	if len(e.device.Copies()) != 1 {
		t.Errorf("copies = %d, want one after the last stage", len(e.device.Copies()))
	}
	if _, ok, err := e.TryReceiveReadback(img); !ok || err != nil {
		t.Errorf("sequence readback = %v, %v", ok, err)
	}
}

func TestEngineSequenceErrors(t *testing.T) {
	e := newTestEngine(t, nil)
	img := e.image(t, Size2D(8, 8))

	tests := []struct {
		name string
		seq  *Sequence
		want error
	}{
		{"missing image", e.Sequence(12345).Generate(kernel.NewPerlin(1)), ErrImageNotFound},
		{"generator as modifier", e.Sequence(img).Modify(kernel.NewPerlin(1)), ErrSequenceOrder},
		{"modifier as generator", e.Sequence(img).Generate(kernel.Invert{}), ErrSequenceOrder},
		{"combiner as modifier", e.Sequence(img).Modify(kernel.Blend{Other: img}), ErrSequenceOrder},
		{"first error wins", e.Sequence(img).Combine(kernel.Invert{}).Generate(kernel.NewPerlin(1)), ErrSequenceOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.seq.Submit(false); !errors.Is(err, tt.want) {
				t.Errorf("Submit = %v, want %v", err, tt.want)
			}
		})
	}
	if n := e.Stats().Queued; n != 0 {
		t.Errorf("failed sequences queued %d requests", n)
	}
}

func TestEngineDestroyImage(t *testing.T) {
	rec := recordLogs(t)
	e := newTestEngine(t, nil)
	e.ready(t)
	img := e.image(t, Size2D(16, 16))
	if e.Stats().Images != 1 {
		t.Fatalf("Images = %d", e.Stats().Images)
	}

	e.Submit(img, kernel.NewPerlin(1), Size2D(16, 16))
	if err := e.DestroyImage(img); err != nil {
		t.Fatal(err)
	}
	if err := e.DestroyImage(img); !errors.Is(err, ErrImageNotFound) {
		t.Errorf("second DestroyImage = %v", err)
	}
	if _, ok := e.ImageSize(img); ok {
		t.Error("ImageSize found a destroyed image")
	}
	e.tick(t)

	if len(e.device.Dispatches()) != 0 {
		t.Error("dispatched against a destroyed image")
	}
	if n := rec.Count(slog.LevelWarn, "noise: request dropped"); n != 1 {
		t.Errorf("dropped log entries = %d, want 1", n)
	}
	if e.Stats().Images != 0 {
		t.Errorf("Images = %d after destroy", e.Stats().Images)
	}
}

func TestEngineRejectsFormat(t *testing.T) {
	e := newTestEngine(t, nil)
	if _, err := e.CreateImage(Size2D(4, 4), gputypes.TextureFormatDepth24Plus); err == nil {
		t.Error("CreateImage accepted a depth format")
	}
}

func TestEngineClosed(t *testing.T) {
	device, queue := gputest.New()
	e, err := NewEngine(device, queue, WithShaderFormat(ShaderWGSL))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if err := e.Tick(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Tick = %v, want ErrClosed", err)
	}
	if err := e.SubmitRequests(Request{}); !errors.Is(err, ErrClosed) {
		t.Errorf("SubmitRequests = %v, want ErrClosed", err)
	}
	if _, err := e.CreateImage(Size2D(4, 4), DefaultFormat); !errors.Is(err, ErrClosed) {
		t.Errorf("CreateImage = %v, want ErrClosed", err)
	}
	if err := e.Register(kernel.PerlinType()); !errors.Is(err, ErrClosed) {
		t.Errorf("Register = %v, want ErrClosed", err)
	}
}

type halProvider struct {
	device *gputest.Device
	queue  *gputest.Queue
}

func (p halProvider) HalDevice() any { return p.device }
func (p halProvider) HalQueue() any  { return p.queue }

func TestNewEngineFromProvider(t *testing.T) {
	device, queue := gputest.New()
	e, err := NewEngineFromProvider(halProvider{device, queue}, WithShaderFormat(ShaderWGSL), WithoutBuiltins())
	if err != nil {
		t.Fatalf("NewEngineFromProvider: %v", err)
	}
	defer e.Close()

	if _, err := NewEngineFromProvider(struct{}{}); err == nil {
		t.Error("accepted a provider without hal objects")
	}
}

func TestEngineWithLogger(t *testing.T) {
	logger, rec := gputest.Logger()
	t.Cleanup(func() { SetLogger(nil) })
	newTestEngine(t, nil, WithLogger(logger))
	if Logger() != logger {
		t.Fatal("WithLogger did not install the logger")
	}
	if rec.Count(slog.LevelInfo, "noise: engine created") != 1 {
		t.Error("engine creation not logged")
	}
}
