package gpu

import (
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/noise/gpucore"
	"github.com/gogpu/noise/internal/wgsl"
	"github.com/gogpu/noise/kernel"
)

// CatalogConfig configures a Catalog.
type CatalogConfig struct {
	// Library resolves #import directives in kernel sources.
	Library fs.FS

	// ShaderFormat selects SPIR-V (via naga) or pass-through WGSL modules.
	ShaderFormat wgsl.Format

	// StorageFormat is the texel format every kernel binds its images as.
	// If zero, defaults to RGBA8Unorm.
	StorageFormat gputypes.TextureFormat

	// Workers bounds concurrent pipeline compilations. If 0, defaults to 2.
	Workers int
}

// PipelineDescriptor is everything needed to compile one pipeline. It is a
// pure function of the key and the registered type, so two descriptors for
// equal keys compare equal with reflect.DeepEqual.
type PipelineDescriptor struct {
	Key          gpucore.PipelineKey
	Label        string
	Source       string
	EntryPoint   string
	Defines      []string
	ImageEntries []gputypes.BindGroupLayoutEntry
	ParamEntries []gputypes.BindGroupLayoutEntry
}

// CompiledPipeline is a ready compute pipeline and the layouts it binds.
type CompiledPipeline struct {
	Key         gpucore.PipelineKey
	Type        kernel.Type
	ImageLayout hal.BindGroupLayout
	ParamLayout hal.BindGroupLayout
	Layout      hal.PipelineLayout
	Module      hal.ShaderModule
	Pipeline    hal.ComputePipeline
}

type layoutKey struct {
	op  gpucore.Op
	dim gpucore.Dimension
}

type catalogEntry struct {
	state       gpucore.PipelineState
	typ         kernel.Type
	desc        PipelineDescriptor
	imageLayout hal.BindGroupLayout
	paramLayout hal.BindGroupLayout
	compiled    *CompiledPipeline
	err         error
}

type compileResult struct {
	key      gpucore.PipelineKey
	compiled *CompiledPipeline
	err      error
}

// Catalog caches one compiled pipeline per PipelineKey.
//
// Kernel types are registered at setup time. Registration creates the bind
// group layouts synchronously and compiles the pipelines in the background;
// Poll moves finished compilations into the cache on the consumer timeline.
// A key is compiled at most once and never evicted.
//
// Thread Safety: lookups are safe for concurrent use. Register, Poll and
// Close are called from one goroutine.
type Catalog struct {
	device hal.Device
	config CatalogConfig
	types  *kernel.Registry

	mu           sync.RWMutex
	entries      map[gpucore.PipelineKey]*catalogEntry
	keys         []gpucore.PipelineKey
	imageLayouts map[layoutKey]hal.BindGroupLayout
	failure      error

	group      errgroup.Group
	queued     sync.WaitGroup
	finishedMu sync.Mutex
	finished   []compileResult

	hits     atomic.Uint64
	misses   atomic.Uint64
	compiles atomic.Uint64
}

// NewCatalog returns an empty catalog compiling on device.
func NewCatalog(device hal.Device, config CatalogConfig) *Catalog {
	if config.StorageFormat == gputypes.TextureFormatUndefined {
		config.StorageFormat = gputypes.TextureFormatRGBA8Unorm
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	types, _ := kernel.NewRegistry()
	c := &Catalog{
		device:       device,
		config:       config,
		types:        types,
		entries:      make(map[gpucore.PipelineKey]*catalogEntry),
		imageLayouts: make(map[layoutKey]hal.BindGroupLayout),
	}
	c.group.SetLimit(config.Workers)
	return c
}

// StorageFormat returns the format kernels bind images as.
func (c *Catalog) StorageFormat() gputypes.TextureFormat {
	return c.config.StorageFormat
}

// Type returns the kernel type registered under tag.
func (c *Catalog) Type(tag string) (kernel.Type, bool) {
	return c.types.Lookup(tag)
}

// Register adds a kernel type and starts compiling one pipeline per
// supported dimension. It never waits for a compile worker. Registering a
// tag that is already known is a no-op.
func (c *Catalog) Register(t kernel.Type) error {
	if _, ok := c.types.Lookup(t.Tag); ok {
		return nil
	}
	if err := c.types.Register(t); err != nil {
		return err
	}

	for _, key := range t.Keys() {
		desc, err := c.Specialize(key)
		if err != nil {
			return err
		}
		imageLayout, err := c.imageLayout(t.Op, key.Dim, desc.ImageEntries)
		if err != nil {
			return err
		}
		paramLayout, err := c.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   key.Label() + " params",
			Entries: desc.ParamEntries,
		})
		if err != nil {
			return fmt.Errorf("noise: create param layout %s: %w", key, err)
		}

		e := &catalogEntry{
			state:       gpucore.PipelineCompiling,
			typ:         t,
			desc:        desc,
			imageLayout: imageLayout,
			paramLayout: paramLayout,
		}
		c.mu.Lock()
		c.entries[key] = e
		c.keys = append(c.keys, key)
		c.mu.Unlock()

		slogger().Debug("noise: pipeline compiling", "key", key.String(), "defines", desc.Defines)
		c.enqueue(key, e)
	}
	return nil
}

// enqueue hands one compilation to the worker group without blocking the
// caller. group.Go blocks while every worker is busy, so it is called from
// its own goroutine.
func (c *Catalog) enqueue(key gpucore.PipelineKey, e *catalogEntry) {
	c.queued.Add(1)
	go func() {
		defer c.queued.Done()
		c.group.Go(func() error {
			compiled, err := c.compile(e)
			c.finishedMu.Lock()
			c.finished = append(c.finished, compileResult{key: key, compiled: compiled, err: err})
			c.finishedMu.Unlock()
			return err
		})
	}()
}

// Specialize returns the pipeline descriptor of a registered key.
func (c *Catalog) Specialize(key gpucore.PipelineKey) (PipelineDescriptor, error) {
	t, ok := c.types.Lookup(key.Tag)
	if !ok {
		return PipelineDescriptor{}, fmt.Errorf("%w: %s", ErrUnknownKernel, key.Tag)
	}
	if !t.Supports(key.Dim) {
		return PipelineDescriptor{}, fmt.Errorf("%w: %s", ErrUnsupportedDimension, key)
	}

	defines := make([]string, 0, len(t.Defines)+2)
	defines = append(defines, t.Defines...)
	defines = append(defines, t.Op.Define(), key.Dim.Define())

	source, err := wgsl.Expand(c.config.Library, t.Source, key.String(), defines...)
	if err != nil {
		return PipelineDescriptor{}, fmt.Errorf("noise: specialize %s: %w", key, err)
	}

	return PipelineDescriptor{
		Key:          key,
		Label:        key.Label(),
		Source:       source,
		EntryPoint:   t.Entry(),
		Defines:      defines,
		ImageEntries: imageLayoutEntries(t.Op, key.Dim, c.config.StorageFormat),
		ParamEntries: paramLayoutEntries(t.Params),
	}, nil
}

func imageLayoutEntries(op gpucore.Op, dim gpucore.Dimension, format gputypes.TextureFormat) []gputypes.BindGroupLayoutEntry {
	entries := []gputypes.BindGroupLayoutEntry{
		{
			Binding:    0,
			Visibility: gputypes.ShaderStageCompute,
			StorageTexture: &gputypes.StorageTextureBindingLayout{
				Access:        gputypes.StorageTextureAccessReadWrite,
				Format:        format,
				ViewDimension: dim.ViewDimension(),
			},
		},
		{
			Binding:    1,
			Visibility: gputypes.ShaderStageCompute,
			Buffer: &gputypes.BufferBindingLayout{
				Type:           gputypes.BufferBindingTypeUniform,
				MinBindingSize: sizeUniformBytes,
			},
		},
	}
	if op == gpucore.OpCombiner {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    2,
			Visibility: gputypes.ShaderStageCompute,
			StorageTexture: &gputypes.StorageTextureBindingLayout{
				Access:        gputypes.StorageTextureAccessReadOnly,
				Format:        format,
				ViewDimension: dim.ViewDimension(),
			},
		})
	}
	return entries
}

func paramLayoutEntries(params []kernel.ParamBinding) []gputypes.BindGroupLayoutEntry {
	entries := make([]gputypes.BindGroupLayoutEntry, len(params))
	for i, p := range params {
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    uint32(i),
			Visibility: gputypes.ShaderStageCompute,
			Buffer: &gputypes.BufferBindingLayout{
				Type:           p.BindingType(),
				MinBindingSize: p.Size,
			},
		}
	}
	return entries
}

// imageLayout returns the shared image layout for an op and dimension.
func (c *Catalog) imageLayout(op gpucore.Op, dim gpucore.Dimension, entries []gputypes.BindGroupLayoutEntry) (hal.BindGroupLayout, error) {
	k := layoutKey{op: op, dim: dim}
	c.mu.RLock()
	layout, ok := c.imageLayouts[k]
	c.mu.RUnlock()
	if ok {
		return layout, nil
	}

	layout, err := c.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   "noise " + op.String() + " " + dim.String() + " image",
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("noise: create image layout: %w", err)
	}
	c.mu.Lock()
	c.imageLayouts[k] = layout
	c.mu.Unlock()
	return layout, nil
}

// compile builds the shader module and pipeline of one entry. It runs on a
// worker goroutine and only reads the entry's immutable fields.
func (c *Catalog) compile(e *catalogEntry) (*CompiledPipeline, error) {
	c.compiles.Add(1)
	key := e.desc.Key

	module, err := wgsl.CreateModule(c.device, e.desc.Label, c.config.ShaderFormat, e.desc.Source)
	if err != nil {
		return nil, &CompileError{Key: key, Err: err}
	}
	layout, err := c.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            e.desc.Label,
		BindGroupLayouts: []hal.BindGroupLayout{e.imageLayout, e.paramLayout},
	})
	if err != nil {
		c.device.DestroyShaderModule(module)
		return nil, &CompileError{Key: key, Err: err}
	}
	pipeline, err := c.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  e.desc.Label,
		Layout: layout,
		Compute: hal.ComputeState{
			Module:     module,
			EntryPoint: e.desc.EntryPoint,
		},
	})
	if err != nil {
		c.device.DestroyPipelineLayout(layout)
		c.device.DestroyShaderModule(module)
		return nil, &CompileError{Key: key, Err: err}
	}

	return &CompiledPipeline{
		Key:         key,
		Type:        e.typ,
		ImageLayout: e.imageLayout,
		ParamLayout: e.paramLayout,
		Layout:      layout,
		Module:      module,
		Pipeline:    pipeline,
	}, nil
}

// Poll moves finished compilations into the cache. It never blocks and
// returns a *CompileError once any key has failed.
func (c *Catalog) Poll() error {
	c.finishedMu.Lock()
	finished := c.finished
	c.finished = nil
	c.finishedMu.Unlock()

	if len(finished) > 0 {
		c.mu.Lock()
		for _, r := range finished {
			e := c.entries[r.key]
			if r.err != nil {
				e.state = gpucore.PipelineFailed
				e.err = r.err
				if c.failure == nil {
					c.failure = r.err
				}
				slogger().Error("noise: pipeline compile failed", "key", r.key.String(), "err", r.err)
				continue
			}
			e.state = gpucore.PipelineReady
			e.compiled = r.compiled
			slogger().Debug("noise: pipeline ready", "key", r.key.String())
		}
		c.mu.Unlock()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failure
}

// Wait blocks until every pending compilation has finished, then polls.
func (c *Catalog) Wait() error {
	c.queued.Wait()
	_ = c.group.Wait()
	return c.Poll()
}

// State returns the lifecycle state of key.
func (c *Catalog) State(key gpucore.PipelineKey) gpucore.PipelineState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[key]; ok {
		return e.state
	}
	return gpucore.PipelineUnregistered
}

// AllReady reports whether every registered key is Ready.
func (c *Catalog) AllReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, k := range c.keys {
		if c.entries[k].state != gpucore.PipelineReady {
			return false
		}
	}
	return true
}

// Keys returns the registered keys in registration order.
func (c *Catalog) Keys() []gpucore.PipelineKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]gpucore.PipelineKey(nil), c.keys...)
}

// Lookup returns the compiled pipeline of a Ready key.
func (c *Catalog) Lookup(key gpucore.PipelineKey) (*CompiledPipeline, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	var compiled *CompiledPipeline
	if ok && e.state == gpucore.PipelineReady {
		compiled = e.compiled
	}
	c.mu.RUnlock()

	if compiled == nil {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return compiled, true
}

// Layouts returns the bind group layouts of a registered key. Layouts exist
// from registration on, so requests can be bound while the pipeline is
// still compiling.
func (c *Catalog) Layouts(key gpucore.PipelineKey) (image, params hal.BindGroupLayout, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotRegistered, key)
	}
	return e.imageLayout, e.paramLayout, nil
}

// Stats returns lookup hits and misses and the number of compilations run.
func (c *Catalog) Stats() (hits, misses, compiles uint64) {
	return c.hits.Load(), c.misses.Load(), c.compiles.Load()
}

// Close waits for pending compilations and destroys every GPU object the
// catalog created.
func (c *Catalog) Close() {
	_ = c.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.keys {
		e := c.entries[k]
		if p := e.compiled; p != nil {
			c.device.DestroyComputePipeline(p.Pipeline)
			c.device.DestroyPipelineLayout(p.Layout)
			c.device.DestroyShaderModule(p.Module)
		}
		c.device.DestroyBindGroupLayout(e.paramLayout)
	}
	for _, l := range c.imageLayouts {
		c.device.DestroyBindGroupLayout(l)
	}
	c.entries = make(map[gpucore.PipelineKey]*catalogEntry)
	c.keys = nil
	c.imageLayouts = make(map[layoutKey]hal.BindGroupLayout)
}
