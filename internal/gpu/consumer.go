package gpu

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/noise/gpucore"
)

// Config configures a Consumer.
type Config struct {
	Catalog  CatalogConfig
	Readback ReadbackConfig
}

// Batch is what one synchronization point hands to the consumer timeline.
type Batch struct {
	Requests  []Request
	Readbacks []ReadbackRequest

	// Retired are images removed from the store whose GPU objects must be
	// released once no pending or in-flight work uses them.
	Retired []*Image
}

// Stats is a snapshot of consumer counters.
type Stats struct {
	Ticks            uint64
	Bound            uint64
	Dropped          uint64
	Appended         uint64
	Dispatched       uint64
	Pending          int
	Flagged          uint64
	Submissions      uint64
	InFlight         int
	CacheHits        uint64
	CacheMisses      uint64
	Compiles         uint64
	ReadbacksSent    uint64
	ReadbacksFailed  uint64
	ReadbacksDropped uint64
}

// Consumer runs the GPU-consumer timeline. Each Tick binds the batch,
// fills and drains the scheduler, submits and completes readbacks, in that
// order, on the calling goroutine.
type Consumer struct {
	device hal.Device
	queue  hal.Queue

	images    *Images
	catalog   *Catalog
	binder    *Binder
	scheduler *Scheduler
	submitter *Submitter
	readbacks *Readbacks

	retired []*Image
	ticks   uint64
	closed  bool
}

// NewConsumer wires the consumer components around one device and queue.
func NewConsumer(device hal.Device, queue hal.Queue, images *Images, config Config) (*Consumer, error) {
	submitter, err := NewSubmitter(device, queue)
	if err != nil {
		return nil, err
	}
	catalog := NewCatalog(device, config.Catalog)
	return &Consumer{
		device:    device,
		queue:     queue,
		images:    images,
		catalog:   catalog,
		binder:    NewBinder(device, queue, images, catalog),
		scheduler: NewScheduler(catalog),
		submitter: submitter,
		readbacks: NewReadbacks(device, queue, images, config.Readback),
	}, nil
}

// Catalog returns the pipeline catalog.
func (c *Consumer) Catalog() *Catalog {
	return c.catalog
}

// Scheduler returns the dispatch scheduler.
func (c *Consumer) Scheduler() *Scheduler {
	return c.scheduler
}

// Tick runs one consumer tick.
//
// A pipeline compile failure is returned as a *CompileError on every tick
// after it happened; the batch is not processed. Invalid requests are
// logged and dropped without an error.
func (c *Consumer) Tick(ctx context.Context, batch Batch) error {
	if c.closed {
		return errors.New("noise: consumer closed")
	}
	c.ticks++
	c.submitter.Collect()

	if err := c.catalog.Poll(); err != nil {
		c.retire(batch.Retired)
		return err
	}

	c.readbacks.Register(batch.Readbacks)
	c.scheduler.Fill(c.binder.Bind(batch.Requests))
	c.scheduler.Update()

	encoder := c.submitter.Encoder()
	drained, err := c.scheduler.Run(encoder)
	if err != nil {
		c.retire(batch.Retired)
		return err
	}
	if len(drained) > 0 {
		c.submitter.MarkDispatched()
		c.submitter.Retain(drained...)
		targets := make([]gpucore.ImageID, len(drained))
		for i, set := range drained {
			targets[i] = set.Target
		}
		c.readbacks.EncodeCopies(encoder, targets)
	}
	c.retire(batch.Retired)

	index, submitted, err := c.submitter.Submit()
	if err != nil {
		return err
	}
	if submitted {
		c.readbacks.Submitted(index)
	}
	if err := c.readbacks.Complete(ctx); err != nil {
		slogger().Error("noise: readback wait", "err", err)
		return err
	}

	state, parity := c.scheduler.State()
	slogger().Debug("noise: tick",
		"tick", c.ticks,
		"state", state.String(),
		"parity", parity,
		"dispatched", len(drained),
		"pending", c.scheduler.Pending(),
		"submitted", submitted,
	)
	return nil
}

// retire schedules the release of removed images and ends their pending
// readbacks. An image still used by a pending set waits for a later tick.
func (c *Consumer) retire(images []*Image) {
	if len(images) > 0 {
		ids := make([]gpucore.ImageID, len(images))
		for i, img := range images {
			ids[i] = img.ID
		}
		c.readbacks.Forget(ids)
	}
	c.retired = append(c.retired, images...)
	n := 0
	for _, img := range c.retired {
		if c.scheduler.Holds(img.ID) {
			c.retired[n] = img
			n++
			continue
		}
		c.submitter.Defer(func() { c.images.Release(img) })
	}
	clear(c.retired[n:])
	c.retired = c.retired[:n]
}

// Stats returns a snapshot of the consumer counters.
func (c *Consumer) Stats() Stats {
	bound, dropped := c.binder.Stats()
	appended, dispatched := c.scheduler.Counts()
	flagged, submissions := c.submitter.Stats()
	hits, misses, compiles := c.catalog.Stats()
	sent, failed, rdropped := c.readbacks.Stats()
	return Stats{
		Ticks:            c.ticks,
		Bound:            bound,
		Dropped:          dropped,
		Appended:         appended,
		Dispatched:       dispatched,
		Pending:          c.scheduler.Pending(),
		Flagged:          flagged,
		Submissions:      submissions,
		InFlight:         c.submitter.InFlight(),
		CacheHits:        hits,
		CacheMisses:      misses,
		Compiles:         compiles,
		ReadbacksSent:    sent,
		ReadbacksFailed:  failed,
		ReadbacksDropped: rdropped,
	}
}

// Close waits for the device, then releases every GPU object the consumer
// and the image store own.
func (c *Consumer) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	err := c.submitter.Close()
	for _, set := range c.scheduler.Reset() {
		set.Release(c.device)
	}
	for _, img := range c.retired {
		c.images.Release(img)
	}
	c.retired = nil
	c.readbacks.Close()
	c.catalog.Close()
	c.images.Close()
	if err != nil {
		return fmt.Errorf("noise: close: %w", err)
	}
	return nil
}
