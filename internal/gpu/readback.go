package gpu

import (
	"context"
	"fmt"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/noise/gpucore"
)

// DefaultReadbackTimeout bounds the wait for one submitted copy.
const DefaultReadbackTimeout = 5 * time.Second

// readbackPoll is the interval between completion polls while waiting.
const readbackPoll = 200 * time.Microsecond

// ReadbackRequest registers an image for one-shot readback. Results are
// sent on Sender, which must have capacity for at least one value.
type ReadbackRequest struct {
	Image  gpucore.ImageID
	Sender chan gpucore.Readback
}

type readbackStage uint8

const (
	// stageQueued waits for the next dispatch that targets the image.
	stageQueued readbackStage = iota

	// stageCopied has a copy recorded in the open encoder.
	stageCopied

	// stageSubmitted has its copy in a submission.
	stageSubmitted
)

type readbackEntry struct {
	image   gpucore.ImageID
	sender  chan gpucore.Readback
	stage   readbackStage
	layout  CopyLayout
	staging hal.Buffer
	index   uint64
}

// ReadbackConfig configures a Readbacks.
type ReadbackConfig struct {
	// RowAlignment is the staging row stride alignment. If 0, defaults to
	// DefaultRowAlignment.
	RowAlignment uint32

	// Timeout bounds the wait for a submitted copy. If 0, defaults to
	// DefaultReadbackTimeout.
	Timeout time.Duration
}

// Readbacks is the consumer side of the readback channel.
//
// A registered image is copied into a staging buffer right after the next
// dispatch that targets it. After the submission carrying the copy, Complete
// waits for the queue, maps the staging buffer, strips the row padding and
// sends the tight bytes. The entry is then removed: every registration
// yields at most one result.
//
// Complete is the one blocking step of a tick. Everything else here is
// non-blocking.
type Readbacks struct {
	device hal.Device
	queue  hal.Queue
	images ImageStore
	config ReadbackConfig

	entries map[gpucore.ImageID]*readbackEntry
	order   []gpucore.ImageID
	free    map[uint64][]hal.Buffer

	sent    uint64
	failed  uint64
	dropped uint64
}

// NewReadbacks returns an empty readback consumer.
func NewReadbacks(device hal.Device, queue hal.Queue, images ImageStore, config ReadbackConfig) *Readbacks {
	if config.RowAlignment == 0 {
		config.RowAlignment = DefaultRowAlignment
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultReadbackTimeout
	}
	return &Readbacks{
		device:  device,
		queue:   queue,
		images:  images,
		config:  config,
		entries: make(map[gpucore.ImageID]*readbackEntry),
		free:    make(map[uint64][]hal.Buffer),
	}
}

// Register adds readback registrations. An image that is already registered
// keeps its entry; only the sender is replaced.
func (r *Readbacks) Register(reqs []ReadbackRequest) {
	for _, req := range reqs {
		if e, ok := r.entries[req.Image]; ok {
			e.sender = req.Sender
			continue
		}
		r.entries[req.Image] = &readbackEntry{image: req.Image, sender: req.Sender}
		r.order = append(r.order, req.Image)
	}
}

// Forget ends the registrations of destroyed images. An entry still waiting
// for its copy is failed with ErrImageNotFound; copies already recorded are
// delivered as usual.
func (r *Readbacks) Forget(images []gpucore.ImageID) {
	for _, id := range images {
		e, ok := r.entries[id]
		if !ok || e.stage != stageQueued {
			continue
		}
		r.fail(e, fmt.Errorf("%w: %s destroyed", ErrImageNotFound, id))
	}
	r.compact()
}

// Registered reports whether image has an outstanding registration.
func (r *Readbacks) Registered(image gpucore.ImageID) bool {
	_, ok := r.entries[image]
	return ok
}

// Len returns the number of outstanding registrations.
func (r *Readbacks) Len() int {
	return len(r.entries)
}

// EncodeCopies records a texture-to-buffer copy for every queued
// registration whose image was just dispatched and returns how many were
// recorded. Each image is copied once, after all its dispatches.
func (r *Readbacks) EncodeCopies(encoder hal.CommandEncoder, dispatched []gpucore.ImageID) int {
	if len(r.entries) == 0 || len(dispatched) == 0 {
		return 0
	}
	targets := make(map[gpucore.ImageID]struct{}, len(dispatched))
	for _, id := range dispatched {
		targets[id] = struct{}{}
	}

	n := 0
	for _, id := range r.order {
		e := r.entries[id]
		if e == nil || e.stage != stageQueued {
			continue
		}
		if _, ok := targets[id]; !ok {
			continue
		}
		img, ok := r.images.Image(id)
		if !ok {
			r.fail(e, fmt.Errorf("%w: %s", ErrImageNotFound, id))
			continue
		}
		pixel, ok := gpucore.PixelSize(img.Format)
		if !ok {
			r.fail(e, fmt.Errorf("%w: %s", ErrFormatMismatch, img.Format))
			continue
		}
		layout := NewCopyLayout(img.Size, pixel, r.config.RowAlignment)
		staging, err := r.acquire(layout.StagingSize())
		if err != nil {
			r.fail(e, err)
			continue
		}
		encoder.CopyTextureToBuffer(img.Texture, staging, []hal.BufferTextureCopy{layout.Region(img.Texture)})
		e.layout = layout
		e.staging = staging
		e.stage = stageCopied
		n++
	}
	r.compact()
	return n
}

// Submitted records the submission index carrying every copied entry.
func (r *Readbacks) Submitted(index uint64) {
	for _, e := range r.entries {
		if e.stage == stageCopied {
			e.stage = stageSubmitted
			e.index = index
		}
	}
}

// Complete waits for every submitted copy, then delivers it.
//
// The wait is bounded by the configured timeout and by ctx. On expiry the
// remaining entries stay submitted and are retried by the next call.
// A failed map is delivered as a result wrapping ErrReadbackMap and does
// not affect other entries.
func (r *Readbacks) Complete(ctx context.Context) error {
	var last uint64
	for _, e := range r.entries {
		if e.stage == stageSubmitted && e.index > last {
			last = e.index
		}
	}
	if last == 0 {
		return nil
	}
	if err := r.wait(ctx, last); err != nil {
		return err
	}

	for _, id := range r.order {
		e := r.entries[id]
		if e == nil || e.stage != stageSubmitted {
			continue
		}
		r.deliver(e)
	}
	r.compact()
	return nil
}

// wait polls the queue until index completed.
func (r *Readbacks) wait(ctx context.Context, index uint64) error {
	if r.queue.PollCompleted() >= index {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()
	ticker := time.NewTicker(readbackPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: submission %d: %w", ErrReadbackWait, index, ctx.Err())
		case <-ticker.C:
			if r.queue.PollCompleted() >= index {
				return nil
			}
		}
	}
}

func (r *Readbacks) deliver(e *readbackEntry) {
	size := e.layout.StagingSize()
	mapping, err := r.device.MapBuffer(e.staging, 0, size)
	if err != nil {
		// The buffer state is unknown after a failed map; never reuse it.
		r.device.DestroyBuffer(e.staging)
		e.staging = nil
		r.fail(e, fmt.Errorf("%w: %s: %w", ErrReadbackMap, e.image, err))
		return
	}
	padded := unsafe.Slice((*byte)(mapping.Ptr), size)
	data, err := e.layout.Depad(padded)
	if uerr := r.device.UnmapBuffer(e.staging); uerr != nil {
		slogger().Warn("noise: unmap staging buffer", "image", e.image.String(), "err", uerr)
	}
	r.release(e.staging, size)
	e.staging = nil
	if err != nil {
		r.fail(e, err)
		return
	}

	r.sent++
	slogger().Debug("noise: readback delivered", "image", e.image.String(), "bytes", len(data))
	r.send(e, gpucore.Readback{Image: e.image, Size: e.layout.Size, Data: data})
}

// fail delivers err as the result of e and removes the entry.
func (r *Readbacks) fail(e *readbackEntry, err error) {
	r.failed++
	if e.staging != nil {
		r.release(e.staging, e.layout.StagingSize())
		e.staging = nil
	}
	slogger().Error("noise: readback failed", "image", e.image.String(), "err", err)
	r.send(e, gpucore.Readback{Image: e.image, Size: e.layout.Size, Err: err})
}

// send removes the entry and hands res to the producer without blocking.
// A stale value nobody received is replaced; a channel that is still full
// after that drops res.
func (r *Readbacks) send(e *readbackEntry, res gpucore.Readback) {
	delete(r.entries, e.image)
	if e.sender == nil {
		r.dropped++
		return
	}
	select {
	case e.sender <- res:
		return
	default:
	}
	select {
	case <-e.sender:
	default:
	}
	select {
	case e.sender <- res:
	default:
		r.dropped++
	}
}

// compact drops removed images from the registration order.
func (r *Readbacks) compact() {
	n := 0
	for _, id := range r.order {
		if _, ok := r.entries[id]; ok {
			r.order[n] = id
			n++
		}
	}
	clear(r.order[n:])
	r.order = r.order[:n]
}

// acquire returns a staging buffer of exactly size bytes.
func (r *Readbacks) acquire(size uint64) (hal.Buffer, error) {
	if bufs := r.free[size]; len(bufs) > 0 {
		buf := bufs[len(bufs)-1]
		r.free[size] = bufs[:len(bufs)-1]
		return buf, nil
	}
	buf, err := r.device.CreateBuffer(&hal.BufferDescriptor{
		Label: fmt.Sprintf("noise staging %d", size),
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("noise: create staging buffer: %w", err)
	}
	return buf, nil
}

// release returns a staging buffer of size bytes to the free list.
func (r *Readbacks) release(buf hal.Buffer, size uint64) {
	r.free[size] = append(r.free[size], buf)
}

// Stats returns the number of readbacks delivered, failed and dropped
// because nobody was receiving.
func (r *Readbacks) Stats() (sent, failed, dropped uint64) {
	return r.sent, r.failed, r.dropped
}

// Close destroys all staging buffers. Call after the device went idle.
func (r *Readbacks) Close() {
	for _, e := range r.entries {
		if e.staging != nil {
			r.device.DestroyBuffer(e.staging)
		}
	}
	for _, bufs := range r.free {
		for _, b := range bufs {
			r.device.DestroyBuffer(b)
		}
	}
	r.entries = make(map[gpucore.ImageID]*readbackEntry)
	r.order = nil
	r.free = make(map[uint64][]hal.Buffer)
}
