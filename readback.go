package noise

import (
	"sync"

	"github.com/gogpu/noise/gpucore"
	"github.com/gogpu/noise/internal/gpu"
)

// Readback is one image's bytes copied back from the GPU: tightly packed
// rows of Size.Width texels, Size.Height rows per slice, Size.Depth slices.
// Err is set instead of Data when the copy could not be delivered.
type Readback = gpucore.Readback

// readbackChannels is the producer side of the readback channel: one
// single-slot channel per image and the registrations not yet handed to
// the consumer timeline.
type readbackChannels struct {
	mu       sync.Mutex
	channels map[ImageID]chan Readback
	pending  []gpu.ReadbackRequest
}

func newReadbackChannels() *readbackChannels {
	return &readbackChannels{channels: make(map[ImageID]chan Readback)}
}

// queue registers image for one readback. Calling it again before the
// result arrives does not queue a second one.
func (r *readbackChannels) queue(image ImageID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[image]
	if !ok {
		ch = make(chan Readback, 1)
		r.channels[image] = ch
	}
	for _, p := range r.pending {
		if p.Image == image {
			return
		}
	}
	r.pending = append(r.pending, gpu.ReadbackRequest{Image: image, Sender: ch})
}

// tryReceive returns the delivered result of image without blocking.
func (r *readbackChannels) tryReceive(image ImageID) (Readback, bool, error) {
	r.mu.Lock()
	ch, ok := r.channels[image]
	r.mu.Unlock()
	if !ok {
		return Readback{}, false, ErrNoReadback
	}
	select {
	case res := <-ch:
		return res, true, nil
	default:
		return Readback{}, false, nil
	}
}

// cancel forgets the channel of image. A result already in flight is
// dropped by the consumer.
func (r *readbackChannels) cancel(image ImageID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, image)
	n := 0
	for _, p := range r.pending {
		if p.Image != image {
			r.pending[n] = p
			n++
		}
	}
	r.pending = r.pending[:n]
}

// drain hands the pending registrations to the consumer timeline.
func (r *readbackChannels) drain() []gpu.ReadbackRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	reqs := r.pending
	r.pending = nil
	return reqs
}
