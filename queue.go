package noise

import (
	"sync"

	"github.com/gogpu/noise/gpucore"
	"github.com/gogpu/noise/kernel"
)

// ImageID is a handle to an image in an engine's store.
type ImageID = gpucore.ImageID

// Size is the extent of an image or request.
type Size = gpucore.Size

// Size2D returns a 2D size.
func Size2D(width, height uint32) Size { return gpucore.Size2D(width, height) }

// Size3D returns a 3D size.
func Size3D(width, height, depth uint32) Size { return gpucore.Size3D(width, height, depth) }

// Request is one generation request: run Kernel over Target at Size.
// Requests are validated later, on the consumer timeline.
type Request struct {
	Target ImageID
	Kernel kernel.Descriptor
	Size   Size

	// Readback queues a one-shot readback of Target with the request.
	Readback bool
}

// RequestQueue collects requests on the producer timeline. Push never
// blocks on GPU work and never validates; Drain hands everything queued
// so far to the consumer timeline.
//
// RequestQueue is safe for concurrent use.
type RequestQueue struct {
	mu       sync.Mutex
	requests []Request
}

// Push appends requests in order. The same target may appear any number
// of times; each request becomes its own dispatch.
func (q *RequestQueue) Push(reqs ...Request) {
	q.mu.Lock()
	q.requests = append(q.requests, reqs...)
	q.mu.Unlock()
}

// Drain empties the queue and returns what it held, in push order.
func (q *RequestQueue) Drain() []Request {
	q.mu.Lock()
	reqs := q.requests
	q.requests = nil
	q.mu.Unlock()
	return reqs
}

// Len returns the number of queued requests.
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requests)
}
