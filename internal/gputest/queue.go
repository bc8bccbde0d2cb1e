package gputest

import (
	"sync"

	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// Queue is a recording hal.Queue. Submissions complete immediately unless
// the queue is stalled.
type Queue struct {
	noop.Queue

	mu      sync.Mutex
	submits int
	stalled bool
	done    uint64
}

// Submit counts the submission.
func (q *Queue) Submit(cmds []hal.CommandBuffer) (uint64, error) {
	index, err := q.Queue.Submit(cmds)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.submits++
	if !q.stalled {
		q.done = index
	}
	return index, err
}

// PollCompleted returns the last submission made while not stalled.
func (q *Queue) PollCompleted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.done
}

// Stall stops completing submissions until Resume.
func (q *Queue) Stall() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stalled = true
}

// Resume completes everything submitted so far and future submissions.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.stalled = false
	q.mu.Unlock()
	done := q.Queue.PollCompleted()
	q.mu.Lock()
	q.done = done
	q.mu.Unlock()
}

// Submits returns the number of submissions.
func (q *Queue) Submits() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submits
}
