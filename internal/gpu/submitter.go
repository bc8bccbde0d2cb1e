package gpu

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"
)

// batch is one submitted command buffer and what it keeps alive.
type batch struct {
	index   uint64
	encoder hal.CommandEncoder
	cmd     hal.CommandBuffer
	sets    []*ResourceSet
	release []func()
}

// Submitter keeps one command encoder open across ticks. Passes are
// recorded into it; if any pass was recorded the submit flag is set, and
// Submit finishes the encoder, submits it and opens a fresh one.
//
// Resources used by a submission are released by Collect once the queue
// reports that submission completed.
type Submitter struct {
	device hal.Device
	queue  hal.Queue

	encoder hal.CommandEncoder
	flag    bool
	current batch

	inflight []batch

	flagged     uint64
	submissions uint64
}

// NewSubmitter opens the first encoder.
func NewSubmitter(device hal.Device, queue hal.Queue) (*Submitter, error) {
	s := &Submitter{device: device, queue: queue}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Submitter) open() error {
	enc, err := s.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "noise encoder"})
	if err != nil {
		return fmt.Errorf("noise: create command encoder: %w", err)
	}
	if err := enc.BeginEncoding("noise encoder"); err != nil {
		enc.Destroy()
		return fmt.Errorf("noise: begin encoding: %w", err)
	}
	s.encoder = enc
	s.current = batch{encoder: enc}
	return nil
}

// Encoder returns the open encoder.
func (s *Submitter) Encoder() hal.CommandEncoder {
	return s.encoder
}

// MarkDispatched sets the submit flag.
func (s *Submitter) MarkDispatched() {
	if !s.flag {
		s.flagged++
	}
	s.flag = true
}

// Flagged reports whether the submit flag is set.
func (s *Submitter) Flagged() bool {
	return s.flag
}

// Retain keeps sets alive until the open encoder's submission completes.
func (s *Submitter) Retain(sets ...*ResourceSet) {
	s.current.sets = append(s.current.sets, sets...)
}

// Defer runs fn once all work recorded so far has completed. With nothing
// recorded or in flight it runs fn immediately.
func (s *Submitter) Defer(fn func()) {
	switch {
	case s.flag:
		s.current.release = append(s.current.release, fn)
	case len(s.inflight) > 0:
		last := &s.inflight[len(s.inflight)-1]
		last.release = append(last.release, fn)
	default:
		fn()
	}
}

// Submit finishes and submits the open encoder if the flag is set, then
// opens a fresh encoder and clears the flag. It returns the submission
// index and whether anything was submitted.
func (s *Submitter) Submit() (uint64, bool, error) {
	if !s.flag {
		return 0, false, nil
	}
	cmd, err := s.encoder.EndEncoding()
	if err != nil {
		return 0, false, fmt.Errorf("noise: end encoding: %w", err)
	}
	index, err := s.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		s.device.FreeCommandBuffer(cmd)
		return 0, false, fmt.Errorf("noise: submit: %w", err)
	}

	b := s.current
	b.index = index
	b.cmd = cmd
	s.inflight = append(s.inflight, b)
	s.submissions++
	s.flag = false

	if err := s.open(); err != nil {
		return index, true, err
	}
	return index, true, nil
}

// Collect releases everything kept alive by completed submissions.
func (s *Submitter) Collect() {
	if len(s.inflight) == 0 {
		return
	}
	completed := s.queue.PollCompleted()
	n := 0
	for _, b := range s.inflight {
		if b.index > completed {
			break
		}
		s.retire(b)
		n++
	}
	s.inflight = append(s.inflight[:0], s.inflight[n:]...)
}

func (s *Submitter) retire(b batch) {
	for _, set := range b.sets {
		set.Release(s.device)
	}
	for _, fn := range b.release {
		fn()
	}
	if b.cmd != nil {
		s.device.FreeCommandBuffer(b.cmd)
	}
	if b.encoder != nil {
		b.encoder.Destroy()
	}
}

// InFlight returns the number of submissions not yet collected.
func (s *Submitter) InFlight() int {
	return len(s.inflight)
}

// Stats returns how often the submit flag was raised and how many
// submissions were made.
func (s *Submitter) Stats() (flagged, submissions uint64) {
	return s.flagged, s.submissions
}

// Close waits for the device to go idle and releases everything,
// including work recorded but never submitted.
func (s *Submitter) Close() error {
	err := s.device.WaitIdle()
	for _, b := range s.inflight {
		s.retire(b)
	}
	s.inflight = nil
	if s.encoder != nil {
		s.encoder.DiscardEncoding()
		s.current.encoder = s.encoder
		s.retire(s.current)
		s.encoder = nil
		s.current = batch{}
	}
	if err != nil {
		return fmt.Errorf("noise: wait idle: %w", err)
	}
	return nil
}
