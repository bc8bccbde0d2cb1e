package gpu

import (
	"fmt"
	"slices"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/noise/gpucore"
)

// SchedulerState is the dispatch scheduler's state.
type SchedulerState uint8

// Scheduler states.
const (
	// StateLoading waits for every registered pipeline to become ready.
	StateLoading SchedulerState = iota

	// StateReady drains the half selected by the parity bit.
	StateReady
)

// String returns "Loading" or "Ready".
func (s SchedulerState) String() string {
	if s == StateReady {
		return "Ready"
	}
	return "Loading"
}

// PipelineSource is the part of the Catalog the scheduler reads.
type PipelineSource interface {
	AllReady() bool
	State(key gpucore.PipelineKey) gpucore.PipelineState
	Lookup(key gpucore.PipelineKey) (*CompiledPipeline, bool)
}

// Scheduler owns the double-buffered submission queue.
//
// One half is writable (Fill appends to it) and the other is drainable (Run
// dispatches from it). While Loading, everything accumulates in half 0. In
// Ready(p), Fill writes half 1-p; Update clears the drained half p and
// flips the parity, which makes the freshly filled half drainable.
// Update never flips before half p has been drained, so no set is lost,
// and Run drains a half at most once, so no set is dispatched twice.
//
// One scheduler serves every kernel type, so requests dispatch in FIFO order
// across types. It is used from the consumer timeline only.
type Scheduler struct {
	pipelines PipelineSource

	state   SchedulerState
	parity  int
	halves  [2][]*ResourceSet
	drained [2]bool

	appended   uint64
	dispatched uint64
}

// NewScheduler returns a Loading scheduler.
func NewScheduler(pipelines PipelineSource) *Scheduler {
	return &Scheduler{pipelines: pipelines}
}

// State returns the state and, when Ready, the drainable parity.
func (s *Scheduler) State() (SchedulerState, int) {
	return s.state, s.parity
}

// writable returns the index of the half Fill appends to.
func (s *Scheduler) writable() int {
	if s.state == StateLoading {
		return 0
	}
	return 1 - s.parity
}

// Fill appends sets to the writable half.
func (s *Scheduler) Fill(sets []*ResourceSet) {
	if len(sets) == 0 {
		return
	}
	w := s.writable()
	s.halves[w] = append(s.halves[w], sets...)
	s.appended += uint64(len(sets))
}

// Update advances the state machine once per tick.
func (s *Scheduler) Update() {
	switch s.state {
	case StateLoading:
		if s.pipelines.AllReady() {
			s.state = StateReady
			s.parity = 0
			s.drained = [2]bool{}
			slogger().Debug("noise: scheduler ready", "pending", len(s.halves[0]))
		}
	case StateReady:
		p := s.parity
		if !s.drained[p] {
			return
		}
		clear(s.halves[p])
		s.halves[p] = s.halves[p][:0]
		s.drained[p] = false
		s.parity = 1 - p
	}
}

// Run drains the drainable half, encoding one compute pass per set, and
// returns the drained sets in order. It does nothing while Loading or when
// the half was already drained this cycle.
//
// A kernel type registered after the scheduler became Ready can leave sets
// whose pipeline is still compiling. The whole half then waits, undrained,
// until that pipeline is ready, which keeps FIFO order. Only a key the
// catalog does not know is an error.
func (s *Scheduler) Run(encoder hal.CommandEncoder) ([]*ResourceSet, error) {
	if s.state != StateReady {
		return nil, nil
	}
	p := s.parity
	if s.drained[p] {
		return nil, nil
	}

	sets := s.halves[p]
	for _, set := range sets {
		switch state := s.pipelines.State(set.Key); state {
		case gpucore.PipelineReady:
		case gpucore.PipelineUnregistered:
			return nil, fmt.Errorf("%w: %s", ErrNotRegistered, set.Key)
		default:
			slogger().Debug("noise: dispatch waiting for pipeline", "key", set.Key.String(), "state", state.String())
			return nil, nil
		}
	}
	pipelines := make([]*CompiledPipeline, len(sets))
	for i, set := range sets {
		compiled, ok := s.pipelines.Lookup(set.Key)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotRegistered, set.Key)
		}
		pipelines[i] = compiled
	}
	s.drained[p] = true

	for i, set := range sets {
		x, y, z := set.Size.Workgroups()
		pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: set.Key.Label()})
		pass.SetPipeline(pipelines[i].Pipeline)
		pass.SetBindGroup(0, set.ImageGroup, nil)
		pass.SetBindGroup(1, set.ParamGroup, nil)
		pass.Dispatch(x, y, z)
		pass.End()
	}
	s.dispatched += uint64(len(sets))
	if len(sets) > 0 {
		slogger().Debug("noise: dispatched", "count", len(sets), "parity", p)
	}
	return append([]*ResourceSet(nil), sets...), nil
}

// Pending returns the number of sets waiting to be dispatched.
func (s *Scheduler) Pending() int {
	n := len(s.halves[s.writable()])
	if s.state == StateReady && !s.drained[s.parity] {
		n += len(s.halves[s.parity])
	}
	return n
}

// Holds reports whether a pending set targets image or reads it as input.
func (s *Scheduler) Holds(image gpucore.ImageID) bool {
	for h := range s.halves {
		if s.drained[h] {
			continue
		}
		for _, set := range s.halves[h] {
			if set.Target == image || slices.Contains(set.Inputs, image) {
				return true
			}
		}
	}
	return false
}

// Reset drops every pending set and returns them so the caller can
// release them. The scheduler returns to Loading.
func (s *Scheduler) Reset() []*ResourceSet {
	var sets []*ResourceSet
	for h := range s.halves {
		if !s.drained[h] {
			sets = append(sets, s.halves[h]...)
		}
		s.halves[h] = nil
	}
	s.drained = [2]bool{}
	s.state = StateLoading
	s.parity = 0
	return sets
}

// Counts returns the number of sets ever appended and ever dispatched.
// appended == dispatched + Pending() holds after every call.
func (s *Scheduler) Counts() (appended, dispatched uint64) {
	return s.appended, s.dispatched
}
