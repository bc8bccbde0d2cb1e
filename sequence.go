package noise

import (
	"fmt"

	"github.com/gogpu/noise/gpucore"
	"github.com/gogpu/noise/kernel"
)

// Sequence builds an ordered list of stages against one image: usually a
// generator followed by modifiers and combiners. Submit queues all stages
// at once, so no other producer can interleave requests between them.
//
// The first error recorded by a stage is returned by Submit.
type Sequence struct {
	engine *Engine
	target ImageID
	size   Size
	reqs   []Request
	err    error
}

// Sequence starts a sequence against img.
func (e *Engine) Sequence(img ImageID) *Sequence {
	s := &Sequence{engine: e, target: img}
	size, ok := e.images.Size(img)
	if !ok {
		s.err = fmt.Errorf("%w: %s", ErrImageNotFound, img)
		return s
	}
	s.size = size
	return s
}

// Generate adds a generator stage.
func (s *Sequence) Generate(k kernel.Kernel) *Sequence {
	return s.stage(k, gpucore.OpGenerator)
}

// Modify adds a modifier stage.
func (s *Sequence) Modify(k kernel.Kernel) *Sequence {
	return s.stage(k, gpucore.OpModifier)
}

// Combine adds a combiner stage.
func (s *Sequence) Combine(k kernel.Kernel) *Sequence {
	return s.stage(k, gpucore.OpCombiner)
}

func (s *Sequence) stage(k kernel.Kernel, op gpucore.Op) *Sequence {
	if s.err != nil {
		return s
	}
	got, ok := s.engine.kernelOp(k.TypeTag())
	if !ok {
		s.err = fmt.Errorf("%w: %q", ErrUnknownKernel, k.TypeTag())
		return s
	}
	if got != op {
		s.err = fmt.Errorf("%w: %q is a %s, stage wants a %s", ErrSequenceOrder, k.TypeTag(), got, op)
		return s
	}
	s.reqs = append(s.reqs, Request{Target: s.target, Kernel: kernel.Describe(k), Size: s.size})
	return s
}

// Len returns the number of stages added so far.
func (s *Sequence) Len() int {
	return len(s.reqs)
}

// Submit queues every stage in order and returns the target image. With
// readback set, the result of the last stage is read back.
func (s *Sequence) Submit(readback bool) (ImageID, error) {
	if s.err != nil {
		return s.target, s.err
	}
	if len(s.reqs) == 0 {
		return s.target, nil
	}
	if readback {
		s.reqs[len(s.reqs)-1].Readback = true
	}
	if err := s.engine.SubmitRequests(s.reqs...); err != nil {
		return s.target, err
	}
	return s.target, nil
}
