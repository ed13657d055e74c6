package sequence

import "github.com/pkg/errors"

// Default stack depths.
const (
	MaxLoopDepth = 16
	MaxCallDepth = 16
)

// LoopFrame is one active loop of the source sequence.
type LoopFrame struct {
	Count     int    // total passes, 0 for an infinite loop
	Target    int    // offset the loop jumps back to
	Seen      int    // passes completed so far
	StartTick uint32 // tick at which the loop body starts
}

// LoopStack is a bounded stack of nested loops.
type LoopStack struct {
	frames []LoopFrame
	max    int
}

// NewLoopStack creates a stack holding at most max frames.
func NewLoopStack(max int) *LoopStack {
	if max <= 0 {
		max = MaxLoopDepth
	}
	return &LoopStack{max: max}
}

// Push adds a frame.
func (s *LoopStack) Push(f LoopFrame) error {
	if len(s.frames) >= s.max {
		return errors.Wrapf(ErrStackOverflow, "loop depth %d", s.max)
	}
	s.frames = append(s.frames, f)
	return nil
}

// Top returns the innermost frame, or nil if the stack is empty.
func (s *LoopStack) Top() *LoopFrame {
	if len(s.frames) == 0 {
		return nil
	}
	return &s.frames[len(s.frames)-1]
}

// Pop removes the innermost frame.
func (s *LoopStack) Pop() (LoopFrame, error) {
	if len(s.frames) == 0 {
		return LoopFrame{}, errors.WithStack(ErrStackUnderflow)
	}
	f := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return f, nil
}

// Len returns the nesting depth.
func (s *LoopStack) Len() int {
	return len(s.frames)
}

// Reset empties the stack.
func (s *LoopStack) Reset() {
	s.frames = s.frames[:0]
}

// CallStack is a bounded stack of subroutine return addresses.
type CallStack struct {
	ret []int
	max int
}

// NewCallStack creates a stack holding at most max return addresses.
func NewCallStack(max int) *CallStack {
	if max <= 0 {
		max = MaxCallDepth
	}
	return &CallStack{max: max}
}

// Push saves a return address.
func (s *CallStack) Push(ret int) error {
	if len(s.ret) >= s.max {
		return errors.Wrapf(ErrStackOverflow, "call depth %d", s.max)
	}
	s.ret = append(s.ret, ret)
	return nil
}

// Pop returns the most recent return address.
func (s *CallStack) Pop() (int, error) {
	if len(s.ret) == 0 {
		return 0, errors.WithStack(ErrStackUnderflow)
	}
	r := s.ret[len(s.ret)-1]
	s.ret = s.ret[:len(s.ret)-1]
	return r, nil
}

// Len returns the number of saved addresses.
func (s *CallStack) Len() int {
	return len(s.ret)
}

// Reset empties the stack.
func (s *CallStack) Reset() {
	s.ret = s.ret[:0]
}
