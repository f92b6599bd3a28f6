package pipeline

import (
	"sync"

	"edge-viewer-go/internal/frame"
)

// frameSlot is the capacity-one mailbox between the capture producer and
// the processing consumer. A Put never blocks: a frame still waiting in
// the slot is replaced and counted as dropped. Take blocks until a frame
// arrives or the slot is closed.
type frameSlot struct {
	mu      sync.Mutex
	cond    *sync.Cond
	frame   *frame.RawFrame
	nextSeq uint64
	dropped uint64
	closed  bool

	// onStored runs under mu after every accepted Put.
	onStored func()
}

func newFrameSlot() *frameSlot {
	s := &frameSlot{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Put stores a copy of f stamped with the next sequence number. It returns
// false once the slot is closed.
func (s *frameSlot) Put(f *frame.RawFrame) (seq uint64, dropped bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, false, false
	}

	// previous frame never reached the consumer
	if s.frame != nil {
		s.dropped++
		dropped = true
	}

	stamped := *f
	stamped.Seq = s.nextSeq
	s.nextSeq++
	s.frame = &stamped
	if s.onStored != nil {
		s.onStored()
	}

	s.cond.Signal()
	return stamped.Seq, dropped, true
}

// Take removes and returns the pending frame, waiting for one if needed.
// It returns nil after Close.
func (s *frameSlot) Take() *frame.RawFrame {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.frame == nil && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return nil
	}
	f := s.frame
	s.frame = nil
	return f
}

// Pending reports whether a frame is waiting.
func (s *frameSlot) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame != nil
}

// Settle calls fn with the pending flag while holding the slot lock, so
// no Put can land between the check and whatever fn records.
func (s *frameSlot) Settle(fn func(pending bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.frame != nil)
}

// Close discards any pending frame and wakes the consumer. Safe to call
// more than once.
func (s *frameSlot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.frame = nil
	s.cond.Broadcast()
}

// Dropped returns how many frames were overwritten before being taken.
func (s *frameSlot) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
