package pipeline

import (
	"sync"

	"edge-viewer-go/internal/edge"
)

// paramStore holds the last-known-good filter parameters. Updates are
// validated before they replace the current value, and a pending flag
// stays raised until the next frame picks them up.
type paramStore struct {
	mu      sync.Mutex
	current edge.Params
	pending bool
}

func newParamStore(p edge.Params) *paramStore {
	return &paramStore{current: p}
}

func (s *paramStore) Set(p edge.Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.current = p
	s.pending = true
	s.mu.Unlock()
	return nil
}

// Update applies fn to a copy of the current value and stores the result
// if it validates.
func (s *paramStore) Update(fn func(*edge.Params)) (edge.Params, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.current
	fn(&next)
	if err := next.Validate(); err != nil {
		return s.current, err
	}
	s.current = next
	s.pending = true
	return next, nil
}

func (s *paramStore) Get() edge.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Acquire is called as a frame enters filtering. The frame keeps the
// returned value even if Set runs while it is being filtered.
func (s *paramStore) Acquire() edge.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = false
	return s.current
}

func (s *paramStore) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}
