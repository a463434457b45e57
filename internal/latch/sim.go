package latch

import (
	"fmt"
	"sync"
)

// SimRelay is an in-memory relay for development machines and tests.
type SimRelay struct {
	mu         sync.Mutex
	energized  bool
	energizes  int
	failures   int
	failAlways bool
}

// NewSimRelay returns a de-energized simulated relay.
func NewSimRelay() *SimRelay { return &SimRelay{} }

// Energize sets the relay on, unless a failure has been injected.
func (s *SimRelay) Energize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.energizes++
	if s.failAlways {
		return fmt.Errorf("%w: simulated", ErrNotReady)
	}
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("%w: simulated", ErrNotReady)
	}
	s.energized = true
	return nil
}

// Deenergize sets the relay off.
func (s *SimRelay) Deenergize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.energized = false
	return nil
}

// FailNext makes the next n Energize calls report ErrNotReady.
func (s *SimRelay) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

// FailAlways makes every Energize call report ErrNotReady.
func (s *SimRelay) FailAlways() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAlways = true
}

// Energized reports the current relay level.
func (s *SimRelay) Energized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.energized
}

// Energizes returns how many times Energize has been called.
func (s *SimRelay) Energizes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.energizes
}
