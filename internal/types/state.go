package types

import "sync/atomic"

// DetectionState is the process-wide detection switch.
//
// It is written only by the detection controller and read by the frame gate.
// Generation advances on every deactivation; frames carry the generation they
// were admitted under so results computed before a stop can be recognised as stale.
type DetectionState struct {
	active     atomic.Bool
	generation atomic.Uint64
}

// NewDetectionState creates a state, initially active or idle
func NewDetectionState(active bool) *DetectionState {
	s := &DetectionState{}
	s.active.Store(active)
	return s
}

// Active reports whether detection is enabled
func (s *DetectionState) Active() bool {
	return s.active.Load()
}

// Generation returns the current generation
func (s *DetectionState) Generation() uint64 {
	return s.generation.Load()
}

// Admit returns the generation to stamp on a frame and whether detection is enabled.
// The generation is read before the flag; Deactivate writes them in the opposite order.
func (s *DetectionState) Admit() (uint64, bool) {
	gen := s.generation.Load()
	return gen, s.active.Load()
}

// Activate enables detection. Returns false if it was already active.
func (s *DetectionState) Activate() bool {
	return s.active.CompareAndSwap(false, true)
}

// Deactivate disables detection and starts a new generation.
// Returns the new generation and false if it was already idle.
func (s *DetectionState) Deactivate() (uint64, bool) {
	if !s.active.CompareAndSwap(true, false) {
		return s.generation.Load(), false
	}
	return s.generation.Add(1), true
}
