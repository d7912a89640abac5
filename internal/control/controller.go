package control

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/emotion-sensor/internal/types"
)

// State of the detection switch
type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Clearer publishes an empty result list for a new generation
type Clearer interface {
	Clear(gen uint64)
}

// Controller is the only writer of the detection state.
//
// Idle -> Active enables the frame gate; frames already in flight are untouched.
// Active -> Idle disables the gate and clears the published results at once,
// even though in-flight work is not preempted.
type Controller struct {
	state   *types.DetectionState
	results Clearer

	mu          sync.Mutex // serializes transitions
	transitions uint64
}

// NewController creates a controller over state
func NewController(state *types.DetectionState, results Clearer) *Controller {
	return &Controller{state: state, results: results}
}

// Start moves to Active. Returns false if already active.
func (c *Controller) Start() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Activate() {
		return false
	}
	atomic.AddUint64(&c.transitions, 1)
	slog.Info("detection started", "generation", c.state.Generation())
	return true
}

// Stop moves to Idle and publishes an empty list. Returns false if already idle;
// the list is cleared either way.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	gen, changed := c.state.Deactivate()
	c.results.Clear(gen)

	if changed {
		atomic.AddUint64(&c.transitions, 1)
		slog.Info("detection stopped", "generation", gen)
	}
	return changed
}

// State returns the current state
func (c *Controller) State() State {
	if c.state.Active() {
		return Active
	}
	return Idle
}

// Transitions returns how many effective transitions happened
func (c *Controller) Transitions() uint64 {
	return atomic.LoadUint64(&c.transitions)
}
