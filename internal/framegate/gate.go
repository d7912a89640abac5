// Package framegate admits camera frames into the pipeline under a
// keep-only-latest policy.
//
// The gate is a single-slot mailbox: Offer never blocks the capture source,
// a newer frame replaces (and releases) an unconsumed older one, and the one
// pipeline worker blocks in Next until a frame is waiting.
package framegate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/emotion-sensor/internal/types"
)

// Gate is the single-slot admission mailbox.
//
// Thread-safety:
//   - Offer: safe for concurrent calls (normally one capture goroutine)
//   - Next: MUST be called from a single worker goroutine
type Gate struct {
	// --- Mailbox State ---

	mu     sync.Mutex
	cond   *sync.Cond
	frame  *types.Frame // nil = consumed
	closed bool

	// --- Admission Policy ---

	state       *types.DetectionState
	minInterval time.Duration
	lastAdmit   time.Time
	now         func() time.Time

	// --- Operational Stats (atomic) ---

	offered    uint64
	admitted   uint64
	superseded uint64
	disabled   uint64
	throttled  uint64
	consumed   uint64
}

// Option configures a Gate
type Option func(*Gate)

// WithMinInterval drops frames offered sooner than d after the last admitted frame.
func WithMinInterval(d time.Duration) Option {
	return func(g *Gate) { g.minInterval = d }
}

// WithClock replaces time.Now (tests)
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// New creates a gate reading the shared detection state.
func New(state *types.DetectionState, opts ...Option) *Gate {
	g := &Gate{
		state: state,
		now:   time.Now,
	}
	g.cond = sync.NewCond(&g.mu)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Offer hands a frame to the gate. It never blocks.
//
// Outcomes:
//   - detection disabled: frame released at once, no downstream work
//   - inside the throttle interval: frame released
//   - otherwise: frame admitted and stamped with the detection generation;
//     an unconsumed predecessor is released
//
// Returns true if the frame was admitted.
func (g *Gate) Offer(frame *types.Frame) bool {
	atomic.AddUint64(&g.offered, 1)

	gen, active := g.state.Admit()
	if !active {
		atomic.AddUint64(&g.disabled, 1)
		frame.Release()
		return false
	}

	g.mu.Lock()

	if g.closed {
		g.mu.Unlock()
		frame.Release()
		return false
	}

	now := g.now()
	if g.minInterval > 0 && !g.lastAdmit.IsZero() && now.Sub(g.lastAdmit) < g.minInterval {
		g.mu.Unlock()
		atomic.AddUint64(&g.throttled, 1)
		frame.Release()
		return false
	}

	frame.Generation = gen
	prev := g.frame
	g.frame = frame
	g.lastAdmit = now
	atomic.AddUint64(&g.admitted, 1)
	g.cond.Signal()
	g.mu.Unlock()

	if prev != nil {
		atomic.AddUint64(&g.superseded, 1)
		prev.Release()
	}
	return true
}

// Next blocks until a frame is admitted, the gate is closed or ctx is done.
// The caller owns the returned frame and must release it.
func (g *Gate) Next(ctx context.Context) (*types.Frame, bool) {
	stop := context.AfterFunc(ctx, func() {
		g.mu.Lock()
		g.cond.Broadcast()
		g.mu.Unlock()
	})
	defer stop()

	g.mu.Lock()
	defer g.mu.Unlock()

	for g.frame == nil && !g.closed && ctx.Err() == nil {
		g.cond.Wait()
	}
	if g.frame == nil {
		return nil, false
	}

	frame := g.frame
	g.frame = nil
	atomic.AddUint64(&g.consumed, 1)
	return frame, true
}

// Close wakes the worker and releases any waiting frame. Idempotent.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	pending := g.frame
	g.frame = nil
	g.cond.Broadcast()
	g.mu.Unlock()

	if pending != nil {
		pending.Release()
	}
}

// Stats contains gate counters
type Stats struct {
	Offered           uint64 `json:"offered"`
	Admitted          uint64 `json:"admitted"`
	Consumed          uint64 `json:"consumed"`
	DroppedSuperseded uint64 `json:"dropped_superseded"`
	DroppedDisabled   uint64 `json:"dropped_disabled"`
	DroppedThrottled  uint64 `json:"dropped_throttled"`
}

// Dropped returns the sum of all drop counters
func (s Stats) Dropped() uint64 {
	return s.DroppedSuperseded + s.DroppedDisabled + s.DroppedThrottled
}

// Stats returns a snapshot of the gate counters
func (g *Gate) Stats() Stats {
	return Stats{
		Offered:           atomic.LoadUint64(&g.offered),
		Admitted:          atomic.LoadUint64(&g.admitted),
		Consumed:          atomic.LoadUint64(&g.consumed),
		DroppedSuperseded: atomic.LoadUint64(&g.superseded),
		DroppedDisabled:   atomic.LoadUint64(&g.disabled),
		DroppedThrottled:  atomic.LoadUint64(&g.throttled),
	}
}
