// Package publisher holds the current emotion result list and fans it out
// to observers.
//
// Readers always see a complete list: the current snapshot is swapped
// atomically and never mutated after publication.
package publisher

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/emotion-sensor/internal/types"
)

// Observer receives published snapshots and error messages.
// Calls for one observer are serialized and arrive in publish order.
type Observer interface {
	OnResults(snap types.Snapshot)
	OnError(msg string)
}

// Publisher is the single writer of the current result list.
type Publisher struct {
	current atomic.Pointer[types.Snapshot]

	// mu orders publish decisions against clears and observer delivery
	mu        sync.Mutex
	guard     bool
	barrier   uint64 // frames from generations below this are stale
	lastSeq   uint64
	observers []*subscription
	closed    bool

	published uint64
	stale     uint64
	errors    uint64
}

// Option configures a Publisher
type Option func(*Publisher)

// WithGenerationGuard controls whether per-frame results from a generation
// older than the last clear are discarded (default: on).
func WithGenerationGuard(enabled bool) Option {
	return func(p *Publisher) { p.guard = enabled }
}

// New creates a publisher whose current list is empty
func New(opts ...Option) *Publisher {
	p := &Publisher{guard: true}
	for _, opt := range opts {
		opt(p)
	}
	p.current.Store(&types.Snapshot{Results: []types.EmotionScore{}, At: time.Now()})
	return p
}

// Current returns the most recently published snapshot
func (p *Publisher) Current() types.Snapshot {
	return *p.current.Load()
}

// Filter keeps scores above types.ConfidenceThreshold and orders them highest first.
// The input is not modified.
func Filter(scores []types.EmotionScore) []types.EmotionScore {
	out := make([]types.EmotionScore, 0, len(scores))
	for _, s := range scores {
		if s.Confidence > types.ConfidenceThreshold {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// PublishFrame merges the per-face score lists of one frame, filters them and
// publishes the result as one snapshot. Zero faces publishes an empty list.
//
// Returns false if the frame was discarded as stale: its generation predates
// the last clear, or a later frame was already published.
func (p *Publisher) PublishFrame(frame *types.Frame, faces [][]types.EmotionScore) bool {
	var merged []types.EmotionScore
	for _, scores := range faces {
		merged = append(merged, scores...)
	}

	snap := &types.Snapshot{
		Results: Filter(merged),
		Seq:     frame.Seq,
		Faces:   len(faces),
		TraceID: frame.TraceID,
		At:      time.Now(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	if p.guard && (frame.Generation < p.barrier || frame.Seq < p.lastSeq) {
		atomic.AddUint64(&p.stale, 1)
		slog.Debug("discarding stale result",
			"frame_seq", frame.Seq,
			"generation", frame.Generation,
			"barrier", p.barrier,
		)
		return false
	}

	p.lastSeq = frame.Seq
	p.store(snap)
	return true
}

// Clear publishes an empty list and, with the guard on, makes every frame of a
// generation below gen stale.
func (p *Publisher) Clear(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	if gen > p.barrier {
		p.barrier = gen
	}
	p.store(&types.Snapshot{Results: []types.EmotionScore{}, At: time.Now()})
}

// store swaps the snapshot in and queues it for observers. Caller holds mu.
func (p *Publisher) store(snap *types.Snapshot) {
	p.current.Store(snap)
	atomic.AddUint64(&p.published, 1)
	for _, s := range p.observers {
		s.enqueue(event{snapshot: snap})
	}
}

// ReportError forwards a human-readable error message to observers.
// The current result list is left unchanged.
func (p *Publisher) ReportError(msg string) {
	atomic.AddUint64(&p.errors, 1)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for _, s := range p.observers {
		s.enqueue(event{errMsg: msg})
	}
}

// Subscribe registers an observer with a queue of the given depth. When the
// observer falls behind, the oldest queued event is dropped.
// The returned function unsubscribes and waits for pending deliveries.
func (p *Publisher) Subscribe(name string, o Observer, queue int) func() {
	if queue <= 0 {
		queue = 1
	}
	s := &subscription{
		name:     name,
		observer: o,
		events:   make(chan event, queue),
		done:     make(chan struct{}),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		close(s.events)
		close(s.done)
		return func() {}
	}
	p.observers = append(p.observers, s)
	p.mu.Unlock()

	go s.run()

	slog.Debug("observer subscribed", "observer", name, "queue", queue)

	return func() {
		p.mu.Lock()
		for i, other := range p.observers {
			if other == s {
				p.observers = append(p.observers[:i], p.observers[i+1:]...)
				close(s.events)
				break
			}
		}
		p.mu.Unlock()
		<-s.done
	}
}

// Close stops delivery to all observers after draining their queues
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	subs := p.observers
	p.observers = nil
	for _, s := range subs {
		close(s.events)
	}
	p.mu.Unlock()

	for _, s := range subs {
		<-s.done
	}
}

// Stats contains publisher counters
type Stats struct {
	Published uint64            `json:"published"`
	Stale     uint64            `json:"stale"`
	Errors    uint64            `json:"errors"`
	Dropped   map[string]uint64 `json:"observer_drops,omitempty"`
}

// Stats returns a snapshot of the publisher counters
func (p *Publisher) Stats() Stats {
	stats := Stats{
		Published: atomic.LoadUint64(&p.published),
		Stale:     atomic.LoadUint64(&p.stale),
		Errors:    atomic.LoadUint64(&p.errors),
		Dropped:   make(map[string]uint64),
	}

	p.mu.Lock()
	for _, s := range p.observers {
		stats.Dropped[s.name] = atomic.LoadUint64(&s.dropped)
	}
	p.mu.Unlock()

	return stats
}
