package publisher

import (
	"log/slog"
	"sync/atomic"

	"github.com/e7canasta/emotion-sensor/internal/types"
)

type event struct {
	snapshot *types.Snapshot
	errMsg   string
}

type subscription struct {
	name     string
	observer Observer
	events   chan event
	done     chan struct{}
	dropped  uint64
}

// enqueue never blocks: a full queue loses its oldest event.
// Called with the publisher's mu held, so there is a single sender.
func (s *subscription) enqueue(ev event) {
	select {
	case s.events <- ev:
		return
	default:
	}

	select {
	case <-s.events:
		atomic.AddUint64(&s.dropped, 1)
	default:
	}

	select {
	case s.events <- ev:
	default:
		atomic.AddUint64(&s.dropped, 1)
	}
}

func (s *subscription) run() {
	defer close(s.done)
	for ev := range s.events {
		s.deliver(ev)
	}
}

func (s *subscription) deliver(ev event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("observer panicked", "observer", s.name, "panic", r)
		}
	}()

	if ev.snapshot != nil {
		s.observer.OnResults(*ev.snapshot)
		return
	}
	s.observer.OnError(ev.errMsg)
}
