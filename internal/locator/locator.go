// Package locator runs face detection for one frame off the pipeline
// goroutine and delivers the outcome through a future.
package locator

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/e7canasta/emotion-sensor/internal/types"
)

// Input is the detector's view of a frame: the luma plane, borrowed read-only.
type Input struct {
	Pixels   []byte
	Width    int
	Height   int
	Rotation int
}

// Detector finds faces in a grayscale image.
// Boxes are reported in Input coordinates, in detection order.
type Detector interface {
	Detect(ctx context.Context, in Input) ([]types.Face, error)
}

// DetectorFunc adapts a function to Detector
type DetectorFunc func(ctx context.Context, in Input) ([]types.Face, error)

// Detect implements Detector
func (f DetectorFunc) Detect(ctx context.Context, in Input) ([]types.Face, error) {
	return f(ctx, in)
}

// Result is the outcome of one detection.
// Err wraps types.ErrDetector or types.ErrFrameDecode; Faces is empty when Err is set.
type Result struct {
	Faces   []types.Face
	Err     error
	Latency time.Duration
}

// Pending is a detection in flight
type Pending struct {
	done     chan Result
	finished chan struct{}
}

// Finished is closed once the detector has returned and no longer reads the frame.
// It may close after Wait has given up on ctx.
func (p *Pending) Finished() <-chan struct{} {
	return p.finished
}

// Wait blocks until the detection resolves or ctx is done.
func (p *Pending) Wait(ctx context.Context) Result {
	select {
	case r := <-p.done:
		return r
	case <-ctx.Done():
		return Result{Err: fmt.Errorf("%w: %v", types.ErrDetector, ctx.Err())}
	}
}

func resolved(r Result) *Pending {
	p := &Pending{done: make(chan Result, 1), finished: make(chan struct{})}
	p.done <- r
	close(p.finished)
	return p
}

// Locator adapts frames to a Detector
type Locator struct {
	detector Detector

	submitted uint64
	failed    uint64
	faces     uint64
}

// New creates a locator around a detector
func New(detector Detector) *Locator {
	return &Locator{detector: detector}
}

// Submit starts detection for frame on a detector goroutine.
//
// The frame is only borrowed: the caller keeps ownership and must not release
// it before Finished is closed and all per-face work derived from it is done.
// Detector errors and panics resolve as types.ErrDetector and never escape.
func (l *Locator) Submit(ctx context.Context, frame *types.Frame) *Pending {
	atomic.AddUint64(&l.submitted, 1)

	luma, err := frame.Luma()
	if err != nil {
		atomic.AddUint64(&l.failed, 1)
		return resolved(Result{Err: err})
	}

	in := Input{
		Pixels:   luma,
		Width:    frame.Width,
		Height:   frame.Height,
		Rotation: frame.Rotation,
	}

	p := &Pending{done: make(chan Result, 1), finished: make(chan struct{})}
	go func() {
		defer close(p.finished)
		start := time.Now()
		faces, err := l.detect(ctx, in)
		if err != nil {
			atomic.AddUint64(&l.failed, 1)
			slog.Debug("face detection failed",
				"frame_seq", frame.Seq,
				"trace_id", frame.TraceID,
				"error", err,
			)
			p.done <- Result{Err: err, Latency: time.Since(start)}
			return
		}
		atomic.AddUint64(&l.faces, uint64(len(faces)))
		p.done <- Result{Faces: faces, Latency: time.Since(start)}
	}()
	return p
}

func (l *Locator) detect(ctx context.Context, in Input) (faces []types.Face, err error) {
	defer func() {
		if r := recover(); r != nil {
			faces = nil
			err = fmt.Errorf("%w: panic: %v", types.ErrDetector, r)
		}
	}()

	faces, err = l.detector.Detect(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDetector, err)
	}
	return faces, nil
}

// Stats contains locator counters
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Failed    uint64 `json:"failed"`
	Faces     uint64 `json:"faces"`
}

// Stats returns a snapshot of the locator counters
func (l *Locator) Stats() Stats {
	return Stats{
		Submitted: atomic.LoadUint64(&l.submitted),
		Failed:    atomic.LoadUint64(&l.failed),
		Faces:     atomic.LoadUint64(&l.faces),
	}
}
