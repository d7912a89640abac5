// Package pipeline runs the per-frame emotion classification loop.
//
// One worker goroutine takes the latest admitted frame from the gate, waits on
// the face detector's future, fans out one goroutine per face for region
// preparation and classification, then publishes the merged result once.
// The frame is released exactly once, after every face derived from it is done.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"

	"github.com/e7canasta/emotion-sensor/internal/framegate"
	"github.com/e7canasta/emotion-sensor/internal/locator"
	"github.com/e7canasta/emotion-sensor/internal/publisher"
	"github.com/e7canasta/emotion-sensor/internal/region"
	"github.com/e7canasta/emotion-sensor/internal/types"
)

// Classifier scores one normalized face tensor
type Classifier interface {
	Classify(t *tensor.Dense) ([]types.EmotionScore, error)
}

// Options configures the pipeline
type Options struct {
	MaxFaces int // faces processed per frame, extra ones are skipped
}

// Pipeline binds gate, locator, region extractor, classifier and publisher.
type Pipeline struct {
	gate       *framegate.Gate
	locator    *locator.Locator
	extractor  *region.Extractor
	classifier Classifier
	publisher  *publisher.Publisher
	maxFaces   int
	bench      *Benchmark

	running atomic.Bool

	framesProcessed  uint64
	decodeFailures   uint64
	detectorFailures uint64
	facesClassified  uint64
	facesSkipped     uint64
	facesFailed      uint64
	facesOverLimit   uint64
	lastSeenAt       atomic.Value // time.Time
}

// New creates a pipeline
func New(
	gate *framegate.Gate,
	loc *locator.Locator,
	extractor *region.Extractor,
	classifier Classifier,
	pub *publisher.Publisher,
	opts Options,
) *Pipeline {
	if opts.MaxFaces <= 0 {
		opts.MaxFaces = 8
	}
	return &Pipeline{
		gate:       gate,
		locator:    loc,
		extractor:  extractor,
		classifier: classifier,
		publisher:  pub,
		maxFaces:   opts.MaxFaces,
		bench:      NewBenchmark(256),
	}
}

// Offer hands a captured frame to the gate (never blocks)
func (p *Pipeline) Offer(frame *types.Frame) bool {
	return p.gate.Offer(frame)
}

// Run processes admitted frames until ctx is done or the gate is closed.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("pipeline already running")
	}
	defer p.running.Store(false)

	slog.Info("pipeline worker started", "max_faces", p.maxFaces)

	for {
		frame, ok := p.gate.Next(ctx)
		if !ok {
			slog.Info("pipeline worker stopped",
				"frames_processed", atomic.LoadUint64(&p.framesProcessed),
			)
			return ctx.Err()
		}
		p.ProcessFrame(ctx, frame)
	}
}

// Running reports whether the worker loop is active
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// ProcessFrame runs one frame through detection, classification and
// publication, then releases it. Recoverable failures are reported and
// never returned.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame *types.Frame) {
	var pending *locator.Pending
	defer func() {
		p.release(frame, pending)
	}()

	start := time.Now()
	defer func() {
		p.bench.Record(time.Since(start))
		p.lastSeenAt.Store(time.Now())
	}()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("frame processing panicked",
				"frame_seq", frame.Seq,
				"trace_id", frame.TraceID,
				"panic", r,
			)
			p.publisher.ReportError(fmt.Sprintf("Frame processing failed: %v", r))
		}
	}()

	pending = p.locator.Submit(ctx, frame)
	res := pending.Wait(ctx)
	if res.Err != nil {
		if ctx.Err() != nil {
			slog.Debug("frame abandoned on shutdown",
				"frame_seq", frame.Seq,
				"trace_id", frame.TraceID,
			)
			return
		}
		p.handleFrameError(frame, res.Err)
		return
	}

	img, err := frame.YCbCr()
	if err != nil {
		p.handleFrameError(frame, err)
		return
	}

	faces := res.Faces
	if len(faces) > p.maxFaces {
		atomic.AddUint64(&p.facesOverLimit, uint64(len(faces)-p.maxFaces))
		slog.Debug("too many faces, skipping extras",
			"frame_seq", frame.Seq,
			"faces", len(faces),
			"max_faces", p.maxFaces,
		)
		faces = faces[:p.maxFaces]
	}

	results := make([][]types.EmotionScore, len(faces))
	var g errgroup.Group
	for i, face := range faces {
		i, face := i, face
		g.Go(func() error {
			results[i] = p.processFace(frame, img, i, face)
			return nil
		})
	}
	g.Wait()

	p.publisher.PublishFrame(frame, results)
	atomic.AddUint64(&p.framesProcessed, 1)

	slog.Debug("frame processed",
		"frame_seq", frame.Seq,
		"trace_id", frame.TraceID,
		"faces", len(faces),
		"detect_ms", res.Latency.Milliseconds(),
		"total_ms", time.Since(start).Milliseconds(),
	)
}

// release returns the frame once the detector is done with it. A detector
// still running after cancellation takes over the release.
func (p *Pipeline) release(frame *types.Frame, pending *locator.Pending) {
	if pending == nil {
		frame.Release()
		return
	}
	select {
	case <-pending.Finished():
		frame.Release()
	default:
		go func() {
			<-pending.Finished()
			frame.Release()
		}()
	}
}

func (p *Pipeline) handleFrameError(frame *types.Frame, err error) {
	if errors.Is(err, types.ErrFrameDecode) {
		atomic.AddUint64(&p.decodeFailures, 1)
		slog.Warn("frame decode failed",
			"frame_seq", frame.Seq,
			"trace_id", frame.TraceID,
			"error", err,
		)
		p.publisher.ReportError(fmt.Sprintf("Frame decode failed: %v", err))
		return
	}

	atomic.AddUint64(&p.detectorFailures, 1)
	slog.Warn("face detection failed",
		"frame_seq", frame.Seq,
		"trace_id", frame.TraceID,
		"error", err,
	)
	p.publisher.ReportError(fmt.Sprintf("Face detection failed: %v", err))
}

// processFace prepares and classifies one face. A nil result means the face
// was skipped; nothing escapes this scope.
func (p *Pipeline) processFace(frame *types.Frame, img *image.YCbCr, idx int, face types.Face) (scores []types.EmotionScore) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&p.facesFailed, 1)
			slog.Error("face processing panicked",
				"frame_seq", frame.Seq,
				"face", idx,
				"panic", r,
			)
			scores = nil
		}
	}()

	t, err := p.extractor.Prepare(img, face.Box)
	if err != nil {
		atomic.AddUint64(&p.facesSkipped, 1)
		slog.Debug("face skipped",
			"frame_seq", frame.Seq,
			"face", idx,
			"box", face.Box.String(),
			"error", err,
		)
		return nil
	}

	scores, err = p.classifier.Classify(t)
	if err != nil {
		atomic.AddUint64(&p.facesFailed, 1)
		slog.Warn("emotion classification failed",
			"frame_seq", frame.Seq,
			"face", idx,
			"error", err,
		)
		p.publisher.ReportError(fmt.Sprintf("Emotion classification failed: %v", err))
		return nil
	}

	atomic.AddUint64(&p.facesClassified, 1)
	return scores
}
