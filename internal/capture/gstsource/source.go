// Package gstsource captures I420 frames from a V4L2 camera or an RTSP stream
// through a GStreamer pipeline.
//
// Pipeline structure:
//
//	v4l2src                         ┐
//	rtspsrc → decodebin (dynamic)   ┴→ videoconvert → videoscale → videorate →
//	capsfilter(I420) → appsink(max-buffers=1, drop=true)
package gstsource

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/emotion-sensor/internal/capture"
)

// Config contains GStreamer source settings
type Config struct {
	Source   string // v4l2 or rtsp
	Device   string
	RTSPURL  string
	Width    int
	Height   int
	FPS      int
	Rotation int
}

// Reconnect contains the exponential backoff settings
type Reconnect struct {
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// DefaultReconnect returns the default backoff settings
func DefaultReconnect() Reconnect {
	return Reconnect{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// Source is a GStreamer-backed capture.Source
type Source struct {
	cfg       Config
	reconnect Reconnect
	frames    *capture.FramePool
	layout    Layout

	mu        sync.Mutex
	pipeline  *gst.Pipeline
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	started   time.Time
	connected atomic.Bool

	reconnects uint32
	errors     uint64
	short      uint64
}

// New creates a GStreamer source
func New(cfg Config) *Source {
	source := cfg.Device
	if cfg.Source == "rtsp" {
		source = cfg.RTSPURL
	}
	return &Source{
		cfg:       cfg,
		reconnect: DefaultReconnect(),
		frames:    capture.NewFramePool(cfg.Width, cfg.Height, cfg.Rotation, source),
		layout:    I420Layout(cfg.Width, cfg.Height),
	}
}

// Start builds the pipeline and keeps it running with reconnection until Stop.
func (s *Source) Start(ctx context.Context, sink capture.Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("source already running")
	}

	gst.Init(nil)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.started = time.Now()

	s.wg.Add(1)
	go s.run(runCtx, sink)

	slog.Info("gstreamer source started",
		"source", s.cfg.Source,
		"width", s.cfg.Width,
		"height", s.cfg.Height,
		"fps", s.cfg.FPS,
	)
	return nil
}

// Stop tears down the pipeline and waits for the bus monitor to exit.
func (s *Source) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	slog.Info("gstreamer source stopped",
		"frames", s.frames.Produced(),
		"uptime", time.Since(s.started),
		"reconnects", atomic.LoadUint32(&s.reconnects),
	)
	return nil
}

// Stats returns source statistics
func (s *Source) Stats() capture.Stats {
	s.mu.Lock()
	started, running := s.started, s.running
	s.mu.Unlock()

	produced := s.frames.Produced()
	var fpsReal float64
	if running && produced > 0 {
		if elapsed := time.Since(started).Seconds(); elapsed > 0 {
			fpsReal = float64(produced) / elapsed
		}
	}

	return capture.Stats{
		Source:      s.cfg.Source,
		Resolution:  fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		FrameCount:  produced,
		FPSTarget:   s.cfg.FPS,
		FPSReal:     fpsReal,
		Outstanding: s.frames.Outstanding(),
		Reconnects:  atomic.LoadUint32(&s.reconnects),
		Errors:      atomic.LoadUint64(&s.errors) + atomic.LoadUint64(&s.short),
		IsConnected: s.connected.Load(),
	}
}

// run plays the pipeline, rebuilding it with exponential backoff on error.
func (s *Source) run(ctx context.Context, sink capture.Sink) {
	defer s.wg.Done()

	attempt := 0
	for {
		err := s.playOnce(ctx, sink)
		if ctx.Err() != nil {
			s.connected.Store(false)
			return
		}

		// a pipeline that delivered frames resets the retry budget
		if s.connected.Swap(false) {
			attempt = 0
		}

		atomic.AddUint64(&s.errors, 1)
		attempt++
		if attempt > s.reconnect.MaxRetries {
			slog.Error("gstreamer source stopped after reconnection failure",
				"error", err,
				"attempts", attempt-1,
			)
			return
		}
		atomic.AddUint32(&s.reconnects, 1)

		delay := Backoff(attempt, s.reconnect)
		slog.Warn("gstreamer pipeline failed, retrying",
			"error", err,
			"attempt", attempt,
			"max_retries", s.reconnect.MaxRetries,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// Backoff returns retryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func Backoff(attempt int, cfg Reconnect) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 31 {
		attempt = 31
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay || delay <= 0 {
		delay = cfg.MaxRetryDelay
	}
	return delay
}

func (s *Source) playOnce(ctx context.Context, sink capture.Sink) error {
	pipeline, appsink, err := s.build()
	if err != nil {
		return err
	}
	defer pipeline.SetState(gst.StateNull)

	s.mu.Lock()
	s.pipeline = pipeline
	s.mu.Unlock()

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sk *app.Sink) gst.FlowReturn {
			return s.onNewSample(sk, sink)
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	return s.monitor(ctx, pipeline)
}

// build creates the element graph for the configured source. The pipeline is
// left in the NULL state.
func (s *Source) build() (*gst.Pipeline, *app.Sink, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	converter.SetProperty("n-threads", 0)

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)
	videorate.SetProperty("skip-to-first", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(Caps(s.cfg.Width, s.cfg.Height, s.cfg.FPS)))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	tail := []*gst.Element{converter, scaler, videorate, capsfilter, appsink.Element}

	switch s.cfg.Source {
	case "v4l2":
		src, err := gst.NewElement("v4l2src")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create v4l2src: %w", err)
		}
		src.SetProperty("device", s.cfg.Device)

		if err := pipeline.AddMany(append([]*gst.Element{src}, tail...)...); err != nil {
			return nil, nil, fmt.Errorf("failed to add elements: %w", err)
		}
		if err := gst.ElementLinkMany(append([]*gst.Element{src}, tail...)...); err != nil {
			return nil, nil, fmt.Errorf("failed to link v4l2 pipeline: %w", err)
		}

	case "rtsp":
		src, err := gst.NewElement("rtspsrc")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create rtspsrc: %w", err)
		}
		src.SetProperty("location", s.cfg.RTSPURL)
		src.SetProperty("protocols", 4) // TCP only
		src.SetProperty("latency", 200)

		decoder, err := gst.NewElement("decodebin")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create decodebin: %w", err)
		}

		if err := pipeline.AddMany(append([]*gst.Element{src, decoder}, tail...)...); err != nil {
			return nil, nil, fmt.Errorf("failed to add elements: %w", err)
		}
		if err := gst.ElementLinkMany(tail...); err != nil {
			return nil, nil, fmt.Errorf("failed to link rtsp pipeline: %w", err)
		}

		src.Connect("pad-added", func(self *gst.Element, pad *gst.Pad) {
			linkDynamic(pad, decoder)
		})
		decoder.Connect("pad-added", func(self *gst.Element, pad *gst.Pad) {
			linkDynamic(pad, converter)
		})

	default:
		return nil, nil, fmt.Errorf("unsupported source '%s'", s.cfg.Source)
	}

	return pipeline, appsink, nil
}

// linkDynamic links a newly added src pad to the sink pad of next, once.
func linkDynamic(pad *gst.Pad, next *gst.Element) {
	sinkPad := next.GetStaticPad("sink")
	if sinkPad == nil || sinkPad.IsLinked() {
		return
	}
	if ret := pad.Link(sinkPad); ret != gst.PadLinkOK {
		slog.Debug("gstreamer: pad not linked",
			"src_pad", pad.GetName(),
			"ret", ret,
		)
		return
	}
	slog.Debug("gstreamer: pads linked", "src_pad", pad.GetName())
}

// onNewSample copies one appsink sample into a pooled frame and hands it to
// the sink. A bad sample is skipped, never fatal.
func (s *Source) onNewSample(sk *app.Sink, sink capture.Sink) gst.FlowReturn {
	sample := sk.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	defer buffer.Unmap()

	if len(data) < s.layout.Size {
		atomic.AddUint64(&s.short, 1)
		slog.Debug("gstreamer: short buffer skipped", "size", len(data), "want", s.layout.Size)
		return gst.FlowOK
	}

	s.connected.Store(true)
	sink(s.frames.NewFrame(func(dst []byte) {
		s.layout.CopyPacked(dst, data)
	}))
	return gst.FlowOK
}

// monitor polls the pipeline bus until an error, end of stream or ctx is done.
func (s *Source) monitor(ctx context.Context, pipeline *gst.Pipeline) error {
	bus := pipeline.GetPipelineBus()

	for {
		if ctx.Err() != nil {
			return nil
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			return fmt.Errorf("end of stream")

		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("gstreamer: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"source", s.cfg.Source,
				"frames", s.frames.Produced(),
			)
			return fmt.Errorf("pipeline error: %s", gerr.Error())

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				_, state := msg.ParseStateChanged()
				if state == gst.StatePlaying {
					s.connected.Store(true)
					slog.Info("gstreamer: pipeline playing", "source", s.cfg.Source)
				}
			}
		}
	}
}

// Caps returns the raw I420 caps with framerate fps/1.
func Caps(width, height, fps int) string {
	if fps <= 0 {
		fps = 1
	}
	return fmt.Sprintf(
		"video/x-raw,format=I420,width=%d,height=%d,framerate=%d/1",
		width, height, fps,
	)
}
