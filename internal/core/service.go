// Package core wires the capture source, detection pipeline, control plane
// and outer surfaces into one service.
package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/emotion-sensor/internal/capture"
	"github.com/e7canasta/emotion-sensor/internal/capture/gstsource"
	"github.com/e7canasta/emotion-sensor/internal/classifier"
	"github.com/e7canasta/emotion-sensor/internal/config"
	"github.com/e7canasta/emotion-sensor/internal/control"
	"github.com/e7canasta/emotion-sensor/internal/emitter"
	"github.com/e7canasta/emotion-sensor/internal/framegate"
	"github.com/e7canasta/emotion-sensor/internal/health"
	"github.com/e7canasta/emotion-sensor/internal/locator"
	"github.com/e7canasta/emotion-sensor/internal/locator/cascade"
	"github.com/e7canasta/emotion-sensor/internal/modelruntime"
	"github.com/e7canasta/emotion-sensor/internal/modelruntime/onnx"
	"github.com/e7canasta/emotion-sensor/internal/pipeline"
	"github.com/e7canasta/emotion-sensor/internal/publisher"
	"github.com/e7canasta/emotion-sensor/internal/region"
	"github.com/e7canasta/emotion-sensor/internal/types"
)

// Components are the replaceable edges of the service
type Components struct {
	Source   capture.Source
	Detector locator.Detector
	Loader   modelruntime.Loader
	Runtime  io.Closer // closed last, may be nil
}

// Service is the main service orchestrator
type Service struct {
	cfg *config.Config

	// Core components
	source     capture.Source
	runtime    io.Closer
	state      *types.DetectionState
	gate       *framegate.Gate
	classifier *classifier.Classifier
	publisher  *publisher.Publisher
	controller *control.Controller
	pipeline   *pipeline.Pipeline

	// Outer surfaces (optional)
	emitter        *emitter.MQTTEmitter
	controlHandler *control.Handler
	health         *health.Server
	unsubscribe    func()

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	cancelCtx context.CancelFunc
}

// NewService builds the production stack from configuration: GStreamer or
// mock capture, pigo face detection and an ONNX emotion model.
func NewService(cfg *config.Config) (*Service, error) {
	detector, err := cascade.Load(cfg.Detector.CascadePath, cascade.Params{
		MinSize:      cfg.Detector.MinSize,
		MaxSize:      cfg.Detector.MaxSize,
		ShiftFactor:  cfg.Detector.ShiftFactor,
		ScaleFactor:  cfg.Detector.ScaleFactor,
		IoUThreshold: cfg.Detector.IoUThreshold,
		MinQuality:   cfg.Detector.MinQuality,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load face detector: %w", err)
	}

	runtime := onnx.NewRuntime(onnx.Options{
		LibraryPath: cfg.Model.ORTLibrary,
		InputName:   cfg.Model.InputName,
		OutputName:  cfg.Model.OutputName,
	})

	return New(cfg, Components{
		Source:   NewSource(cfg.Camera),
		Detector: detector,
		Loader:   runtime,
		Runtime:  runtime,
	})
}

// NewSource picks the capture source for the camera settings
func NewSource(c config.CameraConfig) capture.Source {
	if c.Source == "mock" {
		return capture.NewMockSource(c.Width, c.Height, c.FPS, c.Rotation)
	}
	return gstsource.New(gstsource.Config{
		Source:   c.Source,
		Device:   c.Device,
		RTSPURL:  c.RTSPURL,
		Width:    c.Width,
		Height:   c.Height,
		FPS:      c.FPS,
		Rotation: c.Rotation,
	})
}

// New wires a service around the given components.
// A model that cannot be loaded is fatal: types.ErrModelLoad is returned.
func New(cfg *config.Config, comp Components) (*Service, error) {
	modelPath, err := ResolveModelPath(cfg.Model)
	if err != nil {
		return nil, err
	}

	clf, err := classifier.New(comp.Loader, modelPath, classifier.Output(cfg.Model.Output))
	if err != nil {
		if comp.Runtime != nil {
			comp.Runtime.Close()
		}
		return nil, err
	}

	state := types.NewDetectionState(false)
	gate := framegate.New(state, framegate.WithMinInterval(cfg.Pipeline.MinInterval()))
	pub := publisher.New(publisher.WithGenerationGuard(cfg.Pipeline.GuardEnabled()))
	controller := control.NewController(state, pub)

	s := &Service{
		cfg:        cfg,
		source:     comp.Source,
		runtime:    comp.Runtime,
		state:      state,
		gate:       gate,
		classifier: clf,
		publisher:  pub,
		controller: controller,
		pipeline: pipeline.New(
			gate,
			locator.New(comp.Detector),
			region.NewExtractor(),
			clf,
			pub,
			pipeline.Options{MaxFaces: cfg.Pipeline.MaxFaces},
		),
	}

	if cfg.Detection.StartActive {
		controller.Start()
	}

	slog.Info("service configured",
		"instance_id", cfg.InstanceID,
		"camera", cfg.Camera.Source,
		"model", modelPath,
		"detection", controller.State().String(),
		"generation_guard", cfg.Pipeline.GuardEnabled(),
		"min_interval", cfg.Pipeline.MinInterval(),
	)

	return s, nil
}

// ResolveModelPath returns the explicit model path, or materializes the
// packaged model into the local model directory.
func ResolveModelPath(m config.ModelConfig) (string, error) {
	if m.Path != "" {
		return m.Path, nil
	}
	return modelruntime.Materialize(m.PackagePath, m.Dir)
}

// Run starts the service and blocks until ctx is cancelled or a shutdown
// command arrives.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.isRunning = true
	s.started = time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancelCtx = cancel
	s.mu.Unlock()

	slog.Info("emotion service starting", "instance_id", s.cfg.InstanceID)

	if s.cfg.MQTTEnabled() {
		if err := s.startControlPlane(ctx); err != nil {
			return err
		}
	}

	if s.cfg.Health.Addr != "" {
		s.health = health.New(s.cfg.Health.Addr, s)
		s.health.Start()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.pipeline.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("pipeline worker exited", "error", err)
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pipeline.StartStatsLogger(ctx, s.cfg.Pipeline.StatsInterval())
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watchPipeline(ctx)
	}()

	if err := s.source.Start(ctx, func(frame *types.Frame) {
		s.pipeline.Offer(frame)
	}); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}

	slog.Info("emotion service running",
		"detection", s.controller.State().String(),
		"mqtt", s.cfg.MQTTEnabled(),
	)

	<-ctx.Done()

	slog.Info("emotion service run loop exiting")
	return nil
}

func (s *Service) startControlPlane(ctx context.Context) error {
	s.emitter = emitter.NewMQTTEmitter(s.cfg)
	if err := s.emitter.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect mqtt: %w", err)
	}

	s.unsubscribe = s.publisher.Subscribe("mqtt", s.emitter, s.cfg.Pipeline.ObserverQueue)

	s.controlHandler = control.NewHandler(s.cfg, s.emitter.Client, s.callbacks())
	if err := s.controlHandler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start control plane: %w", err)
	}
	return nil
}

// Shutdown performs graceful shutdown of all components
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if s.cancelCtx != nil {
		s.cancelCtx()
	}
	s.mu.Unlock()

	slog.Info("shutting down emotion service")

	// 1. Stop capture (no new frames)
	if err := s.source.Stop(); err != nil {
		slog.Error("failed to stop capture", "error", err)
	}

	// 2. Stop the worker; a waiting frame is released by the gate
	s.gate.Close()

	// 3. Stop control plane
	if s.controlHandler != nil {
		if err := s.controlHandler.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	// 4. Wait for goroutines, bounded by ctx
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("shutdown timeout waiting for pipeline", "error", ctx.Err())
	}

	// 5. Drain observers, then disconnect MQTT
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.publisher.Close()
	if s.emitter != nil {
		if err := s.emitter.Disconnect(); err != nil {
			slog.Error("failed to disconnect mqtt", "error", err)
		}
	}

	if s.health != nil {
		if err := s.health.Shutdown(ctx); err != nil {
			slog.Error("failed to stop health server", "error", err)
		}
	}

	// 6. Release the model, then the runtime
	s.Close()

	s.mu.Lock()
	uptime := time.Since(s.started)
	s.isRunning = false
	s.mu.Unlock()

	slog.Info("emotion service shutdown complete", "uptime", uptime)
	return nil
}

// Close releases the model and its runtime. Shutdown calls it; offline
// callers that never Run call it directly.
func (s *Service) Close() {
	if err := s.classifier.Close(); err != nil {
		slog.Error("failed to close model", "error", err)
	}
	if s.runtime != nil {
		if err := s.runtime.Close(); err != nil {
			slog.Error("failed to close model runtime", "error", err)
		}
	}
}

// watchPipeline warns when detection is active but no frame has completed
// for a while.
func (s *Service) watchPipeline(ctx context.Context) {
	const timeout = 30 * time.Second

	ticker := time.NewTicker(timeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.state.Active() {
				continue
			}
			m := s.pipeline.Metrics()
			if !m.LastSeenAt.IsZero() && time.Since(m.LastSeenAt) > timeout {
				slog.Warn("pipeline appears stalled",
					"last_seen_ago_s", int(time.Since(m.LastSeenAt).Seconds()),
					"frames_processed", m.FramesProcessed,
					"source_frames", s.source.Stats().FrameCount,
				)
			}
		}
	}
}

// Controller exposes the detection switch
func (s *Service) Controller() *control.Controller {
	return s.controller
}

// Publisher exposes the result publisher
func (s *Service) Publisher() *publisher.Publisher {
	return s.publisher
}

// Pipeline exposes the frame pipeline
func (s *Service) Pipeline() *pipeline.Pipeline {
	return s.pipeline
}

// ShutdownTimeout returns the configured graceful shutdown timeout
func (s *Service) ShutdownTimeout() time.Duration {
	return s.cfg.ShutdownTimeout()
}
