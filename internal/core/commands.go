package core

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/emotion-sensor/internal/control"
)

func (s *Service) callbacks() control.CommandCallbacks {
	return control.CommandCallbacks{
		OnGetStatus:      s.GetStatus,
		OnStartDetection: s.startDetection,
		OnStopDetection:  s.stopDetection,
		OnSetModel:       s.setModel,
		OnGetResults:     s.getResults,
		OnShutdown:       s.shutdownViaControl,
	}
}

// GetStatus returns the current service status
func (s *Service) GetStatus() map[string]interface{} {
	s.mu.RLock()
	started, running := s.started, s.isRunning
	s.mu.RUnlock()

	sourceStats := s.source.Stats()
	m := s.pipeline.Metrics()

	status := map[string]interface{}{
		"instance_id": s.cfg.InstanceID,
		"uptime_s":    time.Since(started).Seconds(),
		"running":     running,
		"detection":   s.controller.State().String(),
		"generation":  s.state.Generation(),
		"model":       s.classifier.CurrentModel(),
		"source": map[string]interface{}{
			"type":        sourceStats.Source,
			"connected":   sourceStats.IsConnected,
			"fps_real":    sourceStats.FPSReal,
			"fps_target":  sourceStats.FPSTarget,
			"frame_count": sourceStats.FrameCount,
			"outstanding": sourceStats.Outstanding,
			"reconnects":  sourceStats.Reconnects,
		},
		"pipeline": map[string]interface{}{
			"frames_processed":  m.FramesProcessed,
			"frames_dropped":    m.FramesDropped,
			"drop_rate":         m.DropRate,
			"faces_classified":  m.FacesClassified,
			"faces_skipped":     m.FacesSkipped,
			"detector_failures": m.DetectorFailures,
			"avg_processing_ms": m.Benchmark.AvgProcessingMS,
		},
	}

	if s.emitter != nil {
		es := s.emitter.Stats()
		status["emitter"] = map[string]interface{}{
			"connected": es.Connected,
			"published": es.Published,
			"errors":    es.Errors,
		}
	}

	return status
}

func (s *Service) startDetection() error {
	if !s.controller.Start() {
		slog.Debug("start_detection: already active")
	}
	return nil
}

func (s *Service) stopDetection() error {
	if !s.controller.Stop() {
		slog.Debug("stop_detection: already idle")
	}
	return nil
}

// setModel swaps the emotion model; the old one keeps serving on failure
func (s *Service) setModel(path string) error {
	if err := s.classifier.SwitchModel(path); err != nil {
		return fmt.Errorf("failed to switch model: %w", err)
	}
	return nil
}

func (s *Service) getResults() map[string]interface{} {
	snap := s.publisher.Current()
	return map[string]interface{}{
		"seq":      snap.Seq,
		"faces":    snap.Faces,
		"trace_id": snap.TraceID,
		"results":  snap.Results,
	}
}

// shutdownViaControl initiates graceful shutdown via MQTT control command
func (s *Service) shutdownViaControl() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return fmt.Errorf("service not running")
	}
	if s.cancelCtx == nil {
		return fmt.Errorf("shutdown not available (no cancel context)")
	}

	// Run returns; main handles the shutdown sequence
	s.cancelCtx()
	return nil
}
