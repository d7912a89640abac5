package core

import (
	"time"

	"github.com/e7canasta/emotion-sensor/internal/health"
	"github.com/e7canasta/emotion-sensor/internal/types"
)

// HealthCheck returns the current health status of the service
func (s *Service) HealthCheck() health.Status {
	s.mu.RLock()
	started, running := s.started, s.isRunning
	s.mu.RUnlock()

	status := health.Status{
		Status:          "healthy",
		UptimeSeconds:   int64(time.Since(started).Seconds()),
		Detection:       s.controller.State().String(),
		Model:           s.classifier.CurrentModel(),
		WorkerRunning:   s.pipeline.Running(),
		SourceConnected: s.source.Stats().IsConnected,
		MQTTEnabled:     s.cfg.MQTTEnabled(),
	}
	if s.emitter != nil {
		status.MQTTConnected = s.emitter.Stats().Connected
	}

	switch {
	case !running || !status.WorkerRunning:
		status.Status = "unhealthy"
	case !status.SourceConnected || (status.MQTTEnabled && !status.MQTTConnected):
		status.Status = "degraded"
	}
	return status
}

// Stats returns every component's counters
func (s *Service) Stats() map[string]interface{} {
	return map[string]interface{}{
		"source":     s.source.Stats(),
		"pipeline":   s.pipeline.Metrics(),
		"classifier": s.classifier.Stats(),
		"control": map[string]interface{}{
			"state":       s.controller.State().String(),
			"transitions": s.controller.Transitions(),
		},
	}
}

// Results returns the current published snapshot
func (s *Service) Results() types.Snapshot {
	return s.publisher.Current()
}
