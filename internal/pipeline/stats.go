package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/e7canasta/emotion-sensor/internal/framegate"
	"github.com/e7canasta/emotion-sensor/internal/locator"
	"github.com/e7canasta/emotion-sensor/internal/publisher"
	"github.com/e7canasta/emotion-sensor/internal/region"
)

// Metrics contains pipeline health metrics
type Metrics struct {
	FramesProcessed  uint64           `json:"frames_processed"`
	FramesDropped    uint64           `json:"frames_dropped"`
	DropRate         float64          `json:"drop_rate"`
	DecodeFailures   uint64           `json:"decode_failures"`
	DetectorFailures uint64           `json:"detector_failures"`
	FacesClassified  uint64           `json:"faces_classified"`
	FacesSkipped     uint64           `json:"faces_skipped"`
	FacesFailed      uint64           `json:"faces_failed"`
	FacesOverLimit   uint64           `json:"faces_over_limit"`
	LastSeenAt       time.Time        `json:"last_seen_at"`
	Gate             framegate.Stats  `json:"gate"`
	Locator          locator.Stats    `json:"locator"`
	Regions          region.Stats     `json:"regions"`
	Publisher        publisher.Stats  `json:"publisher"`
	Benchmark        BenchmarkMetrics `json:"benchmark"`
}

// Metrics returns a snapshot of the pipeline metrics
func (p *Pipeline) Metrics() Metrics {
	gate := p.gate.Stats()

	var dropRate float64
	if gate.Offered > 0 {
		dropRate = float64(gate.Dropped()) / float64(gate.Offered)
	}

	var lastSeen time.Time
	if v, ok := p.lastSeenAt.Load().(time.Time); ok {
		lastSeen = v
	}

	return Metrics{
		FramesProcessed:  atomic.LoadUint64(&p.framesProcessed),
		FramesDropped:    gate.Dropped(),
		DropRate:         dropRate,
		DecodeFailures:   atomic.LoadUint64(&p.decodeFailures),
		DetectorFailures: atomic.LoadUint64(&p.detectorFailures),
		FacesClassified:  atomic.LoadUint64(&p.facesClassified),
		FacesSkipped:     atomic.LoadUint64(&p.facesSkipped),
		FacesFailed:      atomic.LoadUint64(&p.facesFailed),
		FacesOverLimit:   atomic.LoadUint64(&p.facesOverLimit),
		LastSeenAt:       lastSeen,
		Gate:             gate,
		Locator:          p.locator.Stats(),
		Regions:          p.extractor.Stats(),
		Publisher:        p.publisher.Stats(),
		Benchmark:        p.bench.Metrics(),
	}
}

// StartStatsLogger logs pipeline metrics every interval until ctx is done,
// and warns about observers dropping most of the snapshots of an interval.
func (p *Pipeline) StartStatsLogger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := p.Metrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := p.Metrics()

			deltaPublished := m.Publisher.Published - prev.Publisher.Published
			for name, dropped := range m.Publisher.Dropped {
				deltaDropped := dropped - prev.Publisher.Dropped[name]
				if deltaPublished == 0 {
					continue
				}
				if rate := float64(deltaDropped) / float64(deltaPublished); rate > 0.80 {
					slog.Warn("observer high drop rate detected",
						"observer", name,
						"drop_rate_pct", int(rate*100),
						"dropped_last_interval", deltaDropped,
						"published_last_interval", deltaPublished,
					)
				}
			}

			slog.Info("pipeline stats",
				"frames_processed", m.FramesProcessed,
				"frames_dropped", m.FramesDropped,
				"drop_rate", m.DropRate,
				"faces_classified", m.FacesClassified,
				"faces_skipped", m.FacesSkipped,
				"detector_failures", m.DetectorFailures,
				"avg_processing_ms", m.Benchmark.AvgProcessingMS,
				"peak_heap_mb", m.Benchmark.PeakHeapMB,
			)

			// Live regions outside a frame pass mean a release was missed
			if m.Regions.Live > 0 && !p.Running() {
				slog.Warn("face regions not released", "live", m.Regions.Live)
			}

			prev = m
		}
	}
}
