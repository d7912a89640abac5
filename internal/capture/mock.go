package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// MockSource generates synthetic I420 frames: a bright square drifting over a
// mid-gray background.
type MockSource struct {
	width  int
	height int
	fps    int

	frames *FramePool
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu        sync.RWMutex
	isRunning bool
	startTime time.Time
}

// NewMockSource creates a new mock source
func NewMockSource(width, height, fps, rotation int) *MockSource {
	return &MockSource{
		width:  width,
		height: height,
		fps:    fps,
		frames: NewFramePool(width, height, rotation, "mock"),
	}
}

// Start begins generating frames
func (m *MockSource) Start(ctx context.Context, sink Sink) error {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return fmt.Errorf("source already running")
	}
	m.isRunning = true
	m.startTime = time.Now()
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	slog.Info("mock source starting",
		"width", m.width,
		"height", m.height,
		"fps", m.fps,
	)

	m.wg.Add(1)
	go m.generateFrames(ctx, sink)
	return nil
}

// Stop stops the source
func (m *MockSource) Stop() error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()

	slog.Info("mock source stopped",
		"frames_emitted", m.frames.Produced(),
		"duration", time.Since(m.startTime),
	)
	return nil
}

// Stats returns source statistics
func (m *MockSource) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	produced := m.frames.Produced()
	var fpsReal float64
	if m.isRunning && produced > 0 {
		if elapsed := time.Since(m.startTime).Seconds(); elapsed > 0 {
			fpsReal = float64(produced) / elapsed
		}
	}

	return Stats{
		Source:      "mock",
		Resolution:  fmt.Sprintf("%dx%d", m.width, m.height),
		FrameCount:  produced,
		FPSTarget:   m.fps,
		FPSReal:     fpsReal,
		Outstanding: m.frames.Outstanding(),
		IsConnected: m.isRunning,
	}
}

func (m *MockSource) generateFrames(ctx context.Context, sink Sink) {
	defer m.wg.Done()

	frameDuration := time.Second / time.Duration(m.fps)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			n := m.frames.Produced()
			sink(m.frames.NewFrame(func(data []byte) {
				m.draw(data, int(n))
			}))
		}
	}
}

// draw paints frame n into an I420 buffer
func (m *MockSource) draw(data []byte, n int) {
	luma := m.width * m.height
	for i := 0; i < luma; i++ {
		data[i] = 128
	}
	for i := luma; i < len(data); i++ {
		data[i] = 128
	}

	side := min(m.width, m.height) / 3
	if side == 0 {
		return
	}
	span := m.width - side
	x0 := 0
	if span > 0 {
		x0 = (n * 4) % span
	}
	y0 := (m.height - side) / 2
	for y := y0; y < y0+side; y++ {
		row := data[y*m.width:]
		for x := x0; x < x0+side; x++ {
			row[x] = 235
		}
	}
}
