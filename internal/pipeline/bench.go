package pipeline

import (
	"math"
	"runtime"
	"sync"
	"time"
)

// Benchmark keeps a rolling window of per-frame processing times and heap usage.
type Benchmark struct {
	mu        sync.Mutex
	durations []time.Duration
	next      int
	filled    bool
	frames    uint64

	memSampleEvery uint64
	heapBytes      uint64
	peakHeapBytes  uint64
}

// NewBenchmark creates a benchmark with a window of the given size
func NewBenchmark(window int) *Benchmark {
	if window <= 0 {
		window = 1
	}
	return &Benchmark{
		durations:      make([]time.Duration, window),
		memSampleEvery: 30,
	}
}

// Record adds one frame's processing time. Heap usage is sampled every
// memSampleEvery frames since ReadMemStats stops the world.
func (b *Benchmark) Record(d time.Duration) {
	b.mu.Lock()
	b.durations[b.next] = d
	b.next = (b.next + 1) % len(b.durations)
	if b.next == 0 {
		b.filled = true
	}
	b.frames++
	sample := b.frames%b.memSampleEvery == 1
	b.mu.Unlock()

	if sample {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)

		b.mu.Lock()
		b.heapBytes = ms.HeapAlloc
		if ms.HeapAlloc > b.peakHeapBytes {
			b.peakHeapBytes = ms.HeapAlloc
		}
		b.mu.Unlock()
	}
}

// BenchmarkMetrics summarizes the window
type BenchmarkMetrics struct {
	Frames             uint64  `json:"frames"`
	Window             int     `json:"window"`
	AvgProcessingMS    float64 `json:"avg_processing_ms"`
	StdDevProcessingMS float64 `json:"stddev_processing_ms"`
	MaxProcessingMS    float64 `json:"max_processing_ms"`
	HeapMB             float64 `json:"heap_mb"`
	PeakHeapMB         float64 `json:"peak_heap_mb"`
}

// Metrics returns the current summary
func (b *Benchmark) Metrics() BenchmarkMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.next
	if b.filled {
		n = len(b.durations)
	}

	m := BenchmarkMetrics{
		Frames:     b.frames,
		Window:     n,
		HeapMB:     float64(b.heapBytes) / (1024 * 1024),
		PeakHeapMB: float64(b.peakHeapBytes) / (1024 * 1024),
	}
	if n == 0 {
		return m
	}

	var sum, maxD float64
	for _, d := range b.durations[:n] {
		ms := float64(d) / float64(time.Millisecond)
		sum += ms
		maxD = math.Max(maxD, ms)
	}
	mean := sum / float64(n)

	var sq float64
	for _, d := range b.durations[:n] {
		diff := float64(d)/float64(time.Millisecond) - mean
		sq += diff * diff
	}

	m.AvgProcessingMS = mean
	m.StdDevProcessingMS = math.Sqrt(sq / float64(n))
	m.MaxProcessingMS = maxD
	return m
}

// Reset clears the window and the peak heap figure
func (b *Benchmark) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.durations {
		b.durations[i] = 0
	}
	b.next, b.filled, b.frames = 0, false, 0
	b.heapBytes, b.peakHeapBytes = 0, 0
}
