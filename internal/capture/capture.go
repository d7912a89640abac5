// Package capture produces I420 camera frames and hands them to a sink.
//
// Frame buffers come from a pool owned by the source; releasing a frame
// returns its buffer. Sources never block on the sink.
package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/emotion-sensor/internal/types"
)

// Sink receives captured frames. It must not block and takes ownership of the frame.
type Sink func(frame *types.Frame)

// Source is a camera frame producer
type Source interface {
	Start(ctx context.Context, sink Sink) error
	Stop() error
	Stats() Stats
}

// Stats contains capture statistics
type Stats struct {
	Source      string  `json:"source"`
	Resolution  string  `json:"resolution"`
	FrameCount  uint64  `json:"frame_count"`
	FPSTarget   int     `json:"fps_target"`
	FPSReal     float64 `json:"fps_real"`
	Outstanding int64   `json:"outstanding_frames"`
	Reconnects  uint32  `json:"reconnects"`
	Errors      uint64  `json:"errors"`
	IsConnected bool    `json:"is_connected"`
}

// FramePool recycles I420 buffers of one size.
type FramePool struct {
	width, height, rotation int
	source                  string
	size                    int

	pool        sync.Pool
	seq         uint64
	outstanding atomic.Int64
}

// NewFramePool creates a pool for width x height I420 frames
func NewFramePool(width, height, rotation int, source string) *FramePool {
	size := types.I420Size(width, height)
	p := &FramePool{
		width:    width,
		height:   height,
		rotation: rotation,
		source:   source,
		size:     size,
	}
	p.pool.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	return p
}

// Size returns the byte length of one frame
func (p *FramePool) Size() int {
	return p.size
}

// NewFrame returns a frame backed by a pooled buffer. fill writes the planes.
// The buffer goes back to the pool when the frame is released.
func (p *FramePool) NewFrame(fill func(data []byte)) *types.Frame {
	buf := p.pool.Get().(*[]byte)
	fill(*buf)
	p.outstanding.Add(1)

	frame := types.NewFrame(*buf, p.width, p.height, p.rotation, func(*types.Frame) {
		p.outstanding.Add(-1)
		p.pool.Put(buf)
	})
	frame.Seq = atomic.AddUint64(&p.seq, 1)
	frame.Timestamp = time.Now()
	frame.SourceStream = p.source
	frame.TraceID = uuid.New().String()
	return frame
}

// Produced returns how many frames the pool handed out
func (p *FramePool) Produced() uint64 {
	return atomic.LoadUint64(&p.seq)
}

// Outstanding returns how many frames are not yet released
func (p *FramePool) Outstanding() int64 {
	return p.outstanding.Load()
}
