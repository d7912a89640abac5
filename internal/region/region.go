// Package region turns a detected face box into the model's input tensor.
package region

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/emotion-sensor/internal/types"
)

// Region is an owned copy of one face's pixels.
// It is scratch for a single face and must be released right after use.
type Region struct {
	Image *image.YCbCr
	Box   types.BoundingBox

	buf      *[]byte
	owner    *Extractor
	released atomic.Bool
}

// Release returns the region's buffer to its extractor's pool. Idempotent.
func (r *Region) Release() {
	if r == nil || !r.released.CompareAndSwap(false, true) {
		return
	}
	r.Image = nil
	r.owner.put(r.buf)
	atomic.AddInt64(&r.owner.live, -1)
}

// Extractor copies face regions out of frames and prepares model tensors.
// Safe for concurrent use by the per-face goroutines of one frame.
type Extractor struct {
	pool sync.Pool

	extracted uint64
	rejected  uint64
	failed    uint64
	live      int64
}

// NewExtractor creates an extractor with an empty buffer pool
func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) get(n int) *[]byte {
	if v := e.pool.Get(); v != nil {
		buf := v.(*[]byte)
		if cap(*buf) >= n {
			*buf = (*buf)[:n]
			return buf
		}
	}
	buf := make([]byte, n)
	return &buf
}

func (e *Extractor) put(buf *[]byte) {
	if buf != nil {
		e.pool.Put(buf)
	}
}

// Extract validates box against frame and copies only that sub-rectangle.
//
// Returns types.ErrInvalidRegion unless 0 <= left < right <= width and
// 0 <= top < bottom <= height. The copy is 4:4:4 so odd box offsets keep
// their own chroma samples.
func (e *Extractor) Extract(frame *image.YCbCr, box types.BoundingBox) (*Region, error) {
	bounds := frame.Bounds()
	if !box.Within(bounds.Dx(), bounds.Dy()) {
		atomic.AddUint64(&e.rejected, 1)
		return nil, fmt.Errorf("%w: box %s outside %dx%d frame",
			types.ErrInvalidRegion, box, bounds.Dx(), bounds.Dy())
	}

	w, h := box.Width(), box.Height()
	buf := e.get(3 * w * h)
	plane := *buf

	dst := &image.YCbCr{
		Y:              plane[: w*h : w*h],
		Cb:             plane[w*h : 2*w*h : 2*w*h],
		Cr:             plane[2*w*h : 3*w*h : 3*w*h],
		YStride:        w,
		CStride:        w,
		SubsampleRatio: image.YCbCrSubsampleRatio444,
		Rect:           image.Rect(0, 0, w, h),
	}

	for y := 0; y < h; y++ {
		sy := bounds.Min.Y + box.Top + y
		for x := 0; x < w; x++ {
			sx := bounds.Min.X + box.Left + x
			yi := frame.YOffset(sx, sy)
			ci := frame.COffset(sx, sy)
			di := y*w + x
			dst.Y[di] = frame.Y[yi]
			dst.Cb[di] = frame.Cb[ci]
			dst.Cr[di] = frame.Cr[ci]
		}
	}

	atomic.AddUint64(&e.extracted, 1)
	atomic.AddInt64(&e.live, 1)
	return &Region{Image: dst, Box: box, buf: buf, owner: e}, nil
}

// Stats contains extractor counters
type Stats struct {
	Extracted uint64 `json:"extracted"`
	Rejected  uint64 `json:"rejected"`
	Failed    uint64 `json:"failed"`
	// Live is the number of regions not yet released
	Live int64 `json:"live"`
}

// Stats returns a snapshot of the extractor counters
func (e *Extractor) Stats() Stats {
	return Stats{
		Extracted: atomic.LoadUint64(&e.extracted),
		Rejected:  atomic.LoadUint64(&e.rejected),
		Failed:    atomic.LoadUint64(&e.failed),
		Live:      atomic.LoadInt64(&e.live),
	}
}
