package types

import (
	"fmt"
	"image"
	"sync/atomic"
	"time"
)

// Frame is one captured camera image in planar I420 layout (Y plane, then U, then V).
//
// A Frame is exclusively owned by whoever holds it. Release MUST be called exactly
// once on every path; the first call hands the buffer back to the source, later
// calls are no-ops that report false.
type Frame struct {
	// Seq is the monotonic sequence number assigned by the source
	Seq uint64
	// Timestamp is when the frame was captured
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Rotation in degrees (0, 90, 180, 270) the detector must apply
	Rotation int
	// Data contains the I420 planes
	Data []byte
	// SourceStream identifies the capture source
	SourceStream string
	// TraceID is a unique identifier for tracing one frame across the pipeline
	TraceID string
	// Generation is the detection generation the frame was admitted under
	Generation uint64

	released  atomic.Bool
	onRelease func(*Frame)
}

// NewFrame wraps an I420 buffer. onRelease runs once, on the first Release call.
func NewFrame(data []byte, width, height, rotation int, onRelease func(*Frame)) *Frame {
	return &Frame{
		Timestamp: time.Now(),
		Width:     width,
		Height:    height,
		Rotation:  rotation,
		Data:      data,
		onRelease: onRelease,
	}
}

// Release hands the frame back to its source.
// Returns true only for the call that actually released it.
func (f *Frame) Release() bool {
	if f == nil || !f.released.CompareAndSwap(false, true) {
		return false
	}
	if f.onRelease != nil {
		f.onRelease(f)
	}
	return true
}

// Released reports whether Release already ran.
func (f *Frame) Released() bool {
	return f.released.Load()
}

// I420Size returns the byte length of an I420 image with the given dimensions.
func I420Size(width, height int) int {
	cw, ch := (width+1)/2, (height+1)/2
	return width*height + 2*cw*ch
}

// YCbCr views the frame as an image without copying the planes.
// Returns ErrFrameDecode if the buffer is shorter than the dimensions imply.
func (f *Frame) YCbCr() (*image.YCbCr, error) {
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrFrameDecode, f.Width, f.Height)
	}
	need := I420Size(f.Width, f.Height)
	if len(f.Data) < need {
		return nil, fmt.Errorf("%w: buffer has %d bytes, %dx%d I420 needs %d",
			ErrFrameDecode, len(f.Data), f.Width, f.Height, need)
	}

	ySize := f.Width * f.Height
	cw, ch := (f.Width+1)/2, (f.Height+1)/2
	cSize := cw * ch

	return &image.YCbCr{
		Y:              f.Data[:ySize:ySize],
		Cb:             f.Data[ySize : ySize+cSize : ySize+cSize],
		Cr:             f.Data[ySize+cSize : ySize+2*cSize : ySize+2*cSize],
		YStride:        f.Width,
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, f.Width, f.Height),
	}, nil
}

// Luma returns the Y plane, which is the grayscale image the detector consumes.
func (f *Frame) Luma() ([]byte, error) {
	img, err := f.YCbCr()
	if err != nil {
		return nil, err
	}
	return img.Y, nil
}
