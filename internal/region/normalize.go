package region

import (
	"fmt"
	"image"
	"image/color"
	"sync/atomic"

	"github.com/nfnt/resize"
	"gorgonia.org/tensor"

	"github.com/e7canasta/emotion-sensor/internal/types"
)

// Normalize resizes a region to 48x48 (bilinear), converts it to grayscale and
// min-max scales intensities into [0,1]. A flat region maps to all zeros.
func Normalize(r *Region) (*tensor.Dense, error) {
	if r == nil || r.Image == nil {
		return nil, fmt.Errorf("%w: region already released", types.ErrInvalidRegion)
	}

	resized := resize.Resize(types.TensorSide, types.TensorSide, r.Image, resize.Bilinear)
	gray := toGray(resized)

	return types.NewNormalizedTensor(minMax(gray.Pix))
}

// toGray converts any image to a single-channel image with origin at 0,0.
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			gray.Pix[y*gray.Stride+x] = c.Y
		}
	}
	return gray
}

func minMax(pix []uint8) []float32 {
	out := make([]float32, len(pix))
	if len(pix) == 0 {
		return out
	}

	lo, hi := pix[0], pix[0]
	for _, p := range pix[1:] {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	if hi == lo {
		return out
	}

	span := float32(hi - lo)
	for i, p := range pix {
		out[i] = float32(p-lo) / span
	}
	return out
}

// Prepare runs the whole region chain for one face: validate, extract,
// resize, gray, normalize. The region is released before returning on every
// path, and a panic anywhere in the chain comes back as an error.
func (e *Extractor) Prepare(frame *image.YCbCr, box types.BoundingBox) (t *tensor.Dense, err error) {
	r, err := e.Extract(frame, box)
	if err != nil {
		return nil, err
	}
	defer r.Release()

	defer func() {
		if p := recover(); p != nil {
			atomic.AddUint64(&e.failed, 1)
			t, err = nil, fmt.Errorf("%w: preparing %s: %v", types.ErrInvalidRegion, box, p)
		}
	}()

	t, err = Normalize(r)
	if err != nil {
		atomic.AddUint64(&e.failed, 1)
		return nil, err
	}
	return t, nil
}
