package capture

import (
	"image"
	"image/color"

	"github.com/google/uuid"

	"github.com/e7canasta/emotion-sensor/internal/types"
)

// FrameFromImage converts a decoded still image into an I420 frame with
// 2x2 chroma averaging. The frame owns its buffer.
func FrameFromImage(img image.Image, seq uint64) *types.Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	cw, ch := (w+1)/2, (h+1)/2

	data := make([]byte, types.I420Size(w, h))
	yPlane := data[:w*h]
	uPlane := data[w*h : w*h+cw*ch]
	vPlane := data[w*h+cw*ch:]

	for cy := 0; cy < ch; cy++ {
		for cx := 0; cx < cw; cx++ {
			var sumCb, sumCr, n int
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					x, y := cx*2+dx, cy*2+dy
					if x >= w || y >= h {
						continue
					}
					c := color.YCbCrModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.YCbCr)
					yPlane[y*w+x] = c.Y
					sumCb += int(c.Cb)
					sumCr += int(c.Cr)
					n++
				}
			}
			uPlane[cy*cw+cx] = uint8(sumCb / n)
			vPlane[cy*cw+cx] = uint8(sumCr / n)
		}
	}

	frame := types.NewFrame(data, w, h, 0, nil)
	frame.Seq = seq
	frame.SourceStream = "still"
	frame.TraceID = uuid.New().String()
	return frame
}
