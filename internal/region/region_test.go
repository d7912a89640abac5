package region

import (
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/emotion-sensor/internal/types"
)

// gradientFrame builds a w x h I420 frame whose luma rises left to right.
func gradientFrame(t *testing.T, w, h int) *image.YCbCr {
	t.Helper()
	data := make([]byte, types.I420Size(w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			data[y*w+x] = byte(x * 255 / (w - 1))
		}
	}
	for i := w * h; i < len(data); i++ {
		data[i] = 128
	}
	img, err := types.NewFrame(data, w, h, 0, nil).YCbCr()
	require.NoError(t, err)
	return img
}

func TestExtractRejectsOutOfBounds(t *testing.T) {
	e := NewExtractor()
	frame := gradientFrame(t, 100, 100)

	boxes := []types.BoundingBox{
		{Left: -5, Top: 0, Right: 40, Bottom: 40},
		{Left: 0, Top: 0, Right: 101, Bottom: 40},
		{Left: 0, Top: 90, Right: 10, Bottom: 120},
		{Left: 30, Top: 30, Right: 30, Bottom: 50},
	}
	for _, box := range boxes {
		_, err := e.Extract(frame, box)
		assert.True(t, errors.Is(err, types.ErrInvalidRegion), box.String())
	}

	stats := e.Stats()
	assert.Equal(t, uint64(4), stats.Rejected)
	assert.Equal(t, int64(0), stats.Live)
}

func TestExtractCopiesSubRectangle(t *testing.T) {
	e := NewExtractor()
	frame := gradientFrame(t, 64, 48)
	box := types.BoundingBox{Left: 11, Top: 5, Right: 31, Bottom: 25}

	r, err := e.Extract(frame, box)
	require.NoError(t, err)
	defer r.Release()

	assert.Equal(t, 20, r.Image.Bounds().Dx())
	assert.Equal(t, 20, r.Image.Bounds().Dy())
	assert.Equal(t, frame.Y[frame.YOffset(11, 5)], r.Image.Y[0])
	assert.Equal(t, frame.Y[frame.YOffset(30, 24)], r.Image.Y[r.Image.YOffset(19, 19)])

	// owned copy: later writes to the frame do not show through
	before := r.Image.Y[0]
	frame.Y[frame.YOffset(11, 5)] = before + 1
	assert.Equal(t, before, r.Image.Y[0])

	assert.Equal(t, int64(1), e.Stats().Live)
}

func TestRegionReleaseIdempotent(t *testing.T) {
	e := NewExtractor()
	r, err := e.Extract(gradientFrame(t, 16, 16), types.BoundingBox{Left: 0, Top: 0, Right: 8, Bottom: 8})
	require.NoError(t, err)

	r.Release()
	r.Release()
	assert.Equal(t, int64(0), e.Stats().Live)

	_, err = Normalize(r)
	assert.Error(t, err)
}

func TestPrepareProducesNormalizedTensor(t *testing.T) {
	e := NewExtractor()
	frame := gradientFrame(t, 128, 96)

	dense, err := e.Prepare(frame, types.BoundingBox{Left: 10, Top: 10, Right: 90, Bottom: 90})
	require.NoError(t, err)
	assert.True(t, dense.Shape().Eq(types.TensorShape))

	values, err := types.TensorValues(dense)
	require.NoError(t, err)

	lo, hi := values[0], values[0]
	for _, v := range values {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
		lo = min(lo, v)
		hi = max(hi, v)
	}
	assert.Equal(t, float32(0), lo)
	assert.Equal(t, float32(1), hi)

	// left edge darker than right edge
	assert.Less(t, values[0], values[types.TensorSide-1])
	assert.Equal(t, int64(0), e.Stats().Live)
}

func TestPrepareFlatRegionIsZero(t *testing.T) {
	data := make([]byte, types.I420Size(32, 32))
	for i := range data {
		data[i] = 90
	}
	frame, err := types.NewFrame(data, 32, 32, 0, nil).YCbCr()
	require.NoError(t, err)

	dense, err := NewExtractor().Prepare(frame, types.BoundingBox{Left: 0, Top: 0, Right: 32, Bottom: 32})
	require.NoError(t, err)

	values, _ := types.TensorValues(dense)
	for _, v := range values {
		assert.Equal(t, float32(0), v)
	}
}

func TestPrepareSmallRegionUpscales(t *testing.T) {
	dense, err := NewExtractor().Prepare(gradientFrame(t, 64, 64), types.BoundingBox{Left: 3, Top: 3, Right: 9, Bottom: 9})
	require.NoError(t, err)
	assert.True(t, dense.Shape().Eq(types.TensorShape))
}

func TestMinMax(t *testing.T) {
	assert.Equal(t, []float32{0, 0.5, 1}, minMax([]uint8{10, 20, 30}))
	assert.Equal(t, []float32{0, 0}, minMax([]uint8{7, 7}))
	assert.Empty(t, minMax(nil))
}
