package capture

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/emotion-sensor/internal/types"
)

// TestFramePoolRecyclesOnRelease validates outstanding frames drop to zero
// once every frame is released.
func TestFramePoolRecyclesOnRelease(t *testing.T) {
	p := NewFramePool(8, 6, 90, "test")
	assert.Equal(t, types.I420Size(8, 6), p.Size())

	a := p.NewFrame(func(d []byte) { d[0] = 1 })
	b := p.NewFrame(func(d []byte) { d[0] = 2 })

	assert.Equal(t, uint64(1), a.Seq)
	assert.Equal(t, uint64(2), b.Seq)
	assert.Equal(t, 90, a.Rotation)
	assert.NotEqual(t, a.TraceID, b.TraceID)
	assert.Equal(t, int64(2), p.Outstanding())

	assert.True(t, a.Release())
	assert.False(t, a.Release())
	b.Release()
	assert.Equal(t, int64(0), p.Outstanding())
}

// TestMockSourceEmitsI420Frames validates the mock source produces decodable
// frames in sequence and stops cleanly.
func TestMockSourceEmitsI420Frames(t *testing.T) {
	src := NewMockSource(64, 48, 100, 0)

	var mu sync.Mutex
	var frames []*types.Frame
	require.NoError(t, src.Start(context.Background(), func(f *types.Frame) {
		mu.Lock()
		frames = append(frames, f)
		mu.Unlock()
	}))
	assert.Error(t, src.Start(context.Background(), func(*types.Frame) {}), "already running")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, src.Stop())
	require.NoError(t, src.Stop(), "idempotent")

	mu.Lock()
	defer mu.Unlock()

	for i, f := range frames {
		assert.Equal(t, uint64(i+1), f.Seq)
		img, err := f.YCbCr()
		require.NoError(t, err)
		assert.Equal(t, 64, img.Bounds().Dx())
	}

	luma, err := frames[0].Luma()
	require.NoError(t, err)
	assert.Contains(t, luma, byte(235), "square drawn")

	stats := src.Stats()
	assert.Equal(t, int64(len(frames)), stats.Outstanding)
	for _, f := range frames {
		f.Release()
	}
	assert.Zero(t, src.Stats().Outstanding)

	t.Logf("✅ %d mock frames captured and released", len(frames))
}

// TestFrameFromImage validates a still image converts to an I420 frame whose
// luma matches the source gray levels.
func TestFrameFromImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 5, 3))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 10)
	}

	f := FrameFromImage(img, 7)

	assert.Equal(t, uint64(7), f.Seq)
	assert.Equal(t, 5, f.Width)
	assert.Equal(t, 3, f.Height)
	require.Len(t, f.Data, types.I420Size(5, 3))

	ycc, err := f.YCbCr()
	require.NoError(t, err)
	assert.Equal(t, uint8(0), ycc.Y[0])
	assert.Equal(t, uint8(140), ycc.Y[14])
	assert.Equal(t, uint8(128), ycc.Cb[0], "gray has neutral chroma")
	assert.True(t, f.Release())
}
