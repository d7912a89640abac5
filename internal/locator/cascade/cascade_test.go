package cascade

import (
	"context"
	"testing"

	pigo "github.com/esimov/pigo/core"
	"github.com/stretchr/testify/assert"

	"github.com/e7canasta/emotion-sensor/internal/locator"
	"github.com/e7canasta/emotion-sensor/internal/types"
)

func TestConvertCentreToBox(t *testing.T) {
	faces := convert([]pigo.Detection{
		{Row: 100, Col: 200, Scale: 80, Q: 12.5},
		{Row: 10, Col: 10, Scale: 40, Q: 1.0},
		{Row: 20, Col: 15, Scale: 60, Q: 9.0},
	}, 5.0)

	assert.Len(t, faces, 2)
	assert.Equal(t, types.BoundingBox{Left: 160, Top: 60, Right: 240, Bottom: 140}, faces[0].Box)
	assert.Equal(t, float32(12.5), faces[0].Score)

	// boxes crossing the frame edge are passed through; the region stage rejects them
	assert.Equal(t, -15, faces[1].Box.Left)
}

func TestNewRejectsGarbageCascade(t *testing.T) {
	_, err := New([]byte{0x01, 0x02}, DefaultParams())
	assert.Error(t, err)
}

func TestDetectRejectsShortPlane(t *testing.T) {
	d := &Detector{params: DefaultParams()}
	_, err := d.Detect(context.Background(), locator.Input{Pixels: make([]byte, 10), Width: 64, Height: 48})
	assert.Error(t, err)
}

func TestDetectHonorsCancelledContext(t *testing.T) {
	d := &Detector{params: DefaultParams()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Detect(ctx, locator.Input{})
	assert.ErrorIs(t, err, context.Canceled)
}
