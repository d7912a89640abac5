// Package cascade implements locator.Detector with the pigo pixel-intensity
// cascade classifier.
package cascade

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	pigo "github.com/esimov/pigo/core"

	"github.com/e7canasta/emotion-sensor/internal/locator"
	"github.com/e7canasta/emotion-sensor/internal/types"
)

// Params contains pigo detection parameters
type Params struct {
	MinSize      int     // Minimum face size (pixels)
	MaxSize      int     // Maximum face size (pixels)
	ShiftFactor  float64 // Shift factor for detection window
	ScaleFactor  float64 // Scale factor for image pyramid
	IoUThreshold float64 // IoU threshold for clustering
	MinQuality   float32 // Minimum quality score
}

// DefaultParams returns parameters tuned for a 640x480 camera
func DefaultParams() Params {
	return Params{
		MinSize:      40,
		MaxSize:      1000,
		ShiftFactor:  0.1,
		ScaleFactor:  1.1,
		IoUThreshold: 0.2,
		MinQuality:   5.0,
	}
}

// Detector runs a pigo cascade over luma planes
type Detector struct {
	classifier *pigo.Pigo
	params     Params
}

// Load reads and unpacks a cascade file
func Load(path string, params Params) (*Detector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cascade file: %w", err)
	}
	d, err := New(data, params)
	if err != nil {
		return nil, err
	}

	slog.Info("face detector initialized",
		"cascade", path,
		"min_size", params.MinSize,
		"min_quality", params.MinQuality,
	)
	return d, nil
}

// New unpacks a cascade from memory
func New(cascade []byte, params Params) (d *Detector, err error) {
	// Unpack indexes into the packet without bounds checks
	defer func() {
		if r := recover(); r != nil {
			d, err = nil, fmt.Errorf("failed to unpack cascade: malformed packet: %v", r)
		}
	}()

	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack cascade: %w", err)
	}
	return &Detector{classifier: classifier, params: params}, nil
}

// Detect implements locator.Detector
func (d *Detector) Detect(ctx context.Context, in locator.Input) ([]types.Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(in.Pixels) < in.Width*in.Height {
		return nil, fmt.Errorf("luma plane has %d bytes, need %d", len(in.Pixels), in.Width*in.Height)
	}

	cParams := pigo.CascadeParams{
		MinSize:     d.params.MinSize,
		MaxSize:     d.params.MaxSize,
		ShiftFactor: d.params.ShiftFactor,
		ScaleFactor: d.params.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: in.Pixels,
			Rows:   in.Height,
			Cols:   in.Width,
			Dim:    in.Width,
		},
	}

	// pigo takes the rotation as a fraction of a full turn
	angle := float64(in.Rotation) / 360.0

	dets := d.classifier.RunCascade(cParams, angle)
	dets = d.classifier.ClusterDetections(dets, d.params.IoUThreshold)

	return convert(dets, d.params.MinQuality), nil
}

// convert turns pigo detections (centre + size) into boxes, dropping low quality ones.
func convert(dets []pigo.Detection, minQuality float32) []types.Face {
	faces := make([]types.Face, 0, len(dets))
	for _, det := range dets {
		if det.Q < minQuality {
			continue
		}
		half := det.Scale / 2
		faces = append(faces, types.Face{
			Box: types.BoundingBox{
				Left:   det.Col - half,
				Top:    det.Row - half,
				Right:  det.Col - half + det.Scale,
				Bottom: det.Row - half + det.Scale,
			},
			Score: det.Q,
		})
	}
	return faces
}
