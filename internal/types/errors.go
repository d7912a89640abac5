package types

import "errors"

// Error kinds. Wrap with fmt.Errorf("...: %w", ErrX) and test with errors.Is.
var (
	// ErrModelLoad is fatal: the classifier cannot be constructed without a model
	ErrModelLoad = errors.New("model load failure")
	// ErrDetector means face detection failed for one frame
	ErrDetector = errors.New("detector failure")
	// ErrInvalidRegion means one bounding box falls outside its frame
	ErrInvalidRegion = errors.New("invalid region")
	// ErrInference means the forward pass failed for one face
	ErrInference = errors.New("inference failure")
	// ErrFrameDecode means one frame's buffer could not be interpreted
	ErrFrameDecode = errors.New("frame decode failure")
)

// IsRecoverable reports whether err is scoped to one face or one frame.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrDetector) ||
		errors.Is(err, ErrInvalidRegion) ||
		errors.Is(err, ErrInference) ||
		errors.Is(err, ErrFrameDecode)
}

// Kind returns a short name for the error kind, for logs and error messages.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrModelLoad):
		return "model_load"
	case errors.Is(err, ErrDetector):
		return "detector"
	case errors.Is(err, ErrInvalidRegion):
		return "invalid_region"
	case errors.Is(err, ErrInference):
		return "inference"
	case errors.Is(err, ErrFrameDecode):
		return "frame_decode"
	default:
		return "unknown"
	}
}
