// Package modelruntime defines the boundary to the inference engine and
// prepares model artifacts on local storage.
package modelruntime

// Model is a loaded model ready for forward passes.
// Implementations must be safe for concurrent Forward calls.
type Model interface {
	// Forward runs one inference over a flat NCHW input and returns the flat output.
	Forward(input []float32) ([]float32, error)
	// Close releases the model. Forward must not be called afterwards.
	Close() error
}

// Loader loads models from local paths
type Loader interface {
	Load(path string) (Model, error)
}

// LoaderFunc adapts a function to Loader
type LoaderFunc func(path string) (Model, error)

// Load implements Loader
func (f LoaderFunc) Load(path string) (Model, error) {
	return f(path)
}
