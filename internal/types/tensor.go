package types

import (
	"fmt"

	"gorgonia.org/tensor"
)

// TensorSide is the square input size of the emotion model.
const TensorSide = 48

// TensorShape is the NCHW shape of a NormalizedTensor: one grayscale 48x48 image.
var TensorShape = tensor.Shape{1, 1, TensorSide, TensorSide}

// NewNormalizedTensor wraps 48*48 float32 values in [0,1] as a [1,1,48,48] tensor.
func NewNormalizedTensor(values []float32) (*tensor.Dense, error) {
	if len(values) != TensorShape.TotalSize() {
		return nil, fmt.Errorf("tensor needs %d values, got %d", TensorShape.TotalSize(), len(values))
	}
	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(TensorShape.Clone()...),
		tensor.WithBacking(values),
	), nil
}

// TensorValues returns the backing float32 slice of a NormalizedTensor.
func TensorValues(t *tensor.Dense) ([]float32, error) {
	if t == nil {
		return nil, fmt.Errorf("nil tensor")
	}
	if !t.Shape().Eq(TensorShape) {
		return nil, fmt.Errorf("tensor shape %v, want %v", t.Shape(), TensorShape)
	}
	values, ok := t.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("tensor dtype %v, want float32", t.Dtype())
	}
	return values, nil
}
