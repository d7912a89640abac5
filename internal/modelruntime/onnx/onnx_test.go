package onnx

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/e7canasta/emotion-sensor/internal/types"
)

func TestNewRuntimeDefaults(t *testing.T) {
	r := NewRuntime(Options{LibraryPath: "libonnxruntime.so", InputName: "input", OutputName: "output"})

	assert.Equal(t, []int64{1, 1, types.TensorSide, types.TensorSide}, r.opts.InputShape)
	assert.Equal(t, int64(7), r.opts.OutputSize)
}

func TestCloseWithoutInit(t *testing.T) {
	r := NewRuntime(Options{})
	assert.NoError(t, r.Close())
}
