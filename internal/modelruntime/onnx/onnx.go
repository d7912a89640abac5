// Package onnx implements modelruntime.Loader on ONNX Runtime.
package onnx

import (
	"fmt"
	"log/slog"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/e7canasta/emotion-sensor/internal/modelruntime"
	"github.com/e7canasta/emotion-sensor/internal/types"
)

// Options describes the model's I/O binding
type Options struct {
	LibraryPath string  // onnxruntime shared library
	InputName   string  // graph input name
	OutputName  string  // graph output name
	InputShape  []int64 // default: 1x1x48x48
	OutputSize  int64   // default: 7
}

// Runtime owns the process-wide ONNX Runtime environment
type Runtime struct {
	opts Options

	once    sync.Once
	initErr error
	ready   bool
}

// NewRuntime creates a runtime. The environment is initialized on first Load.
func NewRuntime(opts Options) *Runtime {
	if len(opts.InputShape) == 0 {
		opts.InputShape = []int64{1, 1, types.TensorSide, types.TensorSide}
	}
	if opts.OutputSize == 0 {
		opts.OutputSize = int64(len(types.Labels))
	}
	return &Runtime{opts: opts}
}

func (r *Runtime) init() error {
	r.once.Do(func() {
		ort.SetSharedLibraryPath(r.opts.LibraryPath)
		if err := ort.InitializeEnvironment(); err != nil {
			r.initErr = fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
			return
		}
		r.ready = true
		slog.Info("onnx runtime initialized", "library", r.opts.LibraryPath)
	})
	return r.initErr
}

// Load implements modelruntime.Loader
func (r *Runtime) Load(path string) (modelruntime.Model, error) {
	if err := r.init(); err != nil {
		return nil, err
	}

	inputSize := int64(1)
	for _, d := range r.opts.InputShape {
		inputSize *= d
	}

	input, err := ort.NewTensor(ort.NewShape(r.opts.InputShape...), make([]float32, inputSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, r.opts.OutputSize))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		path,
		[]string{r.opts.InputName},
		[]string{r.opts.OutputName},
		[]ort.Value{input},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	slog.Info("onnx model loaded",
		"path", path,
		"input", r.opts.InputName,
		"output", r.opts.OutputName,
	)

	return &model{session: session, input: input, output: output}, nil
}

// Close tears the environment down. Models must be closed first.
func (r *Runtime) Close() error {
	if !r.ready {
		return nil
	}
	r.ready = false
	return ort.DestroyEnvironment()
}

// model binds one session to its input/output tensors.
// The tensors are shared, so forward passes are serialized.
type model struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	closed  bool
}

func (m *model) Forward(in []float32) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("model closed")
	}

	dst := m.input.GetData()
	if len(in) != len(dst) {
		return nil, fmt.Errorf("input has %d values, model expects %d", len(in), len(dst))
	}
	copy(dst, in)

	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	out := m.output.GetData()
	result := make([]float32, len(out))
	copy(result, out)
	return result, nil
}

func (m *model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	err := m.session.Destroy()
	m.input.Destroy()
	m.output.Destroy()
	return err
}
