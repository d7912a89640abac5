// Package classifier maps normalized face tensors to ranked emotion scores.
package classifier

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gorgonia.org/tensor"

	"github.com/e7canasta/emotion-sensor/internal/modelruntime"
	"github.com/e7canasta/emotion-sensor/internal/types"
)

// Output tells the decoder what the model's last layer emits
type Output string

const (
	// OutputProbabilities means scores are used as is
	OutputProbabilities Output = "probabilities"
	// OutputLogits means scores go through softmax first
	OutputLogits Output = "logits"
)

// Classifier owns the active model handle.
//
// Classify may run concurrently (one call per face). SwitchModel swaps the
// handle under a write lock, so the old handle is closed only after every
// in-flight forward pass has returned.
type Classifier struct {
	loader modelruntime.Loader
	output Output

	mu    sync.RWMutex
	model modelruntime.Model
	path  string

	classified uint64
	failed     uint64
	latencyNS  uint64
}

// New loads and verifies the model at path.
// Any failure is wrapped in types.ErrModelLoad and is fatal to construction.
func New(loader modelruntime.Loader, path string, output Output) (*Classifier, error) {
	if output == "" {
		output = OutputProbabilities
	}
	if output != OutputProbabilities && output != OutputLogits {
		return nil, fmt.Errorf("%w: unknown output kind %q", types.ErrModelLoad, output)
	}

	model, err := loadVerified(loader, path)
	if err != nil {
		return nil, err
	}

	return &Classifier{
		loader: loader,
		output: output,
		model:  model,
		path:   path,
	}, nil
}

// loadVerified loads a model and pushes one zero tensor through it.
func loadVerified(loader modelruntime.Loader, path string) (modelruntime.Model, error) {
	model, err := loader.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", types.ErrModelLoad, path, err)
	}

	out, err := model.Forward(make([]float32, types.TensorShape.TotalSize()))
	if err == nil && len(out) != len(types.Labels) {
		err = fmt.Errorf("output has %d values, want %d", len(out), len(types.Labels))
	}
	if err != nil {
		model.Close()
		return nil, fmt.Errorf("%w: verify %s: %v", types.ErrModelLoad, path, err)
	}

	slog.Info("model verification successful", "path", path)
	return model, nil
}

// Classify runs one forward pass and returns all seven scores, highest first.
// The input tensor is read, never retained or modified.
// Failures wrap types.ErrInference.
func (c *Classifier) Classify(t *tensor.Dense) ([]types.EmotionScore, error) {
	values, err := types.TensorValues(t)
	if err != nil {
		atomic.AddUint64(&c.failed, 1)
		return nil, fmt.Errorf("%w: %v", types.ErrInference, err)
	}

	start := time.Now()
	out, err := c.forward(values)
	atomic.AddUint64(&c.latencyNS, uint64(time.Since(start)))
	if err != nil {
		atomic.AddUint64(&c.failed, 1)
		return nil, fmt.Errorf("%w: %v", types.ErrInference, err)
	}

	scores, err := Decode(out, c.output)
	if err != nil {
		atomic.AddUint64(&c.failed, 1)
		return nil, fmt.Errorf("%w: %v", types.ErrInference, err)
	}

	atomic.AddUint64(&c.classified, 1)
	return scores, nil
}

func (c *Classifier) forward(values []float32) (out []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic in forward pass: %v", r)
		}
	}()

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model.Forward(values)
}

// Decode maps a flat output vector positionally onto the label set and sorts
// it by confidence, highest first. Ties keep label order.
func Decode(out []float32, output Output) ([]types.EmotionScore, error) {
	if len(out) != len(types.Labels) {
		return nil, fmt.Errorf("output has %d values, want %d", len(out), len(types.Labels))
	}
	for i, v := range out {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("output[%d] is not finite", i)
		}
	}

	probs := out
	if output == OutputLogits {
		probs = softmax(out)
	}

	scores := make([]types.EmotionScore, len(types.Labels))
	for i, label := range types.Labels {
		scores[i] = types.EmotionScore{Label: label, Confidence: probs[i]}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Confidence > scores[j].Confidence
	})
	return scores, nil
}

func softmax(logits []float32) []float32 {
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}

	exps := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		exps[i] = math.Exp(float64(v - maxLogit))
		sum += exps[i]
	}

	probs := make([]float32, len(logits))
	for i := range exps {
		probs[i] = float32(exps[i] / sum)
	}
	return probs
}

// SwitchModel loads and verifies the model at path and makes it active.
// On failure the current model stays active. Switching to the active path is a no-op.
func (c *Classifier) SwitchModel(path string) error {
	c.mu.RLock()
	current := c.path
	c.mu.RUnlock()
	if path == current {
		return nil
	}

	next, err := loadVerified(c.loader, path)
	if err != nil {
		slog.Warn("model switch failed, keeping current model",
			"current", current,
			"requested", path,
			"error", err,
		)
		return err
	}

	c.mu.Lock()
	old := c.model
	c.model = next
	c.path = path
	c.mu.Unlock()

	if err := old.Close(); err != nil {
		slog.Warn("failed to close previous model", "path", current, "error", err)
	}

	slog.Info("model switched", "from", current, "to", path)
	return nil
}

// CurrentModel returns the active model path
func (c *Classifier) CurrentModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// Close releases the active model
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.model == nil {
		return nil
	}
	err := c.model.Close()
	c.model = nil
	return err
}

// Stats contains classifier counters
type Stats struct {
	Model        string  `json:"model"`
	Classified   uint64  `json:"classified"`
	Failed       uint64  `json:"failed"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

// Stats returns a snapshot of the classifier counters
func (c *Classifier) Stats() Stats {
	classified := atomic.LoadUint64(&c.classified)
	failed := atomic.LoadUint64(&c.failed)

	var avg float64
	if calls := classified + failed; calls > 0 {
		avg = float64(atomic.LoadUint64(&c.latencyNS)) / float64(calls) / 1e6
	}

	return Stats{
		Model:        c.CurrentModel(),
		Classified:   classified,
		Failed:       failed,
		AvgLatencyMS: avg,
	}
}
