package classifier

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/emotion-sensor/internal/modelruntime"
	"github.com/e7canasta/emotion-sensor/internal/types"
)

var happyScores = []float32{0.05, 0.01, 0.02, 0.81, 0.06, 0.03, 0.02}

type fakeModel struct {
	out     []float32
	err     error
	closed  atomic.Bool
	forward atomic.Int32
}

func (m *fakeModel) Forward(in []float32) ([]float32, error) {
	m.forward.Add(1)
	if m.closed.Load() {
		return nil, errors.New("forward on closed model")
	}
	if m.err != nil {
		return nil, m.err
	}
	return append([]float32(nil), m.out...), nil
}

func (m *fakeModel) Close() error {
	m.closed.Store(true)
	return nil
}

func loaderOf(models map[string]*fakeModel) modelruntime.Loader {
	return modelruntime.LoaderFunc(func(path string) (modelruntime.Model, error) {
		m, ok := models[path]
		if !ok {
			return nil, errors.New("no such file")
		}
		return m, nil
	})
}

func zeroTensor(t *testing.T) []float32 {
	t.Helper()
	return make([]float32, types.TensorSide*types.TensorSide)
}

func TestClassifyHappyFace(t *testing.T) {
	c, err := New(loaderOf(map[string]*fakeModel{"cnn": {out: happyScores}}), "cnn", OutputProbabilities)
	require.NoError(t, err)

	dense, err := types.NewNormalizedTensor(zeroTensor(t))
	require.NoError(t, err)

	scores, err := c.Classify(dense)
	require.NoError(t, err)
	require.Len(t, scores, 7)
	assert.Equal(t, types.EmotionScore{Label: types.LabelHappy, Confidence: 0.81}, scores[0])
	assert.Equal(t, types.LabelNeutral, scores[1].Label)

	for i := 1; i < len(scores); i++ {
		assert.GreaterOrEqual(t, scores[i-1].Confidence, scores[i].Confidence)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c, err := New(loaderOf(map[string]*fakeModel{"cnn": {out: []float32{0.2, 0.1, 0.2, 0.1, 0.2, 0.1, 0.1}}}), "cnn", "")
	require.NoError(t, err)
	dense, _ := types.NewNormalizedTensor(zeroTensor(t))

	first, err := c.Classify(dense)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := c.Classify(dense)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	// ties keep label order
	assert.Equal(t, types.LabelAngry, first[0].Label)
	assert.Equal(t, types.LabelFear, first[1].Label)
	assert.Equal(t, types.LabelNeutral, first[2].Label)
}

func TestClassifyDoesNotMutateInput(t *testing.T) {
	c, err := New(loaderOf(map[string]*fakeModel{"cnn": {out: happyScores}}), "cnn", "")
	require.NoError(t, err)

	values := zeroTensor(t)
	values[100] = 0.25
	dense, _ := types.NewNormalizedTensor(values)

	_, err = c.Classify(dense)
	require.NoError(t, err)
	assert.Equal(t, float32(0.25), values[100])
}

func TestNewModelLoadFailures(t *testing.T) {
	_, err := New(loaderOf(nil), "missing", "")
	assert.True(t, errors.Is(err, types.ErrModelLoad))

	broken := &fakeModel{err: errors.New("bad graph")}
	_, err = New(loaderOf(map[string]*fakeModel{"broken": broken}), "broken", "")
	assert.True(t, errors.Is(err, types.ErrModelLoad))
	assert.True(t, broken.closed.Load(), "failed model must be closed")

	short := &fakeModel{out: []float32{1, 2, 3}}
	_, err = New(loaderOf(map[string]*fakeModel{"short": short}), "short", "")
	assert.True(t, errors.Is(err, types.ErrModelLoad))

	_, err = New(loaderOf(map[string]*fakeModel{"cnn": {out: happyScores}}), "cnn", "raw")
	assert.True(t, errors.Is(err, types.ErrModelLoad))
}

func TestClassifyInferenceFailure(t *testing.T) {
	m := &fakeModel{out: happyScores}
	c, err := New(loaderOf(map[string]*fakeModel{"cnn": m}), "cnn", "")
	require.NoError(t, err)

	m.err = errors.New("delegate crashed")
	dense, _ := types.NewNormalizedTensor(zeroTensor(t))
	_, err = c.Classify(dense)
	assert.True(t, errors.Is(err, types.ErrInference))

	_, err = c.Classify(nil)
	assert.True(t, errors.Is(err, types.ErrInference))

	assert.Equal(t, uint64(2), c.Stats().Failed)
}

func TestDecodeLogits(t *testing.T) {
	scores, err := Decode([]float32{0, 0, 0, 5, 0, 0, 0}, OutputLogits)
	require.NoError(t, err)

	var sum float32
	for _, s := range scores {
		sum += s.Confidence
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
	assert.Equal(t, types.LabelHappy, scores[0].Label)
	assert.Greater(t, scores[0].Confidence, float32(0.9))
}

func TestDecodeRejectsBadVectors(t *testing.T) {
	_, err := Decode([]float32{1, 2}, OutputProbabilities)
	assert.Error(t, err)

	_, err = Decode([]float32{0, 0, 0, float32(math.NaN()), 0, 0, 0}, OutputProbabilities)
	assert.Error(t, err)
}

func TestSwitchModel(t *testing.T) {
	cnn := &fakeModel{out: happyScores}
	kan := &fakeModel{out: []float32{0.9, 0, 0, 0, 0, 0, 0.1}}
	c, err := New(loaderOf(map[string]*fakeModel{"cnn": cnn, "kan": kan, "bad": {err: errors.New("boom")}}), "cnn", "")
	require.NoError(t, err)

	require.NoError(t, c.SwitchModel("cnn"))
	assert.False(t, cnn.closed.Load(), "switching to the active model is a no-op")

	err = c.SwitchModel("bad")
	assert.True(t, errors.Is(err, types.ErrModelLoad))
	assert.Equal(t, "cnn", c.CurrentModel())

	require.NoError(t, c.SwitchModel("kan"))
	assert.Equal(t, "kan", c.CurrentModel())
	assert.True(t, cnn.closed.Load())

	dense, _ := types.NewNormalizedTensor(zeroTensor(t))
	scores, err := c.Classify(dense)
	require.NoError(t, err)
	assert.Equal(t, types.LabelAngry, scores[0].Label)

	require.NoError(t, c.Close())
	assert.True(t, kan.closed.Load())
}

// TestSwitchModelUnderLoad validates that no forward pass ever hits a closed model.
func TestSwitchModelUnderLoad(t *testing.T) {
	models := map[string]*fakeModel{
		"a": {out: happyScores},
		"b": {out: happyScores},
		"c": {out: happyScores},
	}
	c, err := New(loaderOf(models), "a", "")
	require.NoError(t, err)
	dense, _ := types.NewNormalizedTensor(zeroTensor(t))

	var wg sync.WaitGroup
	var failures atomic.Int32
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if _, err := c.Classify(dense); err != nil {
					failures.Add(1)
				}
			}
		}()
	}

	for _, next := range []string{"b", "c"} {
		require.NoError(t, c.SwitchModel(next))
	}
	wg.Wait()

	assert.Equal(t, int32(0), failures.Load())
}
