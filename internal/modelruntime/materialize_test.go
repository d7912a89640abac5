package modelruntime

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/emotion-sensor/internal/types"
)

func TestMaterializeCopiesOnce(t *testing.T) {
	pkg := filepath.Join(t.TempDir(), "cnnresnet.onnx")
	require.NoError(t, os.WriteFile(pkg, []byte("weights-v1"), 0o644))
	dir := filepath.Join(t.TempDir(), "models")

	path, err := Materialize(pkg, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cnnresnet.onnx"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "weights-v1", string(got))

	// a second call keeps the local copy even if the package changed
	require.NoError(t, os.WriteFile(pkg, []byte("weights-v2"), 0o644))
	_, err = Materialize(pkg, dir)
	require.NoError(t, err)
	got, _ = os.ReadFile(path)
	assert.Equal(t, "weights-v1", string(got))

	entries, _ := os.ReadDir(dir)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestMaterializeReplacesEmptyLocalCopy(t *testing.T) {
	pkg := filepath.Join(t.TempDir(), "kanresnet.onnx")
	require.NoError(t, os.WriteFile(pkg, []byte("weights"), 0o644))
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kanresnet.onnx"), nil, 0o644))

	path, err := Materialize(pkg, dir)
	require.NoError(t, err)
	got, _ := os.ReadFile(path)
	assert.Equal(t, "weights", string(got))
}

func TestMaterializeFailures(t *testing.T) {
	_, err := Materialize(filepath.Join(t.TempDir(), "missing.onnx"), t.TempDir())
	assert.True(t, errors.Is(err, types.ErrModelLoad))

	empty := filepath.Join(t.TempDir(), "empty.onnx")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = Materialize(empty, t.TempDir())
	assert.True(t, errors.Is(err, types.ErrModelLoad))
}
