package modelruntime

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/e7canasta/emotion-sensor/internal/types"
)

// Materialize makes a packaged model available under dir and returns its local path.
//
// If dir already holds a non-empty file with the same name it is reused as is.
// Otherwise src is copied through a temporary file and renamed into place, so a
// crash mid-copy never leaves a truncated model behind.
func Materialize(src, dir string) (string, error) {
	dst := filepath.Join(dir, filepath.Base(src))

	if info, err := os.Stat(dst); err == nil && info.Size() > 0 {
		slog.Debug("model found in local storage", "path", dst, "size", info.Size())
		return dst, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create model dir: %v", types.ErrModelLoad, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("%w: open packaged model: %v", types.ErrModelLoad, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(dir, ".model-*")
	if err != nil {
		return "", fmt.Errorf("%w: create temp file: %v", types.ErrModelLoad, err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, in)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("%w: copy model: %v", types.ErrModelLoad, err)
	}
	if n == 0 {
		return "", fmt.Errorf("%w: packaged model %s is empty", types.ErrModelLoad, src)
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("%w: install model: %v", types.ErrModelLoad, err)
	}

	slog.Info("model copied to local storage", "src", src, "path", dst, "size", n)
	return dst, nil
}
