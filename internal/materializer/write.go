package materializer

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"github.com/zeebo/blake3"
)

// Write creates the service directories and writes every artifact. Files
// whose content hash already matches are left untouched.
func Write(bundle *Bundle) (int, error) {
	for _, dir := range bundle.Dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, fmt.Errorf("create service directory %s: %w", dir, err)
		}
	}

	written := 0
	for _, artifact := range bundle.Artifacts {
		changed, err := writeIfChanged(artifact)
		if err != nil {
			return written, err
		}
		if changed {
			written++
		}
	}
	return written, nil
}

func writeIfChanged(artifact Artifact) (bool, error) {
	sum := blake3.Sum256(artifact.Content)

	if existing, err := os.ReadFile(artifact.Path); err == nil {
		if blake3.Sum256(existing) == sum {
			slog.Debug("Configuration unchanged", "file", artifact.Name, "hash", fmt.Sprintf("%x", sum[:8]))
			return false, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(artifact.Path), 0755); err != nil {
		return false, fmt.Errorf("create directory for %s: %w", artifact.Name, err)
	}
	if err := atomic.WriteFile(artifact.Path, bytes.NewReader(artifact.Content)); err != nil {
		return false, fmt.Errorf("write %s: %w", artifact.Name, err)
	}

	slog.Info("Configuration written", "file", artifact.Name, "hash", fmt.Sprintf("%x", sum[:8]))
	return true, nil
}
