package sandbox

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// runLock marks a sandbox as owned by a live run. A sandbox whose lock can be
// taken by somebody else was left behind by an interrupted run.
type runLock struct {
	fileLock   *flock.Flock
	lockPath   string
	acquiredAt time.Time
	mu         sync.Mutex
}

func acquireRunLock(lockPath string) (*runLock, error) {
	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to attempt run lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("sandbox lock %s is held by another run", lockPath)
	}

	rl := &runLock{
		fileLock:   fileLock,
		lockPath:   lockPath,
		acquiredAt: time.Now(),
	}
	slog.Debug("Run lock acquired", "path", lockPath)
	return rl, nil
}

func (rl *runLock) Unlock() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.fileLock == nil {
		return
	}

	if err := rl.fileLock.Unlock(); err != nil {
		slog.Error("Failed to release run lock", "path", rl.lockPath, "error", err)
	} else {
		slog.Debug("Run lock released", "path", rl.lockPath, "held_duration_ms", time.Since(rl.acquiredAt).Milliseconds())
	}
	rl.fileLock = nil
}

// isAbandoned reports whether nobody holds the lock at lockPath.
func isAbandoned(lockPath string) (bool, error) {
	probe := flock.New(lockPath)
	locked, err := probe.TryLock()
	if err != nil {
		return false, err
	}
	if locked {
		_ = probe.Unlock()
	}
	return locked, nil
}
