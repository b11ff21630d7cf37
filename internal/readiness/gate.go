package readiness

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	apperrors "github.com/harunnryd/testbed/internal/errors"
	"github.com/harunnryd/testbed/internal/logger"
)

// Process is the liveness signal of whatever writes the log.
type Process interface {
	Exited() <-chan struct{}
	Err() error
}

// Gate waits for every expected service marker to appear in a shared log.
type Gate struct {
	LogPath      string
	Prefix       string
	PollInterval time.Duration
	// Timeout of zero waits until ctx is done.
	Timeout time.Duration
	Process Process
}

// Await blocks until all services are ready, the timeout passes, the
// process exits, or ctx is cancelled. The returned state is valid on error.
func (g *Gate) Await(ctx context.Context, services []string) (*State, error) {
	state := NewState(services)
	if g.PollInterval <= 0 {
		return state, apperrors.InvalidInput("readiness poll interval must be positive")
	}

	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	var exited <-chan struct{}
	if g.Process != nil {
		exited = g.Process.Exited()
	}

	log := logger.From(ctx)
	ticker := time.NewTicker(g.PollInterval)
	defer ticker.Stop()

	for {
		if err := g.poll(state, log); err != nil {
			return state, err
		}
		if state.Done() {
			log.Info("All services ready", "count", state.Total())
			return state, nil
		}

		select {
		case <-ticker.C:
		case <-exited:
			// Markers written just before the exit still count.
			if err := g.poll(state, log); err != nil {
				return state, err
			}
			if state.Done() {
				return state, nil
			}
			return state, fmt.Errorf("%w before %s became ready: %v",
				apperrors.ErrServiceExited, strings.Join(state.Pending(), ", "), g.Process.Err())
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return state, fmt.Errorf("%w after %s: waiting for %s",
					apperrors.ErrReadinessTimeout, g.Timeout, strings.Join(state.Pending(), ", "))
			}
			return state, ctx.Err()
		}
	}
}

func (g *Gate) poll(state *State, log *slog.Logger) error {
	content, err := os.ReadFile(g.LogPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read service log: %w", err)
	}
	for _, name := range Scan(state, content, g.Prefix) {
		log.Info("Service ready", "service", name, "ready", state.ReadyCount(), "total", state.Total())
	}
	return nil
}
