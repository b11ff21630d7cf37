package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	apperrors "github.com/harunnryd/testbed/internal/errors"
	"github.com/harunnryd/testbed/internal/logger"
)

// Body runs once every component has started and returns the run's exit code.
type Body func(ctx context.Context) (int, error)

// Runner starts components in dependency order, runs a body, and always stops
// whatever was started in reverse order.
type Runner struct {
	runID           string
	components      []Component
	started         []string
	status          map[string]Status
	teardownTimeout time.Duration
	mu              sync.RWMutex
	teardownOnce    sync.Once
}

func NewRunner(runID string, teardownTimeout time.Duration) (*Runner, error) {
	if runID == "" {
		return nil, fmt.Errorf("run ID cannot be empty")
	}
	if teardownTimeout <= 0 {
		return nil, fmt.Errorf("teardown timeout must be positive")
	}

	return &Runner{
		runID:           runID,
		components:      make([]Component, 0),
		started:         make([]string, 0),
		status:          make(map[string]Status),
		teardownTimeout: teardownTimeout,
	}, nil
}

func (r *Runner) AddComponent(comp Component) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components = append(r.components, comp)
	r.status[comp.Name()] = StatusPending
	slog.Debug("Component registered", "component", comp.Name(), "total_components", len(r.components))
}

// Run returns the body's exit code. Any failure before the body runs yields
// apperrors.ExitFailure with the error. Teardown errors never change the result.
func (r *Runner) Run(ctx context.Context, body Body) (int, error) {
	ctx = logger.WithRunID(ctx, r.runID)
	log := logger.From(ctx)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer r.teardown(ctx)

	order, err := r.resolveStartOrder()
	if err != nil {
		return apperrors.ExitFailure, err
	}

	if err := r.initializeComponents(ctx, order); err != nil {
		return apperrors.ExitFailure, err
	}

	if err := r.startComponents(ctx, order); err != nil {
		log.Error("Run setup failed, tearing down", "error", err)
		r.logHealth(ctx)
		return apperrors.ExitFailure, err
	}

	log.Info("Environment is up", "components", len(order))

	code, err := body(ctx)
	if err != nil {
		log.Error("Run failed, tearing down", "error", err)
		r.logHealth(ctx)
		return apperrors.ExitFailure, err
	}
	log.Info("Run finished", "exit_code", code)
	return code, nil
}

// Status reports a component's lifecycle state.
func (r *Runner) Status(name string) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status[name]
}

// ComponentHealth probes every component whose Start was called.
func (r *Runner) ComponentHealth(ctx context.Context) map[string]*ComponentHealth {
	r.mu.RLock()
	components := make([]Component, 0, len(r.started))
	for _, name := range r.started {
		components = append(components, r.getComponentByName(name))
	}
	r.mu.RUnlock()

	result := make(map[string]*ComponentHealth)
	for _, comp := range components {
		health, err := comp.Health(ctx)
		if health == nil {
			health = &ComponentHealth{Name: comp.Name()}
		}
		if err != nil {
			health.Error = err
		}
		result[comp.Name()] = health
	}
	return result
}

// logHealth records the state of every started component before teardown
// releases it.
func (r *Runner) logHealth(ctx context.Context) {
	health := r.ComponentHealth(context.WithoutCancel(ctx))

	r.mu.RLock()
	started := make([]string, len(r.started))
	copy(started, r.started)
	r.mu.RUnlock()

	for _, name := range started {
		h := health[name]
		if h.Healthy && h.Error == nil {
			slog.Info("Component healthy", "component", name)
			continue
		}
		slog.Warn("Component unhealthy", "component", name, "error", h.Error)
	}
}

func (r *Runner) setStatus(name string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status[name] = status
}

func (r *Runner) initializeComponents(ctx context.Context, order []string) error {
	for _, name := range order {
		comp := r.getComponentByName(name)
		if err := comp.Init(ctx); err != nil {
			slog.Error("Component initialization failed", "component", name, "error", err)
			return fmt.Errorf("component %s init failed: %w", name, err)
		}
	}
	return nil
}

func (r *Runner) startComponents(ctx context.Context, order []string) error {
	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run cancelled before %s started: %w", name, err)
		}

		comp := r.getComponentByName(name)
		r.setStatus(name, StatusStarting)
		slog.Info("Starting component...", "component", name)
		if err := comp.Start(ctx); err != nil {
			// A half-started component may still hold resources.
			r.markStarted(name)
			slog.Error("Component startup failed", "component", name, "error", err)
			return fmt.Errorf("component %s startup failed: %w", name, err)
		}
		r.markStarted(name)
		r.setStatus(name, StatusRunning)
		slog.Info("Component started", "component", name)
	}
	return nil
}

func (r *Runner) markStarted(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, name)
}

// teardown stops started components in reverse start order on a fresh
// context, so it still runs after the run context was cancelled.
func (r *Runner) teardown(parent context.Context) {
	r.teardownOnce.Do(func() {
		r.mu.RLock()
		order := make([]string, 0, len(r.started))
		for i := len(r.started) - 1; i >= 0; i-- {
			order = append(order, r.started[i])
		}
		r.mu.RUnlock()

		if len(order) == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.teardownTimeout)
		defer cancel()

		slog.Info("Teardown initiated", "run_id", r.runID, "timeout", r.teardownTimeout, "reason", parent.Err())
		for _, name := range order {
			comp := r.getComponentByName(name)
			r.setStatus(name, StatusStopping)
			if err := comp.Stop(ctx); err != nil {
				slog.Error("Component stop failed", "component", name, "error", err)
			} else {
				slog.Info("Component stopped", "component", name)
			}
			r.setStatus(name, StatusStopped)
		}
		if ctx.Err() != nil {
			slog.Error("Teardown exceeded timeout", "run_id", r.runID, "timeout", r.teardownTimeout)
		}
	})
}

func (r *Runner) getComponentByName(name string) Component {
	for _, comp := range r.components {
		if comp.Name() == name {
			return comp
		}
	}
	return nil
}

func (r *Runner) resolveStartOrder() ([]string, error) {
	componentMap := make(map[string]Component)
	for _, comp := range r.components {
		if _, dup := componentMap[comp.Name()]; dup {
			return nil, fmt.Errorf("component %s registered twice", comp.Name())
		}
		componentMap[comp.Name()] = comp
	}
	for _, comp := range r.components {
		for _, depName := range comp.Dependencies() {
			if _, exists := componentMap[depName]; !exists {
				return nil, fmt.Errorf("component %s depends on %s which is not registered", comp.Name(), depName)
			}
		}
	}

	visited := make(map[string]bool)
	tempVisited := make(map[string]bool)
	order := []string{}

	var visit func(name string) error
	visit = func(name string) error {
		if tempVisited[name] {
			return fmt.Errorf("circular dependency detected involving %s", name)
		}
		if visited[name] {
			return nil
		}

		tempVisited[name] = true
		for _, depName := range componentMap[name].Dependencies() {
			if err := visit(depName); err != nil {
				return err
			}
		}
		tempVisited[name] = false
		visited[name] = true
		order = append(order, name)
		return nil
	}

	for _, comp := range r.components {
		if err := visit(comp.Name()); err != nil {
			return nil, err
		}
	}

	slog.Debug("Start order resolved", "order", order)
	return order, nil
}
