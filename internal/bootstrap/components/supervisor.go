package components

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/harunnryd/testbed/internal/bootstrap"
	"github.com/harunnryd/testbed/internal/sandbox"
	"github.com/harunnryd/testbed/internal/supervisor"
)

type SupervisorComponent struct {
	launcher    *supervisor.Launcher
	stopTimeout time.Duration
	workDir     string
	env         *bootstrap.Environment

	mu    sync.Mutex
	group *supervisor.Group
}

// NewSupervisorComponent launches services from workDir, which is where
// relative launch commands resolve. An empty workDir means the current one.
func NewSupervisorComponent(launcher *supervisor.Launcher, stopTimeout time.Duration, workDir string, env *bootstrap.Environment) *SupervisorComponent {
	return &SupervisorComponent{
		launcher:    launcher,
		stopTimeout: stopTimeout,
		workDir:     workDir,
		env:         env,
	}
}

func (s *SupervisorComponent) Name() string {
	return "Supervisor"
}

func (s *SupervisorComponent) Dependencies() []string {
	return []string{"Configs"}
}

// Init resolves the supervisor binary so a missing one aborts the run before
// anything is allocated.
func (s *SupervisorComponent) Init(ctx context.Context) error {
	if _, err := s.launcher.Path(); err != nil {
		return err
	}
	if s.workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		s.workDir = wd
	}
	return nil
}

func (s *SupervisorComponent) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sb := s.env.Sandbox()
	bundle := s.env.Bundle()
	if sb == nil || bundle == nil {
		return fmt.Errorf("service configs not rendered")
	}

	group, err := s.launcher.Launch(supervisor.LaunchSpec{
		Procfile: bundle.Manifest.ProcfilePath,
		EnvFile:  bundle.Manifest.EnvPath,
		WorkDir:  s.workDir,
		LogPath:  sb.LogPath,
		Env:      bundle.Manifest.EnvList(),
	})
	if err != nil {
		return err
	}
	s.group = group
	s.env.SetGroup(group)

	return sb.Record(func(state *sandbox.RunState) { state.SupervisorPID = group.Pid() })
}

func (s *SupervisorComponent) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.group == nil {
		return nil
	}
	return s.group.Stop(ctx, s.stopTimeout)
}

func (s *SupervisorComponent) Health(ctx context.Context) (*bootstrap.ComponentHealth, error) {
	health := &bootstrap.ComponentHealth{Name: s.Name()}
	if s.group == nil {
		health.Error = fmt.Errorf("supervisor not started")
		return health, nil
	}
	if err := s.group.Err(); err != nil {
		health.Error = err
		return health, nil
	}
	health.Healthy = true
	return health, nil
}
