package components

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/harunnryd/testbed/internal/bootstrap"
	"github.com/harunnryd/testbed/internal/sandbox"
)

type SandboxComponent struct {
	manager *sandbox.Manager
	env     *bootstrap.Environment
	mu      sync.Mutex
}

func NewSandboxComponent(manager *sandbox.Manager, env *bootstrap.Environment) *SandboxComponent {
	return &SandboxComponent{manager: manager, env: env}
}

func (s *SandboxComponent) Name() string {
	return "Sandbox"
}

func (s *SandboxComponent) Dependencies() []string {
	return []string{}
}

func (s *SandboxComponent) Init(ctx context.Context) error {
	if s.manager == nil {
		return fmt.Errorf("sandbox manager is required")
	}
	return nil
}

func (s *SandboxComponent) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sb, err := s.manager.Create(ctx)
	if err != nil {
		return err
	}
	s.env.SetSandbox(sb)
	return nil
}

func (s *SandboxComponent) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manager.Remove(s.env.Sandbox())
}

func (s *SandboxComponent) Health(ctx context.Context) (*bootstrap.ComponentHealth, error) {
	health := &bootstrap.ComponentHealth{Name: s.Name()}
	sb := s.env.Sandbox()
	if sb == nil {
		health.Error = fmt.Errorf("sandbox not created")
		return health, nil
	}
	if _, err := os.Stat(sb.RootPath); err != nil {
		health.Error = err
		return health, nil
	}
	health.Healthy = true
	return health, nil
}
