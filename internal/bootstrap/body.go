package bootstrap

import (
	"context"
	"fmt"

	"github.com/harunnryd/testbed/internal/readiness"
	"github.com/harunnryd/testbed/internal/testbridge"
)

// TestStage waits for every service in the manifest to report ready, then
// hands over to the test runner. onReady sees the final readiness state
// whether or not the gate succeeded.
type TestStage struct {
	Env     *Environment
	Gate    readiness.Gate
	Bridge  *testbridge.Bridge
	OnReady func(*readiness.State)
}

func (s *TestStage) Run(ctx context.Context) (int, error) {
	bundle := s.Env.Bundle()
	sb := s.Env.Sandbox()
	group := s.Env.Group()
	if bundle == nil || sb == nil || group == nil {
		return 0, fmt.Errorf("environment is incomplete")
	}

	gate := s.Gate
	gate.LogPath = sb.LogPath
	gate.Process = group

	state, err := gate.Await(ctx, bundle.Manifest.ServiceNames())
	if s.OnReady != nil && state != nil {
		s.OnReady(state)
	}
	if err != nil {
		return 0, fmt.Errorf("await readiness: %w", err)
	}

	return s.Bridge.Run(ctx)
}
