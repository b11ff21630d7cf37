package bootstrap

import (
	"context"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
)

type ComponentHealth struct {
	Name    string
	Healthy bool
	Error   error
}

// Component is one resource of a run. Init must not allocate anything;
// Start allocates and Stop releases. Stop is called at most once, for every
// component whose Start was called, including one whose Start failed, since
// it may hold a partial allocation.
type Component interface {
	Name() string
	Dependencies() []string
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) (*ComponentHealth, error)
}
