package bootstrap

import (
	"sync"

	"github.com/harunnryd/testbed/internal/datastore"
	"github.com/harunnryd/testbed/internal/materializer"
	"github.com/harunnryd/testbed/internal/sandbox"
	"github.com/harunnryd/testbed/internal/supervisor"
)

// Environment is what components hand to each other during one run.
type Environment struct {
	RunID string

	mu        sync.RWMutex
	sandbox   *sandbox.Sandbox
	datastore *datastore.Handle
	bundle    *materializer.Bundle
	group     *supervisor.Group
}

func NewEnvironment(runID string) *Environment {
	return &Environment{RunID: runID}
}

func (e *Environment) SetSandbox(sb *sandbox.Sandbox) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sandbox = sb
}

func (e *Environment) Sandbox() *sandbox.Sandbox {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sandbox
}

func (e *Environment) SetDatastore(handle *datastore.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.datastore = handle
}

func (e *Environment) Datastore() *datastore.Handle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.datastore
}

func (e *Environment) SetBundle(bundle *materializer.Bundle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bundle = bundle
}

func (e *Environment) Bundle() *materializer.Bundle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bundle
}

func (e *Environment) SetGroup(group *supervisor.Group) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.group = group
}

func (e *Environment) Group() *supervisor.Group {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.group
}
