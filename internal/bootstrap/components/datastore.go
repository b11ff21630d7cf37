package components

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harunnryd/testbed/internal/bootstrap"
	"github.com/harunnryd/testbed/internal/datastore"
	"github.com/harunnryd/testbed/internal/sandbox"
)

// DatastoreDirName is the sandbox subdirectory the datastore is bound to.
const DatastoreDirName = "pgdata"

type DatastoreComponent struct {
	provisioner  datastore.Provisioner
	retry        time.Duration
	reachTimeout time.Duration
	env          *bootstrap.Environment

	mu     sync.Mutex
	dir    string
	handle *datastore.Handle
}

func NewDatastoreComponent(provisioner datastore.Provisioner, retry, reachTimeout time.Duration, env *bootstrap.Environment) *DatastoreComponent {
	return &DatastoreComponent{
		provisioner:  provisioner,
		retry:        retry,
		reachTimeout: reachTimeout,
		env:          env,
	}
}

func (d *DatastoreComponent) Name() string {
	return "Datastore"
}

func (d *DatastoreComponent) Dependencies() []string {
	return []string{"Sandbox"}
}

func (d *DatastoreComponent) Init(ctx context.Context) error {
	if d.provisioner == nil {
		return fmt.Errorf("datastore provisioner is required")
	}
	if d.retry <= 0 {
		return fmt.Errorf("datastore connection retry must be positive")
	}
	return nil
}

func (d *DatastoreComponent) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sb := d.env.Sandbox()
	if sb == nil {
		return fmt.Errorf("sandbox not created")
	}
	dir, err := sb.Path(DatastoreDirName)
	if err != nil {
		return err
	}

	// Recorded before starting so an interrupted run can still be stopped by gc.
	d.dir = dir
	if err := sb.Record(func(s *sandbox.RunState) { s.DatastoreDir = dir }); err != nil {
		return err
	}

	handle, err := d.provisioner.Start(ctx, dir)
	if err != nil {
		return err
	}
	d.handle = handle

	if err := sb.Record(func(s *sandbox.RunState) { s.DatastoreURI = handle.URI }); err != nil {
		return err
	}

	if err := datastore.WaitReachable(ctx, handle, d.retry, d.reachTimeout); err != nil {
		return err
	}

	d.env.SetDatastore(handle)
	return nil
}

// Stop uses the directory the datastore was started with, even when Start
// failed before a handle was returned.
func (d *DatastoreComponent) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dir == "" {
		return nil
	}
	handle := d.handle
	if handle == nil {
		handle = &datastore.Handle{Dir: d.dir}
	}
	if err := d.provisioner.Stop(ctx, handle); err != nil {
		return err
	}
	d.handle = nil
	d.dir = ""
	return nil
}

func (d *DatastoreComponent) Health(ctx context.Context) (*bootstrap.ComponentHealth, error) {
	handle := d.env.Datastore()
	return &bootstrap.ComponentHealth{Name: d.Name(), Healthy: handle.Known()}, nil
}
