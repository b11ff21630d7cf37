package components

import (
	"fmt"

	"github.com/harunnryd/testbed/internal/bootstrap"
	"github.com/harunnryd/testbed/internal/config"
	"github.com/harunnryd/testbed/internal/datastore"
	"github.com/harunnryd/testbed/internal/keys"
	"github.com/harunnryd/testbed/internal/materializer"
	"github.com/harunnryd/testbed/internal/readiness"
	"github.com/harunnryd/testbed/internal/sandbox"
	"github.com/harunnryd/testbed/internal/supervisor"
	"github.com/harunnryd/testbed/internal/testbridge"
)

// Options overrides collaborators that are normally built from config.
type Options struct {
	Provisioner datastore.Provisioner
	Launcher    *supervisor.Launcher
	WorkDir     string
}

// Register wires the run's components into runner: sandbox, keys, datastore,
// configs and supervisor.
func Register(runner *bootstrap.Runner, env *bootstrap.Environment, cfg *config.Config, opts Options) error {
	manager, err := sandbox.NewManager(cfg.Sandbox.BaseDir, cfg.Sandbox.NamePrefix)
	if err != nil {
		return err
	}

	generator, err := keys.NewGenerator(cfg.Keys.EnvVar, cfg.Keys.Generate)
	if err != nil {
		return err
	}

	provisioner := opts.Provisioner
	if provisioner == nil {
		provisioner, err = datastore.NewCommandProvisioner(cfg.Datastore.StartCommand, cfg.Datastore.StopCommand)
		if err != nil {
			return err
		}
	}
	retry, err := cfg.Datastore.ConnectionRetryDuration()
	if err != nil {
		return err
	}
	reachTimeout, err := cfg.Datastore.ReachTimeoutDuration()
	if err != nil {
		return err
	}

	policy, err := materializer.PolicyFromConfig(cfg)
	if err != nil {
		return err
	}

	launcher := opts.Launcher
	if launcher == nil {
		launcher, err = supervisor.Resolve(cfg.Supervisor)
		if err != nil {
			return err
		}
	}
	stopTimeout, err := cfg.Supervisor.StopTimeoutDuration()
	if err != nil {
		return err
	}

	runner.AddComponent(NewSandboxComponent(manager, env))
	runner.AddComponent(NewKeysComponent(generator, env))
	runner.AddComponent(NewDatastoreComponent(provisioner, retry, reachTimeout, env))
	runner.AddComponent(NewConfigsComponent(policy, func(env *bootstrap.Environment) []string {
		sb := env.Sandbox()
		if sb == nil {
			return nil
		}
		return []string{generator.EnvEntry(sb.KeyDir)}
	}, env))
	runner.AddComponent(NewSupervisorComponent(launcher, stopTimeout, opts.WorkDir, env))
	return nil
}

// NewTestStage builds the body that gates on readiness and runs the tests.
func NewTestStage(env *bootstrap.Environment, cfg *config.Config, bridge *testbridge.Bridge) (*bootstrap.TestStage, error) {
	if bridge == nil {
		return nil, fmt.Errorf("test bridge is required")
	}
	interval, err := cfg.Readiness.PollIntervalDuration()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.Readiness.TimeoutDuration()
	if err != nil {
		return nil, err
	}

	return &bootstrap.TestStage{
		Env: env,
		Gate: readiness.Gate{
			Prefix:       cfg.Readiness.MarkerPrefix,
			PollInterval: interval,
			Timeout:      timeout,
		},
		Bridge: bridge,
	}, nil
}
