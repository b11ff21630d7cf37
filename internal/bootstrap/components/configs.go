package components

import (
	"context"
	"fmt"

	"github.com/harunnryd/testbed/internal/bootstrap"
	"github.com/harunnryd/testbed/internal/materializer"
)

type ConfigsComponent struct {
	policy materializer.Policy
	env    *bootstrap.Environment
	// extraEnv is appended to the service environment once the sandbox exists.
	extraEnv func(*bootstrap.Environment) []string
}

func NewConfigsComponent(policy materializer.Policy, extraEnv func(*bootstrap.Environment) []string, env *bootstrap.Environment) *ConfigsComponent {
	return &ConfigsComponent{policy: policy, extraEnv: extraEnv, env: env}
}

func (c *ConfigsComponent) Name() string {
	return "Configs"
}

func (c *ConfigsComponent) Dependencies() []string {
	return []string{"Sandbox", "Datastore", "Keys"}
}

func (c *ConfigsComponent) Init(ctx context.Context) error {
	for _, name := range materializer.Topology {
		if c.policy.Commands[name] == "" {
			return fmt.Errorf("no launch command configured for service %s", name)
		}
	}
	return nil
}

func (c *ConfigsComponent) Start(ctx context.Context) error {
	sb := c.env.Sandbox()
	if sb == nil {
		return fmt.Errorf("sandbox not created")
	}
	handle := c.env.Datastore()
	layout := materializer.Layout{RootPath: sb.RootPath, KeyDir: sb.KeyDir}

	policy := c.policy
	if c.extraEnv != nil {
		policy.Env = append(append([]string{}, c.policy.Env...), c.extraEnv(c.env)...)
	}

	bundle, err := materializer.Render(layout, handle, policy)
	if err != nil {
		return fmt.Errorf("render service configs: %w", err)
	}
	if err := materializer.Verify(bundle, handle, layout); err != nil {
		return fmt.Errorf("verify service configs: %w", err)
	}
	if _, err := materializer.Write(bundle); err != nil {
		return err
	}

	c.env.SetBundle(bundle)
	return nil
}

// Stop is a no-op; rendered files go away with the sandbox.
func (c *ConfigsComponent) Stop(ctx context.Context) error {
	return nil
}

func (c *ConfigsComponent) Health(ctx context.Context) (*bootstrap.ComponentHealth, error) {
	return &bootstrap.ComponentHealth{Name: c.Name(), Healthy: c.env.Bundle() != nil}, nil
}
