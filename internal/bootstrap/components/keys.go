package components

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/harunnryd/testbed/internal/bootstrap"
	apperrors "github.com/harunnryd/testbed/internal/errors"
	"github.com/harunnryd/testbed/internal/keys"
)

type KeysComponent struct {
	generator *keys.Generator
	env       *bootstrap.Environment
	generated bool
}

func NewKeysComponent(generator *keys.Generator, env *bootstrap.Environment) *KeysComponent {
	return &KeysComponent{generator: generator, env: env}
}

func (k *KeysComponent) Name() string {
	return "Keys"
}

func (k *KeysComponent) Dependencies() []string {
	return []string{"Sandbox"}
}

func (k *KeysComponent) Init(ctx context.Context) error {
	for _, binary := range k.generator.Binaries() {
		if _, err := exec.LookPath(binary); err != nil {
			return apperrors.WithCategory(err, "key generator "+binary, apperrors.ErrMissingTool)
		}
	}
	return nil
}

func (k *KeysComponent) Start(ctx context.Context) error {
	sb := k.env.Sandbox()
	if sb == nil {
		return fmt.Errorf("sandbox not created")
	}
	if err := k.generator.Generate(ctx, sb.KeyDir); err != nil {
		return err
	}
	k.generated = true
	return nil
}

// Stop is a no-op; key material goes away with the sandbox.
func (k *KeysComponent) Stop(ctx context.Context) error {
	return nil
}

func (k *KeysComponent) Health(ctx context.Context) (*bootstrap.ComponentHealth, error) {
	return &bootstrap.ComponentHealth{Name: k.Name(), Healthy: k.generated}, nil
}
