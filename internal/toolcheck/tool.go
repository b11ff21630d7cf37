package toolcheck

import (
	"context"
	"fmt"
	"log/slog"

	apperrors "github.com/harunnryd/testbed/internal/errors"
)

// Tool is a prerequisite the run cannot start without.
type Tool interface {
	Name() string
	IsAvailable(ctx context.Context) bool
	Install(ctx context.Context) error
}

// Ensure probes tool and installs it when missing. A tool that is still
// unavailable after installing counts as missing.
func Ensure(ctx context.Context, tool Tool) error {
	if tool.IsAvailable(ctx) {
		slog.Debug("Prerequisite available", "tool", tool.Name())
		return nil
	}

	slog.Info("Prerequisite missing, installing", "tool", tool.Name())
	if err := tool.Install(ctx); err != nil {
		return apperrors.WithCategory(err, fmt.Sprintf("install %s", tool.Name()), apperrors.ErrMissingTool)
	}
	if !tool.IsAvailable(ctx) {
		return apperrors.MissingTool(fmt.Sprintf("%s still unavailable after install", tool.Name()))
	}

	slog.Info("Prerequisite installed", "tool", tool.Name())
	return nil
}

// EnsureAll stops at the first tool that cannot be made available.
func EnsureAll(ctx context.Context, tools []Tool) error {
	for _, tool := range tools {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := Ensure(ctx, tool); err != nil {
			return err
		}
	}
	return nil
}
