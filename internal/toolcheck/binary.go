package toolcheck

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/harunnryd/testbed/internal/config"

	"github.com/google/shlex"
)

// BinaryTool is available when its binary resolves on PATH.
type BinaryTool struct {
	name    string
	binary  string
	install []string
}

func NewBinaryTool(name, binary, installCommand string) (*BinaryTool, error) {
	if strings.TrimSpace(binary) == "" {
		binary = name
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("tool name is required")
	}

	var install []string
	if strings.TrimSpace(installCommand) != "" {
		parts, err := shlex.Split(installCommand)
		if err != nil {
			return nil, fmt.Errorf("parse install command for %s: %w", name, err)
		}
		install = parts
	}

	return &BinaryTool{name: name, binary: binary, install: install}, nil
}

// FromConfig builds one BinaryTool per configured prerequisite.
func FromConfig(entries []config.ToolConfig) ([]Tool, error) {
	tools := make([]Tool, 0, len(entries))
	for _, entry := range entries {
		tool, err := NewBinaryTool(entry.Name, entry.Binary, entry.Install)
		if err != nil {
			return nil, err
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

func (b *BinaryTool) Name() string {
	return b.name
}

func (b *BinaryTool) IsAvailable(ctx context.Context) bool {
	_, err := exec.LookPath(b.binary)
	return err == nil
}

func (b *BinaryTool) Install(ctx context.Context) error {
	if len(b.install) == 0 {
		return fmt.Errorf("%s not found on PATH and no installer configured", b.binary)
	}

	cmd := exec.CommandContext(ctx, b.install[0], b.install[1:]...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("installer failed: %w, output: %s", err, strings.TrimSpace(output.String()))
	}
	return nil
}
