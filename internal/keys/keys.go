package keys

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/google/shlex"
)

// Generator writes key material into a directory by running external
// commands that read the key path from EnvVar.
type Generator struct {
	EnvVar   string
	commands [][]string
}

func NewGenerator(envVar string, commands []string) (*Generator, error) {
	if strings.TrimSpace(envVar) == "" {
		return nil, fmt.Errorf("key path environment variable cannot be empty")
	}

	g := &Generator{EnvVar: envVar}
	for _, command := range commands {
		args, err := shlex.Split(command)
		if err != nil {
			return nil, fmt.Errorf("parse key command %q: %w", command, err)
		}
		if len(args) == 0 {
			continue
		}
		g.commands = append(g.commands, args)
	}
	return g, nil
}

// Binaries lists the executables the generator needs on PATH.
func (g *Generator) Binaries() []string {
	seen := make(map[string]bool)
	var out []string
	for _, args := range g.commands {
		if !seen[args[0]] {
			seen[args[0]] = true
			out = append(out, args[0])
		}
	}
	return out
}

// EnvEntry is the KEY=VALUE pair pointing services at keyDir.
func (g *Generator) EnvEntry(keyDir string) string {
	return g.EnvVar + "=" + keyDir
}

func (g *Generator) Generate(ctx context.Context, keyDir string) error {
	for _, args := range g.commands {
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		cmd.Dir = keyDir
		cmd.Env = append(os.Environ(), g.EnvEntry(keyDir))
		var output bytes.Buffer
		cmd.Stdout = &output
		cmd.Stderr = &output

		if err := cmd.Run(); err != nil {
			return fmt.Errorf("generate keys with %q: %w, output: %s",
				strings.Join(args, " "), err, strings.TrimSpace(output.String()))
		}
		slog.Debug("Key command finished", "command", strings.Join(args, " "))
	}

	slog.Info("Key material generated", "dir", keyDir, "commands", len(g.commands))
	return nil
}
