package datastore

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	apperrors "github.com/harunnryd/testbed/internal/errors"

	"github.com/google/shlex"
)

// Provisioner starts and stops a throwaway database bound to a directory.
type Provisioner interface {
	Start(ctx context.Context, dir string) (*Handle, error)
	Stop(ctx context.Context, handle *Handle) error
}

// DirPlaceholder is substituted with the sandbox directory in configured commands.
const DirPlaceholder = "{dir}"

// CommandProvisioner drives an external provisioner such as pg_tmp. The start
// command must print the connection URI on stdout.
type CommandProvisioner struct {
	start []string
	stop  []string
}

func NewCommandProvisioner(startCommand, stopCommand string) (*CommandProvisioner, error) {
	start, err := shlex.Split(startCommand)
	if err != nil {
		return nil, fmt.Errorf("parse datastore start command: %w", err)
	}
	stop, err := shlex.Split(stopCommand)
	if err != nil {
		return nil, fmt.Errorf("parse datastore stop command: %w", err)
	}
	if len(start) == 0 || len(stop) == 0 {
		return nil, apperrors.InvalidInput("datastore start and stop commands are required")
	}
	return &CommandProvisioner{start: start, stop: stop}, nil
}

func (p *CommandProvisioner) Start(ctx context.Context, dir string) (*Handle, error) {
	args := withDir(p.start, dir)
	slog.Info("Starting ephemeral datastore", "command", strings.Join(args, " "), "dir", dir)

	stdout, err := run(ctx, args)
	if err != nil {
		return nil, apperrors.WithCategory(err, "start datastore", apperrors.ErrProvision)
	}

	uri := lastLine(stdout)
	if uri == "" {
		return nil, apperrors.WithCategory(fmt.Errorf("no connection uri on stdout"), "start datastore", apperrors.ErrProvision)
	}

	handle, err := ParseURI(uri)
	if err != nil {
		return nil, apperrors.WithCategory(err, "start datastore", apperrors.ErrProvision)
	}
	handle.Dir = dir

	slog.Info("Ephemeral datastore started", "host", handle.Host, "port", handle.Port, "database", handle.Database)
	return handle, nil
}

func (p *CommandProvisioner) Stop(ctx context.Context, handle *Handle) error {
	if handle == nil || handle.Dir == "" {
		return nil
	}

	args := withDir(p.stop, handle.Dir)
	slog.Info("Stopping ephemeral datastore", "command", strings.Join(args, " "))
	if _, err := run(ctx, args); err != nil {
		return fmt.Errorf("stop datastore: %w", err)
	}
	return nil
}

func withDir(template []string, dir string) []string {
	args := make([]string, len(template))
	for i, arg := range template {
		args[i] = strings.ReplaceAll(arg, DirPlaceholder, dir)
	}
	return args
}

func run(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w, stderr: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func lastLine(output string) string {
	var last string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	return last
}
