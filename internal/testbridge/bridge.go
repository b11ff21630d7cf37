package testbridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/harunnryd/testbed/internal/config"
	apperrors "github.com/harunnryd/testbed/internal/errors"

	"golang.org/x/sys/unix"
)

// Bridge runs the external test project and reports its exit status
// without interpreting its output.
type Bridge struct {
	Dir     string
	Shell   string
	Setup   []string
	Command string
	Env     []string
	Stdout  io.Writer
	Stderr  io.Writer
}

func New(cfg config.TestsConfig) (*Bridge, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, apperrors.InvalidInput("tests.command is required")
	}

	shell, err := resolveShell(cfg.Shell)
	if err != nil {
		return nil, err
	}

	return &Bridge{
		Dir:     cfg.Dir,
		Shell:   shell,
		Setup:   cfg.Setup,
		Command: cfg.Command,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}, nil
}

func resolveShell(name string) (string, error) {
	candidates := []string{"bash", "sh"}
	if name = strings.TrimSpace(name); name != "" {
		candidates = append([]string{name}, candidates...)
	}
	for _, candidate := range candidates {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", apperrors.MissingTool(fmt.Sprintf("shell not found: tried %s", strings.Join(candidates, ", ")))
}

// Script chains setup steps and the test command so any failing step stops
// the rest and decides the exit status.
func (b *Bridge) Script() string {
	steps := make([]string, 0, len(b.Setup)+1)
	for _, step := range b.Setup {
		if step = strings.TrimSpace(step); step != "" {
			steps = append(steps, step)
		}
	}
	steps = append(steps, b.Command)
	return strings.Join(steps, " && ")
}

// Run executes the test project. A non-nil error means the runner could not
// be started or was cancelled; any exit status it produced is returned as-is.
func (b *Bridge) Run(ctx context.Context) (int, error) {
	if info, err := os.Stat(b.Dir); err != nil || !info.IsDir() {
		return 0, apperrors.InvalidInput(fmt.Sprintf("test project directory %s does not exist", b.Dir))
	}

	cmd := exec.CommandContext(ctx, b.Shell, "-c", b.Script())
	cmd.Dir = b.Dir
	cmd.Env = append(os.Environ(), b.Env...)
	cmd.Stdout = b.Stdout
	cmd.Stderr = b.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}

	slog.Info("Running tests", "dir", b.Dir, "command", b.Command)

	err := cmd.Run()
	if ctx.Err() != nil {
		return 0, fmt.Errorf("test run cancelled: %w", ctx.Err())
	}
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitStatus(exitErr), nil
	}
	return 0, fmt.Errorf("start test runner: %w", err)
}

// exitStatus reports a runner killed by a signal as 128+signal, the way a
// shell does, instead of ExitCode's -1.
func exitStatus(exitErr *exec.ExitError) int {
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return exitErr.ExitCode()
}
