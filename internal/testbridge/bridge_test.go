package testbridge

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/harunnryd/testbed/internal/config"
	apperrors "github.com/harunnryd/testbed/internal/errors"
)

func newTestBridge(t *testing.T, setup []string, command string) (*Bridge, *bytes.Buffer) {
	t.Helper()
	bridge, err := New(config.TestsConfig{Dir: t.TempDir(), Shell: "sh", Setup: setup, Command: command})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	var out bytes.Buffer
	bridge.Stdout = &out
	bridge.Stderr = &out
	return bridge, &out
}

func TestRun_ForwardsExitCode(t *testing.T) {
	tests := []struct {
		name    string
		setup   []string
		command string
		want    int
	}{
		{name: "success", command: "true", want: 0},
		{name: "failure code", command: "exit 2", want: 2},
		{name: "setup failure stops run", setup: []string{"exit 7"}, command: "exit 0", want: 7},
		{name: "setup then command", setup: []string{"echo setup"}, command: "exit 3", want: 3},
		{name: "killed by signal", command: "kill -TERM $$", want: 128 + 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge, _ := newTestBridge(t, tt.setup, tt.command)
			code, err := bridge.Run(context.Background())
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if code != tt.want {
				t.Fatalf("Run() = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestRun_UsesProjectDirAndEnv(t *testing.T) {
	bridge, out := newTestBridge(t, nil, `echo "$(pwd -P) $TESTBED_MARK"`)
	bridge.Env = []string{"TESTBED_MARK=marked"}

	if _, err := bridge.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	resolved, err := filepath.EvalSymlinks(bridge.Dir)
	if err != nil {
		t.Fatalf("EvalSymlinks() error = %v", err)
	}
	got := out.String()
	if !bytes.Contains([]byte(got), []byte("marked")) {
		t.Fatalf("expected env in output, got %q", got)
	}
	if !bytes.Contains([]byte(got), []byte(filepath.Base(resolved))) {
		t.Fatalf("expected project dir in output, got %q", got)
	}
}

func TestRun_MissingProjectDir(t *testing.T) {
	bridge, _ := newTestBridge(t, nil, "true")
	bridge.Dir = filepath.Join(bridge.Dir, "missing")

	if _, err := bridge.Run(context.Background()); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	bridge, _ := newTestBridge(t, nil, "sleep 30")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := bridge.Run(ctx); err == nil {
		t.Fatal("expected cancellation error")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("cancelled run did not stop promptly")
	}
}

func TestScript(t *testing.T) {
	bridge := &Bridge{Setup: []string{"nvm use", " ", "npm install"}, Command: "npm run mocha"}
	if got, want := bridge.Script(), "nvm use && npm install && npm run mocha"; got != want {
		t.Fatalf("Script() = %q, want %q", got, want)
	}
}

func TestNew_RequiresCommand(t *testing.T) {
	if _, err := New(config.TestsConfig{Dir: t.TempDir()}); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}
