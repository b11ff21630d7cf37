package components

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/testbed/internal/bootstrap"
	"github.com/harunnryd/testbed/internal/config"
	apperrors "github.com/harunnryd/testbed/internal/errors"
	"github.com/harunnryd/testbed/internal/materializer"
	"github.com/harunnryd/testbed/internal/readiness"
	"github.com/harunnryd/testbed/internal/supervisor"
	"github.com/harunnryd/testbed/internal/testbridge"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	cfg       *config.Config
	orderLog  string
	launcher  *supervisor.Launcher
	listener  net.Listener
	testsDir  string
	sandboxes string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	port := listener.Addr().(*net.TCPAddr).Port

	work := t.TempDir()
	h := &harness{
		cfg:       cfg,
		orderLog:  filepath.Join(work, "order.log"),
		listener:  listener,
		testsDir:  filepath.Join(work, "tests"),
		sandboxes: filepath.Join(work, "sandboxes"),
	}
	require.NoError(t, os.Mkdir(h.testsDir, 0755))

	cfg.Sandbox.BaseDir = h.sandboxes
	cfg.Tools = nil
	cfg.Keys.Generate = []string{`sh -c 'touch "$HAB_CACHE_KEY_PATH/bldr.pub"'`}
	cfg.Datastore.StartCommand = fmt.Sprintf(`sh -c "mkdir -p {dir} && echo postgresql://hab@127.0.0.1:%d/test"`, port)
	cfg.Datastore.StopCommand = fmt.Sprintf(`sh -c "test -d {dir} && echo datastore-stopped >> %s"`, h.orderLog)
	cfg.Datastore.ConnectionRetry = "50ms"
	cfg.Datastore.ReachTimeout = "5s"
	cfg.Services.OverridePrefix = "TESTBED_COMPONENTS_TEST"
	cfg.Readiness.PollInterval = "50ms"
	cfg.Readiness.Timeout = "10s"
	cfg.Supervisor.StopTimeout = "5s"
	cfg.Tests = config.TestsConfig{Dir: h.testsDir, Shell: "sh", Command: "exit 0"}

	h.launcher = h.fakeSupervisor(t, materializer.Topology)
	return h
}

// fakeSupervisor prints the ready marker of each service in ready and then
// idles until interrupted.
func (h *harness) fakeSupervisor(t *testing.T, ready []string) *supervisor.Launcher {
	t.Helper()
	var markers strings.Builder
	for _, name := range ready {
		fmt.Fprintf(&markers, "echo %q\n", readiness.Marker(config.DefaultReadinessMarkerPrefix, name))
	}
	script := fmt.Sprintf(`#!/bin/sh
trap 'echo supervisor-stopped >> %s; exit 0' INT
%s
while true; do sleep 0.1; done
`, h.orderLog, markers.String())

	path := filepath.Join(t.TempDir(), "forego")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return &supervisor.Launcher{Platform: supervisor.PlatformLinux, Binary: path}
}

func (h *harness) run(t *testing.T, onReady func(*bootstrap.Environment, *readiness.State)) (*bootstrap.Environment, int, error) {
	t.Helper()
	env := bootstrap.NewEnvironment("01HZXCOMPONENTS")
	runner, err := bootstrap.NewRunner(env.RunID, 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, Register(runner, env, h.cfg, Options{Launcher: h.launcher, WorkDir: t.TempDir()}))

	bridge, err := testbridge.New(h.cfg.Tests)
	require.NoError(t, err)
	stage, err := NewTestStage(env, h.cfg, bridge)
	require.NoError(t, err)
	if onReady != nil {
		stage.OnReady = func(state *readiness.State) { onReady(env, state) }
	}

	code, err := runner.Run(context.Background(), stage.Run)
	return env, code, err
}

func (h *harness) order(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(h.orderLog)
	if errors.Is(err, os.ErrNotExist) {
		return ""
	}
	require.NoError(t, err)
	return string(data)
}

func (h *harness) remainingSandboxes(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(h.sandboxes)
	require.NoError(t, err)
	return entries
}

func TestRun_ForwardsTestExitCodeAndRemovesSandbox(t *testing.T) {
	h := newHarness(t)
	h.cfg.Tests.Command = "exit 2"

	var procfile []byte
	var keyErr error
	env, code, err := h.run(t, func(env *bootstrap.Environment, state *readiness.State) {
		assert.True(t, state.Done())
		sb := env.Sandbox()
		procfile, _ = os.ReadFile(filepath.Join(sb.RootPath, materializer.ProcfileName))
		_, keyErr = os.Stat(filepath.Join(sb.KeyDir, "bldr.pub"))
	})

	require.NoError(t, err)
	assert.Equal(t, 2, code)

	assert.Equal(t, len(materializer.Topology), strings.Count(string(procfile), "--config"))
	assert.NoError(t, keyErr, "key material should be generated before services start")

	sb := env.Sandbox()
	require.NotNil(t, sb)
	_, statErr := os.Stat(sb.RootPath)
	assert.True(t, os.IsNotExist(statErr), "sandbox should be removed")
	assert.Empty(t, h.remainingSandboxes(t))

	assert.Equal(t, "supervisor-stopped\ndatastore-stopped\n", h.order(t))
}

func TestRun_SuccessfulTestsReportZero(t *testing.T) {
	h := newHarness(t)

	env, code, err := h.run(t, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "127.0.0.1", env.Datastore().Host)
	assert.Empty(t, h.remainingSandboxes(t))
}

func TestRun_ProvisionFailureCleansUpSandbox(t *testing.T) {
	h := newHarness(t)
	h.cfg.Datastore.StartCommand = `sh -c "echo cannot start >&2; exit 1"`

	_, code, err := h.run(t, nil)
	assert.True(t, errors.Is(err, apperrors.ErrProvision), "got %v", err)
	assert.Equal(t, apperrors.ExitFailure, code)
	assert.Empty(t, h.remainingSandboxes(t))
	assert.NotContains(t, h.order(t), "supervisor-stopped")
}

func TestRun_CrashedSupervisorFailsFast(t *testing.T) {
	h := newHarness(t)
	h.cfg.Readiness.Timeout = "1m"
	path := filepath.Join(t.TempDir(), "forego")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho boom\nexit 1\n"), 0755))
	h.launcher = &supervisor.Launcher{Platform: supervisor.PlatformLinux, Binary: path}

	var pending []string
	start := time.Now()
	_, code, err := h.run(t, func(env *bootstrap.Environment, state *readiness.State) {
		pending = state.Pending()
	})

	assert.True(t, errors.Is(err, apperrors.ErrServiceExited), "got %v", err)
	assert.Equal(t, apperrors.ExitFailure, code)
	assert.Less(t, time.Since(start), 30*time.Second)
	assert.Len(t, pending, len(materializer.Topology))
	assert.Empty(t, h.remainingSandboxes(t))
	assert.Equal(t, "datastore-stopped\n", h.order(t))
}

func TestRun_MissingSupervisorAllocatesNothing(t *testing.T) {
	h := newHarness(t)
	h.launcher = &supervisor.Launcher{Platform: supervisor.PlatformLinux, Binary: filepath.Join(t.TempDir(), "missing")}

	_, code, err := h.run(t, nil)
	assert.True(t, errors.Is(err, apperrors.ErrMissingTool), "got %v", err)
	assert.Equal(t, apperrors.ExitFailure, code)
	assert.Empty(t, h.remainingSandboxes(t))
	assert.Empty(t, h.order(t))
}
