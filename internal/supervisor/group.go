package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	apperrors "github.com/harunnryd/testbed/internal/errors"

	"golang.org/x/sys/unix"
)

// LaunchSpec describes what the supervisor should run and where its merged
// output goes.
type LaunchSpec struct {
	Procfile string
	EnvFile  string
	WorkDir  string
	LogPath  string
	Env      []string
}

// Group is the handle to a running supervisor and every service under it.
// The supervisor leads its own process group so one signal reaches all of them.
type Group struct {
	cmd     *exec.Cmd
	pgid    int
	logFile *os.File

	done     chan struct{}
	mu       sync.Mutex
	waitErr  error
	stopOnce sync.Once
	stopErr  error
}

// Launch spawns the supervisor and returns without waiting for services.
func (l *Launcher) Launch(spec LaunchSpec) (*Group, error) {
	path, err := l.Path()
	if err != nil {
		return nil, err
	}

	logFile, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, apperrors.WithCategory(err, "open service log", apperrors.ErrLaunch)
	}

	cmd := exec.Command(path, l.Args(spec.Procfile, spec.EnvFile)...)
	cmd.Dir = spec.WorkDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, apperrors.WithCategory(err, "start supervisor", apperrors.ErrLaunch)
	}

	g := &Group{
		cmd:     cmd,
		pgid:    cmd.Process.Pid,
		logFile: logFile,
		done:    make(chan struct{}),
	}
	go g.wait()

	slog.Info("Supervisor started", "platform", l.Platform, "binary", path, "pid", g.pgid)
	return g, nil
}

func (g *Group) wait() {
	err := g.cmd.Wait()
	g.mu.Lock()
	g.waitErr = err
	g.mu.Unlock()
	g.logFile.Close()
	close(g.done)
}

// Pid is the supervisor pid, which is also the process group id.
func (g *Group) Pid() int {
	return g.pgid
}

// Exited is closed once the supervisor process has exited.
func (g *Group) Exited() <-chan struct{} {
	return g.done
}

func (g *Group) Alive() bool {
	select {
	case <-g.done:
		return false
	default:
		return true
	}
}

// Err reports why the supervisor exited. It is nil while the group runs.
func (g *Group) Err() error {
	if g.Alive() {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.waitErr != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrServiceExited, g.waitErr)
	}
	return apperrors.ErrServiceExited
}

// Stop interrupts the supervisor so every service can exit cleanly, then
// kills the whole group if it is still around after timeout or when ctx ends.
func (g *Group) Stop(ctx context.Context, timeout time.Duration) error {
	g.stopOnce.Do(func() {
		g.stopErr = g.stop(ctx, timeout)
	})
	return g.stopErr
}

func (g *Group) stop(ctx context.Context, timeout time.Duration) error {
	if !g.Alive() {
		KillGroup(g.pgid)
		return nil
	}

	if err := g.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Warn("Interrupt supervisor failed", "pid", g.pgid, "error", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-g.done:
		// Services that ignored the supervisor's own shutdown still share the group.
		KillGroup(g.pgid)
		return nil
	case <-timer.C:
		slog.Warn("Supervisor did not stop in time, killing process group", "pid", g.pgid, "timeout", timeout)
	case <-ctx.Done():
		slog.Warn("Stop cancelled, killing process group", "pid", g.pgid)
	}

	KillGroup(g.pgid)
	select {
	case <-g.done:
		return nil
	case <-time.After(time.Second):
		return fmt.Errorf("supervisor %d did not exit after SIGKILL", g.pgid)
	}
}

// KillGroup sends SIGKILL to every process in the group. A group that is
// already gone is not an error.
func KillGroup(pgid int) {
	if pgid <= 0 {
		return
	}
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		slog.Debug("Kill process group failed", "pgid", pgid, "error", err)
	}
}

// GroupAlive reports whether any process of the group still exists.
func GroupAlive(pgid int) bool {
	if pgid <= 0 {
		return false
	}
	err := unix.Kill(-pgid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// LaunchedWith reports whether pid is a supervisor started with procfile.
// A recorded pid may belong to an unrelated process after a reboot or pid
// wraparound.
func LaunchedWith(pid int, procfile string) bool {
	if pid <= 0 || procfile == "" {
		return false
	}
	args, err := commandLine(pid)
	if err != nil {
		return false
	}
	want := filepath.Clean(procfile)
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "-f" && filepath.Clean(args[i+1]) == want {
			return true
		}
	}
	return false
}

func commandLine(pid int) ([]string, error) {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "cmdline"))
	if err == nil {
		return strings.Split(strings.TrimRight(string(data), "\x00"), "\x00"), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	// no procfs on darwin
	out, err := exec.Command("ps", "-o", "command=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return nil, err
	}
	return strings.Fields(string(out)), nil
}
