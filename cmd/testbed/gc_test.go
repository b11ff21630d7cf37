package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/harunnryd/testbed/internal/datastore"
	"github.com/harunnryd/testbed/internal/sandbox"
)

func writeOrphan(t *testing.T, baseDir, name string) string {
	t.Helper()
	return writeOrphanWithPID(t, baseDir, name, 0)
}

func writeOrphanWithPID(t *testing.T, baseDir, name string, pid int) string {
	t.Helper()
	root := filepath.Join(baseDir, name)
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatalf("create orphan: %v", err)
	}
	state, err := json.Marshal(sandbox.RunState{ID: name, DatastoreDir: filepath.Join(root, "pgdata"), SupervisorPID: pid})
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, sandbox.StateFileName), state, 0644); err != nil {
		t.Fatalf("write state: %v", err)
	}
	return root
}

func TestCollectOrphans(t *testing.T) {
	baseDir := t.TempDir()
	stopLog := filepath.Join(t.TempDir(), "stops.log")

	manager, err := sandbox.NewManager(baseDir, "builder-test")
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	live, err := manager.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer manager.Remove(live)

	orphanRoot := writeOrphan(t, baseDir, "builder-test-orphan")
	provisioner, err := datastore.NewCommandProvisioner("true", fmt.Sprintf(`sh -c "echo {dir} >> %s"`, stopLog))
	if err != nil {
		t.Fatalf("NewCommandProvisioner() error = %v", err)
	}

	rows, err := collectOrphans(context.Background(), manager, provisioner, true)
	if err != nil {
		t.Fatalf("collectOrphans(dry run) error = %v", err)
	}
	if len(rows) != 1 || rows[0].Removed {
		t.Fatalf("dry run rows = %+v", rows)
	}
	if _, err := os.Stat(orphanRoot); err != nil {
		t.Fatalf("dry run removed orphan: %v", err)
	}

	rows, err = collectOrphans(context.Background(), manager, provisioner, false)
	if err != nil {
		t.Fatalf("collectOrphans() error = %v", err)
	}
	if len(rows) != 1 || !rows[0].Removed || rows[0].Name != "builder-test-orphan" {
		t.Fatalf("rows = %+v", rows)
	}
	if _, err := os.Stat(orphanRoot); !os.IsNotExist(err) {
		t.Fatalf("orphan should be removed, stat err = %v", err)
	}
	if _, err := os.Stat(live.RootPath); err != nil {
		t.Fatalf("live sandbox must survive gc: %v", err)
	}

	data, err := os.ReadFile(stopLog)
	if err != nil {
		t.Fatalf("read stop log: %v", err)
	}
	if !strings.Contains(string(data), filepath.Join(orphanRoot, "pgdata")) {
		t.Fatalf("datastore stop not called with orphan dir, log: %q", data)
	}
}

// startGroup runs a shell loop as the leader of its own process group.
func startGroup(t *testing.T, args ...string) (*exec.Cmd, <-chan struct{}) {
	t.Helper()
	cmd := exec.Command("sh", append([]string{"-c", "while :; do sleep 0.1; done", "forego"}, args...)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start process group: %v", err)
	}
	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()
	t.Cleanup(func() {
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
	})
	return cmd, done
}

func TestCollectOrphansKillsOnlyTheSandboxSupervisor(t *testing.T) {
	baseDir := t.TempDir()
	manager, err := sandbox.NewManager(baseDir, "builder-test")
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	provisioner, err := datastore.NewCommandProvisioner("true", "true")
	if err != nil {
		t.Fatalf("NewCommandProvisioner() error = %v", err)
	}

	ownedRoot := filepath.Join(baseDir, "builder-test-owned")
	owned, ownedDone := startGroup(t, "start", "-f", filepath.Join(ownedRoot, "Procfile"), "-e", filepath.Join(ownedRoot, ".env"))
	writeOrphanWithPID(t, baseDir, "builder-test-owned", owned.Process.Pid)

	reused, reusedDone := startGroup(t)
	writeOrphanWithPID(t, baseDir, "builder-test-reused", reused.Process.Pid)

	rows, err := collectOrphans(context.Background(), manager, provisioner, false)
	if err != nil {
		t.Fatalf("collectOrphans() error = %v", err)
	}
	if len(rows) != 2 || !rows[0].Removed || !rows[1].Removed {
		t.Fatalf("rows = %+v", rows)
	}

	select {
	case <-ownedDone:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor group recorded by the sandbox was not killed")
	}
	select {
	case <-reusedDone:
		t.Fatal("gc killed a process group the sandbox did not launch")
	case <-time.After(200 * time.Millisecond):
	}
}
