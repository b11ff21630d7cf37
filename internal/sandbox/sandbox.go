package sandbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harunnryd/testbed/internal/pathutil"

	"github.com/natefinch/atomic"
)

const (
	KeyDirName    = "keys"
	LogFileName   = "services.log"
	StateFileName = "run.json"
	LockFileName  = ".run.lock"
)

// Sandbox is the disposable working directory of one run.
type Sandbox struct {
	ID        string
	Name      string
	RootPath  string
	KeyDir    string
	LogPath   string
	State     SandboxState
	CreatedAt time.Time

	mu    sync.Mutex
	lock  *runLock
	state RunState
}

type SandboxState string

const (
	SandboxStateReady    SandboxState = "ready"
	SandboxStateTeardown SandboxState = "teardown"
	SandboxStateRemoved  SandboxState = "removed"
)

// RunState is persisted to run.json so an interrupted run can be swept later.
type RunState struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	DatastoreDir  string    `json:"datastore_dir,omitempty"`
	DatastoreURI  string    `json:"datastore_uri,omitempty"`
	SupervisorPID int       `json:"supervisor_pid,omitempty"`
}

// Path resolves a sandbox-relative path and refuses anything outside the root.
func (sb *Sandbox) Path(rel ...string) (string, error) {
	return pathutil.Within(sb.RootPath, rel...)
}

// KeyPath returns the path of a key file directly under the key directory.
func (sb *Sandbox) KeyPath(name string) (string, error) {
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("key name %q must be a bare file name", name)
	}
	return filepath.Join(sb.KeyDir, name), nil
}

// Record applies fn to the run state and rewrites run.json atomically.
func (sb *Sandbox) Record(fn func(*RunState)) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.State == SandboxStateRemoved {
		return fmt.Errorf("sandbox %s already removed", sb.Name)
	}

	next := sb.state
	if fn != nil {
		fn(&next)
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}
	if err := atomic.WriteFile(filepath.Join(sb.RootPath, StateFileName), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write run state: %w", err)
	}

	sb.state = next
	return nil
}

// RunState returns a copy of the last recorded state.
func (sb *Sandbox) RunState() RunState {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.state
}

// LoadRunState reads run.json from a sandbox root.
func LoadRunState(root string) (*RunState, error) {
	data, err := os.ReadFile(filepath.Join(root, StateFileName))
	if err != nil {
		return nil, err
	}
	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse run state: %w", err)
	}
	return &state, nil
}
