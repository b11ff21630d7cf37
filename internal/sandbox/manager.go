package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

type Manager struct {
	baseDir string
	prefix  string
}

func NewManager(baseDir, prefix string) (*Manager, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if prefix == "" {
		return nil, fmt.Errorf("sandbox name prefix cannot be empty")
	}
	if strings.ContainsRune(prefix, filepath.Separator) {
		return nil, fmt.Errorf("sandbox name prefix %q must not contain a path separator", prefix)
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox base directory: %w", err)
	}

	return &Manager{
		baseDir: baseDir,
		prefix:  prefix,
	}, nil
}

func (m *Manager) BaseDir() string {
	return m.baseDir
}

// Create allocates a fresh sandbox. The directory is created with Mkdir so a
// name collision fails instead of silently sharing a root.
func (m *Manager) Create(ctx context.Context) (*Sandbox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := strings.ToLower(ulid.Make().String())
	name := m.prefix + "-" + id
	root := filepath.Join(m.baseDir, name)

	if err := os.Mkdir(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox directory: %w", err)
	}

	sb := &Sandbox{
		ID:        id,
		Name:      name,
		RootPath:  root,
		KeyDir:    filepath.Join(root, KeyDirName),
		LogPath:   filepath.Join(root, LogFileName),
		State:     SandboxStateReady,
		CreatedAt: time.Now().UTC(),
	}

	cleanup := func() { _ = os.RemoveAll(root) }

	if err := os.Mkdir(sb.KeyDir, 0700); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	// Mkdir is subject to umask.
	if err := os.Chmod(sb.KeyDir, 0700); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to chmod key directory: %w", err)
	}

	lock, err := acquireRunLock(filepath.Join(root, LockFileName))
	if err != nil {
		cleanup()
		return nil, err
	}
	sb.lock = lock

	if err := sb.Record(func(s *RunState) {
		s.ID = id
		s.CreatedAt = sb.CreatedAt
	}); err != nil {
		lock.Unlock()
		cleanup()
		return nil, err
	}

	slog.Info("Sandbox created", "sandbox", name, "path", root)
	return sb, nil
}

// Remove releases the run lock and deletes the sandbox recursively. Calling it
// again is a no-op.
func (m *Manager) Remove(sb *Sandbox) error {
	if sb == nil {
		return nil
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.State == SandboxStateRemoved {
		return nil
	}
	sb.State = SandboxStateTeardown

	if sb.lock != nil {
		sb.lock.Unlock()
	}

	if err := os.RemoveAll(sb.RootPath); err != nil {
		slog.Error("Failed to remove sandbox directory", "error", err, "path", sb.RootPath)
		return err
	}

	sb.State = SandboxStateRemoved
	slog.Info("Sandbox removed", "sandbox", sb.Name)
	return nil
}

// Orphan is a sandbox left behind by a run that no longer holds its lock.
type Orphan struct {
	Name     string
	RootPath string
	State    *RunState
}

func (m *Manager) Orphans() ([]Orphan, error) {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sandbox base directory: %w", err)
	}

	var orphans []Orphan
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), m.prefix+"-") {
			continue
		}
		root := filepath.Join(m.baseDir, entry.Name())

		abandoned, err := isAbandoned(filepath.Join(root, LockFileName))
		if err != nil {
			slog.Warn("Cannot probe sandbox lock", "path", root, "error", err)
			continue
		}
		if !abandoned {
			continue
		}

		orphan := Orphan{Name: entry.Name(), RootPath: root}
		if state, err := LoadRunState(root); err == nil {
			orphan.State = state
		}
		orphans = append(orphans, orphan)
	}

	sort.Slice(orphans, func(i, j int) bool { return orphans[i].Name < orphans[j].Name })
	return orphans, nil
}

// RemoveOrphan deletes an abandoned sandbox directory.
func (m *Manager) RemoveOrphan(o Orphan) error {
	if filepath.Dir(o.RootPath) != filepath.Clean(m.baseDir) {
		return fmt.Errorf("orphan %s is not under %s", o.RootPath, m.baseDir)
	}
	if err := os.RemoveAll(o.RootPath); err != nil {
		return fmt.Errorf("remove orphan sandbox: %w", err)
	}
	slog.Info("Orphan sandbox removed", "sandbox", o.Name)
	return nil
}
