package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), "builder-test")
	require.NoError(t, err)
	return m
}

func TestNewManagerValidatesPrefix(t *testing.T) {
	_, err := NewManager(t.TempDir(), "")
	assert.Error(t, err)

	_, err = NewManager(t.TempDir(), "a/b")
	assert.Error(t, err)
}

func TestCreateLaysOutSandbox(t *testing.T) {
	m := newTestManager(t)

	sb, err := m.Create(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Remove(sb) })

	assert.True(t, strings.HasPrefix(sb.Name, "builder-test-"))
	assert.Equal(t, filepath.Join(m.BaseDir(), sb.Name), sb.RootPath)
	assert.Equal(t, filepath.Join(sb.RootPath, KeyDirName), sb.KeyDir)
	assert.Equal(t, filepath.Join(sb.RootPath, LogFileName), sb.LogPath)

	info, err := os.Stat(sb.KeyDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())

	state, err := LoadRunState(sb.RootPath)
	require.NoError(t, err)
	assert.Equal(t, sb.ID, state.ID)
}

func TestCreateUsesFreshNames(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		sb, err := m.Create(ctx)
		require.NoError(t, err)
		t.Cleanup(func() { _ = m.Remove(sb) })

		assert.False(t, seen[sb.RootPath], "duplicate sandbox root %s", sb.RootPath)
		seen[sb.RootPath] = true
	}
}

func TestCreateHonoursCancelledContext(t *testing.T) {
	m := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Create(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRemoveIsIdempotent(t *testing.T) {
	m := newTestManager(t)

	sb, err := m.Create(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(sb.RootPath, "services.log"), []byte("hello\n"), 0644))

	require.NoError(t, m.Remove(sb))
	_, err = os.Stat(sb.RootPath)
	assert.True(t, os.IsNotExist(err), "expected sandbox root to be gone")
	assert.Equal(t, SandboxStateRemoved, sb.State)

	require.NoError(t, m.Remove(sb))
	assert.Error(t, sb.Record(nil), "recording after removal must fail")
}

func TestRecordPersistsState(t *testing.T) {
	m := newTestManager(t)

	sb, err := m.Create(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Remove(sb) })

	require.NoError(t, sb.Record(func(s *RunState) {
		s.DatastoreDir = sb.RootPath
		s.SupervisorPID = 4242
	}))

	state, err := LoadRunState(sb.RootPath)
	require.NoError(t, err)
	assert.Equal(t, 4242, state.SupervisorPID)
	assert.Equal(t, sb.RootPath, state.DatastoreDir)
	assert.Equal(t, sb.ID, state.ID)
	assert.Equal(t, 4242, sb.RunState().SupervisorPID)
}

func TestPathRejectsEscapes(t *testing.T) {
	m := newTestManager(t)

	sb, err := m.Create(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Remove(sb) })

	p, err := sb.Path("depot")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sb.RootPath, "depot"), p)

	_, err = sb.Path("..", "elsewhere")
	assert.Error(t, err)

	kp, err := sb.KeyPath("bldr.pub")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sb.KeyDir, "bldr.pub"), kp)

	_, err = sb.KeyPath("../bldr.pub")
	assert.Error(t, err)
}

func TestOrphansSkipsLiveRuns(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	live, err := m.Create(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Remove(live) })

	abandoned, err := m.Create(ctx)
	require.NoError(t, err)
	// Simulate an interrupted run: the lock is released but the tree stays.
	abandoned.lock.Unlock()

	require.NoError(t, os.Mkdir(filepath.Join(m.BaseDir(), "unrelated"), 0755))

	orphans, err := m.Orphans()
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, abandoned.Name, orphans[0].Name)
	require.NotNil(t, orphans[0].State)
	assert.Equal(t, abandoned.ID, orphans[0].State.ID)

	require.NoError(t, m.RemoveOrphan(orphans[0]))
	_, err = os.Stat(abandoned.RootPath)
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveOrphanRefusesForeignPaths(t *testing.T) {
	m := newTestManager(t)
	err := m.RemoveOrphan(Orphan{Name: "x", RootPath: t.TempDir()})
	assert.Error(t, err)
}
