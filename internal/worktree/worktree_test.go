package worktree

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initTestRepo creates a real git repository with one commit on main, so
// worktree tests exercise actual git plumbing rather than mocks.
func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

func TestCreateWorktreeFromMain(t *testing.T) {
	repo := initTestRepo(t)
	m := NewManager(repo, 10*time.Second, nil)

	info, err := m.CreateWorktree("agent-1", 42, "add login", "")
	require.NoError(t, err)
	assert.Equal(t, "feature/42-add-login", info.Branch)
	assert.DirExists(t, info.Path)
}

func TestCreateWorktreeResumesExistingBranch(t *testing.T) {
	repo := initTestRepo(t)
	m := NewManager(repo, 10*time.Second, nil)

	info1, err := m.CreateWorktree("agent-1", 1, "thing", "feature/1-thing")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(info1.Path, "work.txt"), []byte("wip\n"), 0o644))
	addCmd := exec.Command("git", "add", "-A")
	addCmd.Dir = info1.Path
	require.NoError(t, addCmd.Run())
	commitCmd := exec.Command("git", "commit", "-m", "wip")
	commitCmd.Dir = info1.Path
	require.NoError(t, commitCmd.Run())

	require.NoError(t, m.DeleteWorktree("agent-1", true))

	info2, err := m.CreateWorktree("agent-1", 1, "thing", "feature/1-thing")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(info2.Path, "work.txt"), "resuming the branch should keep prior commits")
}

func TestSanitizeAgentIDStripsUnsafeChars(t *testing.T) {
	assert.Equal(t, "agent-1", sanitizeAgentID("agent/1"))
	assert.Equal(t, "agent", sanitizeAgentID("///"))
}

func TestIsWorktreeCleanAndCheckpoint(t *testing.T) {
	repo := initTestRepo(t)
	m := NewManager(repo, 10*time.Second, nil)

	info, err := m.CreateWorktree("agent-1", 1, "f", "")
	require.NoError(t, err)

	clean, err := m.IsWorktreeClean("agent-1")
	require.NoError(t, err)
	assert.True(t, clean)

	require.NoError(t, os.WriteFile(filepath.Join(info.Path, "new.txt"), []byte("x\n"), 0o644))

	clean, err = m.IsWorktreeClean("agent-1")
	require.NoError(t, err)
	assert.False(t, clean)

	require.NoError(t, m.CommitCheckpoint("agent-1", "checkpoint 1"))

	clean, err = m.IsWorktreeClean("agent-1")
	require.NoError(t, err)
	assert.True(t, clean)

	require.NoError(t, m.RollbackToLastCheckpoint("agent-1", 1))
	assert.NoFileExists(t, filepath.Join(info.Path, "new.txt"))
}

func TestDeleteWorktreeRemovesPath(t *testing.T) {
	repo := initTestRepo(t)
	m := NewManager(repo, 10*time.Second, nil)

	info, err := m.CreateWorktree("agent-1", 1, "f", "")
	require.NoError(t, err)

	require.NoError(t, m.DeleteWorktree("agent-1", true))
	assert.NoDirExists(t, info.Path)
}

func TestCreateWorktreeRejectsOutsideGitRepo(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, 2*time.Second, nil)
	_, err := m.CreateWorktree("agent-1", 1, "f", "")
	assert.ErrorIs(t, err, ErrNotGitRepo)
}
