package gatekeeper

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
	return string(out)
}

// initRepoWithFeatureBranch creates a real repo on main with a go.mod at
// the root, then a feature branch with one additional commit.
func initRepoWithFeatureBranch(t *testing.T, branch string, testCommand string) string {
	t.Helper()
	dir := t.TempDir()
	run(t, dir, "init", "-b", "main")
	run(t, dir, "config", "user.email", "test@example.com")
	run(t, dir, "config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/proof\n\ngo 1.21\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "autocoder.yaml"), []byte("commands:\n  test:\n    command: \""+testCommand+"\"\n    timeout: 30\n"), 0o644))
	run(t, dir, "add", "-A")
	run(t, dir, "commit", "-m", "initial")

	run(t, dir, "checkout", "-b", branch)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "feature.txt"), []byte("new feature\n"), 0o644))
	run(t, dir, "add", "-A")
	run(t, dir, "commit", "-m", "add feature")
	run(t, dir, "checkout", "main")
	return dir
}

func TestVerifyAndMergeApprovesOnPassingCommands(t *testing.T) {
	dir := initRepoWithFeatureBranch(t, "feature/1-x", "true")
	g := New(dir, dir, 10*time.Second)

	result, err := g.VerifyAndMerge(Options{BranchName: "feature/1-x", FeatureID: 1})
	require.NoError(t, err)
	assert.True(t, result.Approved, "reason: %s", result.Reason)
	assert.NotEmpty(t, result.MergeCommit)
	assert.NotEmpty(t, result.DiffFingerprint)
	assert.FileExists(t, result.ArtifactPath)

	out := run(t, dir, "log", "--oneline", "-1")
	assert.Contains(t, out, "Merge feature/1-x")

	assert.FileExists(t, filepath.Join(dir, "feature.txt"), "main should now contain the merged feature file")
}

func TestVerifyAndMergeRejectsOnFailingCommand(t *testing.T) {
	dir := initRepoWithFeatureBranch(t, "feature/2-x", "false")
	g := New(dir, dir, 10*time.Second)

	result, err := g.VerifyAndMerge(Options{BranchName: "feature/2-x", FeatureID: 2})
	require.NoError(t, err)
	assert.False(t, result.Approved)
	assert.Contains(t, result.Reason, "verification command")
	assert.NotEmpty(t, result.DiffFingerprint, "fingerprint is returned on rejection too")

	out := run(t, dir, "log", "--oneline", "-1")
	assert.NotContains(t, out, "Merge feature/2-x", "main must not advance on rejection")
}

func TestVerifyAndMergeRejectsDirtyMainTree(t *testing.T) {
	dir := initRepoWithFeatureBranch(t, "feature/3-x", "true")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "uncommitted.txt"), []byte("oops\n"), 0o644))
	g := New(dir, dir, 10*time.Second)

	result, err := g.VerifyAndMerge(Options{BranchName: "feature/3-x", FeatureID: 3})
	require.NoError(t, err)
	assert.False(t, result.Approved)
	assert.Contains(t, result.Reason, "dirty")
}

func TestVerifyAndMergeDetectsMergeConflict(t *testing.T) {
	dir := t.TempDir()
	run(t, dir, "init", "-b", "main")
	run(t, dir, "config", "user.email", "test@example.com")
	run(t, dir, "config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shared.txt"), []byte("base\n"), 0o644))
	run(t, dir, "add", "-A")
	run(t, dir, "commit", "-m", "initial")

	run(t, dir, "checkout", "-b", "feature/conflict")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shared.txt"), []byte("feature change\n"), 0o644))
	run(t, dir, "add", "-A")
	run(t, dir, "commit", "-m", "feature edit")
	run(t, dir, "checkout", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shared.txt"), []byte("main change\n"), 0o644))
	run(t, dir, "add", "-A")
	run(t, dir, "commit", "-m", "main edit")

	g := New(dir, dir, 10*time.Second)
	result, err := g.VerifyAndMerge(Options{BranchName: "feature/conflict", FeatureID: 4})
	require.NoError(t, err)
	assert.False(t, result.Approved)
	assert.True(t, result.MergeConflict)
}

// proofRepoFixture locates the standalone Go fixture under tests/fixtures,
// used to exercise the "go" preset against a real buildable module instead
// of a synthetic "true"/"false" stand-in command.
func proofRepoFixture(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "tests", "fixtures", "proof-repo")
}

func copyFile(t *testing.T, src, dst string) {
	t.Helper()
	in, err := os.Open(src)
	require.NoError(t, err)
	defer in.Close()
	out, err := os.Create(dst)
	require.NoError(t, err)
	defer out.Close()
	_, err = io.Copy(out, in)
	require.NoError(t, err)
}

// TestVerifyAndMergeRunsGoPresetAgainstProofFixture exercises the detected
// "go" preset (go mod download, go test, go build) against a real module
// instead of a synthetic pass/fail command, so a regression in command
// detection or working-directory plumbing shows up even when the synthetic
// command tests above still pass.
func TestVerifyAndMergeRunsGoPresetAgainstProofFixture(t *testing.T) {
	fixture := proofRepoFixture(t)
	dir := t.TempDir()
	copyFile(t, filepath.Join(fixture, "go.mod"), filepath.Join(dir, "go.mod"))
	copyFile(t, filepath.Join(fixture, "main.go"), filepath.Join(dir, "main.go"))

	run(t, dir, "init", "-b", "main")
	run(t, dir, "config", "user.email", "test@example.com")
	run(t, dir, "config", "user.name", "test")
	run(t, dir, "add", "-A")
	run(t, dir, "commit", "-m", "initial")

	run(t, dir, "checkout", "-b", "feature/6-comment")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("proof repo fixture\n"), 0o644))
	run(t, dir, "add", "-A")
	run(t, dir, "commit", "-m", "add readme")
	run(t, dir, "checkout", "main")

	g := New(dir, dir, 2*time.Minute)
	result, err := g.VerifyAndMerge(Options{BranchName: "feature/6-comment", FeatureID: 6})
	require.NoError(t, err)
	assert.True(t, result.Approved, "reason: %s", result.Reason)
	assert.Contains(t, result.Verification, "test")
	assert.Contains(t, result.Verification, "build")
}

func TestVerifyCommandsOnly(t *testing.T) {
	dir := initRepoWithFeatureBranch(t, "feature/5-x", "true")
	g := New(dir, dir, 10*time.Second)

	result, err := g.VerifyCommandsOnly(dir, false)
	require.NoError(t, err)
	assert.True(t, result.Approved)
}
