package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectPresetPrefersPythonUVOverRequirements(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "uv.lock"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte(""), 0o644))

	assert.Equal(t, PresetPythonUV, DetectPreset(dir))
}

func TestDetectPresetFallsBackToGo(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0o644))

	assert.Equal(t, PresetGo, DetectPreset(dir))
}

func TestDetectPresetUnknownWhenNoSignals(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, PresetUnknown, DetectPreset(dir))
}

func TestResolveCommandsProjectOverridesPreset(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0o644))

	cfg := &ProjectConfig{Commands: map[string]CommandSpec{
		"test": {Command: "go test -run TestSmoke ./...", TimeoutS: 60},
	}}
	commands := ResolveCommands(cfg, dir)
	assert.Equal(t, "go test -run TestSmoke ./...", commands["test"].Command)
	assert.Equal(t, "go mod download", commands["setup"].Command, "unspecified categories keep the preset default")
}

func TestResolveCommandsNodeInstallPicksStrongestLockfile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"scripts":{"test":"jest"}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pnpm-lock.yaml"), []byte(""), 0o644))

	commands := ResolveCommands(&ProjectConfig{}, dir)
	assert.Equal(t, "pnpm install --frozen-lockfile", commands["setup"].Command)
}

func TestResolveCommandsFiltersMissingNPMScript(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"scripts":{"test":"jest"}}`), 0o644))

	cfg := &ProjectConfig{Commands: map[string]CommandSpec{
		"lint": {Command: "npm run lint"},
	}}
	commands := ResolveCommands(cfg, dir)
	_, hasLint := commands["lint"]
	assert.False(t, hasLint, "npm run lint should be dropped when package.json has no lint script")
	assert.Contains(t, commands["test"].Command, "npm test")
}

func TestExpandPlaceholders(t *testing.T) {
	dir := t.TempDir()
	got := ExpandPlaceholders("{PY} -m pip install -r requirements.txt", dir)
	assert.Contains(t, got, "python3")
}
