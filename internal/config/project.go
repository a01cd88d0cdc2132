package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Preset names a built-in verification command bundle, inferred from repo
// signals when autocoder.yaml does not name one explicitly.
type Preset string

const (
	PresetPythonUV  Preset = "python-uv"
	PresetPython    Preset = "python"
	PresetNodeNPM   Preset = "node-npm"
	PresetGo        Preset = "go"
	PresetRust      Preset = "rust"
	PresetUnknown   Preset = ""
)

// CommandSpec is one entry in the verification command map.
type CommandSpec struct {
	Command   string `yaml:"command"`
	TimeoutS  int    `yaml:"timeout"`
	AllowFail bool   `yaml:"allow_fail"`
}

// ReviewConfig controls the optional advisory/gate review step.
type ReviewConfig struct {
	Enabled bool   `yaml:"enabled"`
	Mode    string `yaml:"mode"` // off | advisory | gate
	Type    string `yaml:"type"` // none | command | ...
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout"`
}

// ProjectConfig is the parsed contents of a project's autocoder.yaml.
type ProjectConfig struct {
	Preset   Preset                 `yaml:"preset"`
	Commands map[string]CommandSpec `yaml:"commands"`
	Review   ReviewConfig           `yaml:"review"`
}

// CommandCategoryOrder is the order categories run in during verification,
// per the Gatekeeper protocol: setup first, then test/lint/typecheck/format/
// build/acceptance, then any additional user-defined commands sorted by key.
var CommandCategoryOrder = []string{
	"setup", "test", "lint", "typecheck", "format", "build", "acceptance",
}

// LoadProjectConfig reads autocoder.yaml from dir, or returns a config with
// no preset set if the file is absent (the caller infers one from repo
// signals via DetectPreset).
func LoadProjectConfig(dir string) (*ProjectConfig, error) {
	path := filepath.Join(dir, "autocoder.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ProjectConfig{Commands: map[string]CommandSpec{}}, nil
		}
		return nil, err
	}
	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.Commands == nil {
		cfg.Commands = map[string]CommandSpec{}
	}
	return &cfg, nil
}

// DetectPreset infers a preset from repo signals present in dir, in the
// order prescribed by the Gatekeeper protocol: pyproject.toml+uv.lock wins
// over plain requirements.txt, then package.json, go.mod, Cargo.toml.
func DetectPreset(dir string) Preset {
	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(dir, name))
		return err == nil
	}
	switch {
	case exists("pyproject.toml") && exists("uv.lock"):
		return PresetPythonUV
	case exists("requirements.txt"):
		return PresetPython
	case exists("package.json"):
		return PresetNodeNPM
	case exists("go.mod"):
		return PresetGo
	case exists("Cargo.toml"):
		return PresetRust
	default:
		return PresetUnknown
	}
}

// pythonInterpreter resolves the {PY} placeholder: python3 on POSIX, python
// on Windows, matching the platform-aware convention used throughout the
// preset command templates.
func pythonInterpreter() string {
	if runtime.GOOS == "windows" {
		return "python"
	}
	return "python3"
}

// venvPythonPath resolves the {VENV_PY} placeholder to the project-local
// virtualenv interpreter path for the current platform.
func venvPythonPath(dir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(dir, ".venv", "Scripts", "python.exe")
	}
	return filepath.Join(dir, ".venv", "bin", "python")
}

// ExpandPlaceholders substitutes {PY} and {VENV_PY} in a command string.
func ExpandPlaceholders(command, dir string) string {
	command = strings.ReplaceAll(command, "{PY}", pythonInterpreter())
	command = strings.ReplaceAll(command, "{VENV_PY}", venvPythonPath(dir))
	return command
}

// presetCommands returns the synthesized command map for a built-in preset.
// The Node preset's setup command is resolved later, once the worktree
// contents are known, via StrongestNodeInstall.
func presetCommands(p Preset) map[string]CommandSpec {
	switch p {
	case PresetPythonUV:
		return map[string]CommandSpec{
			"setup": {Command: "uv sync", TimeoutS: 900},
			"test":  {Command: "uv run pytest", TimeoutS: 900},
			"lint":  {Command: "uv run ruff check .", TimeoutS: 600, AllowFail: true},
		}
	case PresetPython:
		return map[string]CommandSpec{
			"setup": {Command: "{PY} -m pip install -r requirements.txt", TimeoutS: 900},
			"test":  {Command: "{VENV_PY} -m pytest", TimeoutS: 900},
		}
	case PresetNodeNPM:
		return map[string]CommandSpec{
			"setup": {Command: "npm install", TimeoutS: 900},
			"test":  {Command: "npm test", TimeoutS: 900},
			"build": {Command: "npm run build", TimeoutS: 1800, AllowFail: true},
		}
	case PresetGo:
		return map[string]CommandSpec{
			"setup": {Command: "go mod download", TimeoutS: 600},
			"test":  {Command: "go test ./...", TimeoutS: 900},
			"build": {Command: "go build ./...", TimeoutS: 900},
		}
	case PresetRust:
		return map[string]CommandSpec{
			"setup": {Command: "cargo fetch", TimeoutS: 600},
			"test":  {Command: "cargo test", TimeoutS: 1200},
			"build": {Command: "cargo build", TimeoutS: 1800},
		}
	default:
		return map[string]CommandSpec{}
	}
}

// ResolveCommands merges the preset's synthesized commands with the
// project's explicit command map (project wins key-by-key), then filters
// out any npm-run entries referencing a missing package.json script so the
// Gatekeeper never shells out to `npm run <missing>`.
func ResolveCommands(cfg *ProjectConfig, dir string) map[string]CommandSpec {
	preset := cfg.Preset
	if preset == PresetUnknown {
		preset = DetectPreset(dir)
	}
	merged := presetCommands(preset)
	for k, v := range cfg.Commands {
		merged[k] = v
	}
	if preset == PresetNodeNPM {
		if setup, ok := merged["setup"]; ok && strings.TrimSpace(setup.Command) == "npm install" {
			setup.Command = StrongestNodeInstall(dir)
			merged["setup"] = setup
		}
		merged = filterMissingNPMScripts(merged, dir)
	}
	return merged
}

// StrongestNodeInstall picks the strongest available install command for a
// Node project, in the order the Gatekeeper protocol prescribes: pnpm with
// a frozen lockfile, then yarn with a frozen lockfile, then `npm ci` (only
// when package-lock.json exists), falling back to `npm install`.
func StrongestNodeInstall(dir string) string {
	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(dir, name))
		return err == nil
	}
	switch {
	case exists("pnpm-lock.yaml"):
		return "pnpm install --frozen-lockfile"
	case exists("yarn.lock"):
		return "yarn install --frozen-lockfile"
	case exists("package-lock.json"):
		return "npm ci"
	default:
		return "npm install"
	}
}

func filterMissingNPMScripts(commands map[string]CommandSpec, dir string) map[string]CommandSpec {
	scripts := readPackageScripts(dir)
	if scripts == nil {
		return commands
	}
	for key, spec := range commands {
		fields := strings.Fields(spec.Command)
		if len(fields) >= 3 && fields[0] == "npm" && fields[1] == "run" {
			if _, ok := scripts[fields[2]]; !ok {
				delete(commands, key)
			}
		}
	}
	return commands
}

func readPackageScripts(dir string) map[string]string {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return nil
	}
	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil
	}
	return pkg.Scripts
}
