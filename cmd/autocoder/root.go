// Command autocoder is the orchestration engine's entry point: it spawns
// and supervises worker agents against a project's backlog, draining it via
// the Store, PortAllocator, WorktreeManager, Gatekeeper, and
// WorkerSupervisor until the backlog is done or the operator stops it.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/autocoder-run/core/internal/config"
)

var (
	projectDir string
	repoRoot   string
	maxAgents  int
	logLevel   string
	logJSON    bool
)

var rootCmd = &cobra.Command{
	Use:   "autocoder",
	Short: "Multi-agent feature orchestration engine",
	Long: `autocoder drives a project's feature backlog to completion by spawning
worker agents in isolated git worktrees, verifying and merging their work
through a deterministic Gatekeeper protocol, and recovering automatically
from crashed or stale workers.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits with the documented status code:
// 0 success, 1 error, 2 nothing to do.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	wd, _ := os.Getwd()
	rootCmd.PersistentFlags().StringVar(&projectDir, "project-dir", wd, "project directory (holds agent_system.db, autocoder.yaml, .autocoder/)")
	rootCmd.PersistentFlags().StringVar(&repoRoot, "repo-root", "", "git repository root (defaults to project-dir)")
	rootCmd.PersistentFlags().IntVar(&maxAgents, "max-agents", 3, "maximum concurrent worker agents")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON instead of a console writer")
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var base zerolog.Logger
	if logJSON {
		base = zerolog.New(os.Stderr)
	} else {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return base.Level(level).With().Timestamp().Logger()
}

func resolveRepoRoot() string {
	if repoRoot != "" {
		return repoRoot
	}
	return projectDir
}

func loadEnvConfig() *config.EnvConfig {
	return config.Load()
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
