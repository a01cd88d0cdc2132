// Package orchestrator runs the main tick loop that ties together the
// Store, PortAllocator, WorktreeManager, Gatekeeper, and WorkerSupervisor:
// it claims work, spawns workers, recovers from crashes, drains the cleanup
// queue, drives the Gatekeeper, and blocks unresolvable dependencies.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/autocoder-run/core/internal/cleanup"
	"github.com/autocoder-run/core/internal/config"
	"github.com/autocoder-run/core/internal/gatekeeper"
	"github.com/autocoder-run/core/internal/lock"
	"github.com/autocoder-run/core/internal/portalloc"
	"github.com/autocoder-run/core/internal/store"
	"github.com/autocoder-run/core/internal/supervisor"
	"github.com/autocoder-run/core/internal/worktree"
)

// WorkerSpawner abstracts process spawning so tests can substitute a fake
// without launching real binaries. DefaultSpawner satisfies it.
type WorkerSpawner interface {
	Start(ctx context.Context, cfg supervisor.SpawnConfig) (PID int, createTime time.Time, err error)
	Cancel(agentID string) bool
}

// Options configures one Orchestrator instance.
type Options struct {
	ProjectDir string
	RepoRoot   string
	MaxAgents  int

	Env *config.EnvConfig

	MinPollInterval time.Duration
	MaxPollInterval time.Duration

	BranchPrefix     string
	WorkerCommand    string
	WorkerEntryPoint string
	PIDTolerance     time.Duration
	StaleThreshold   time.Duration

	Logger zerolog.Logger
}

// Orchestrator owns one run of the engine against one project directory.
type Orchestrator struct {
	opts Options

	store            *store.Store
	ports            *portalloc.Allocator
	worktrees        *worktree.Manager
	gate             *gatekeeper.Gatekeeper
	locks            *lock.Service
	cleanupQ         *cleanup.Queue
	spawner          WorkerSpawner
	locksDir         string
	cfgWatch         *config.Watcher
	stopCleanupWatch func()

	pollInterval time.Duration
	log          zerolog.Logger
}

// New wires every component constructor around the given Store and spawner,
// in the order PortAllocator (bootstrapped from the Store) → Gatekeeper →
// lock service → cleanup queue → WorktreeManager.
func New(opts Options, st *store.Store, spawner WorkerSpawner) (*Orchestrator, error) {
	if opts.Env == nil {
		opts.Env = config.Default()
	}
	if opts.MinPollInterval == 0 {
		opts.MinPollInterval = 2 * time.Second
	}
	if opts.MaxPollInterval == 0 {
		opts.MaxPollInterval = 30 * time.Second
	}
	if opts.BranchPrefix == "" {
		opts.BranchPrefix = "feature"
	}
	if opts.PIDTolerance == 0 {
		opts.PIDTolerance = 5 * time.Second
	}
	if opts.StaleThreshold == 0 {
		opts.StaleThreshold = supervisor.DefaultStaleThreshold
	}

	ports := portalloc.New(
		portalloc.Range{Start: opts.Env.APIPortRangeStart, End: opts.Env.APIPortRangeEnd},
		portalloc.Range{Start: opts.Env.WebPortRangeStart, End: opts.Env.WebPortRangeEnd},
		!opts.Env.SkipPortCheck,
	)
	if err := ports.Bootstrap(heartbeatSourceAdapter{st}); err != nil {
		return nil, fmt.Errorf("orchestrator: bootstrap ports: %w", err)
	}

	gate := gatekeeper.New(opts.RepoRoot, opts.ProjectDir, 30*time.Minute)

	locksDir := opts.ProjectDir + "/.autocoder/locks"
	locks, err := lock.NewService(locksDir)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: lock service: %w", err)
	}

	// The cleanup queue's remover closes over the worktree Manager once it
	// exists; wt is assigned just below, before Process is ever called.
	var wt *worktree.Manager
	queuePath := opts.ProjectDir + "/.autocoder/cleanup_queue.json"
	cq, err := cleanup.NewQueue(queuePath, func(path string) error { return wt.RemovePath(path) })
	if err != nil {
		return nil, fmt.Errorf("orchestrator: cleanup queue: %w", err)
	}
	wt = worktree.NewManager(opts.RepoRoot, 2*time.Minute, cq)

	o := &Orchestrator{
		opts:         opts,
		store:        st,
		ports:        ports,
		worktrees:    wt,
		gate:         gate,
		locks:        locks,
		cleanupQ:     cq,
		spawner:      spawner,
		locksDir:     locksDir,
		pollInterval: opts.MinPollInterval,
		log:          opts.Logger,
	}

	// Hot-reload is best-effort: a project without a watchable directory
	// (e.g. a bare temp dir in tests) just never gets reload notifications.
	if watcher, err := config.WatchProjectConfig(opts.ProjectDir, o.onConfigChanged); err == nil {
		o.cfgWatch = watcher
	}
	if stop, err := cq.WatchDir(locksDir); err == nil {
		o.stopCleanupWatch = stop
	}

	return o, nil
}

func (o *Orchestrator) onConfigChanged(cfg *config.ProjectConfig) {
	o.log.Info().Str("preset", string(cfg.Preset)).Msg("autocoder.yaml changed; gatekeeper will use the new verification commands on its next run")
}
