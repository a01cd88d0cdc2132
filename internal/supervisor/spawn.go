package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// Supervisor tracks running worker processes so callers can look up or
// cancel a worker by agent ID.
type Supervisor struct {
	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewSupervisor returns an empty Supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{running: make(map[string]context.CancelFunc)}
}

// Spawn builds, but does not start, the worker command for cfg, bound to a
// context derived from parent (or Background if parent is nil) with
// cfg.Timeout applied when set. Calling the returned cancel func stops the
// process early. The caller is responsible for calling Start and then Wait
// on the returned *exec.Cmd.
func Spawn(parent context.Context, cfg SpawnConfig) (*exec.Cmd, context.CancelFunc, error) {
	if parent == nil {
		parent = context.Background()
	}
	command := cfg.Command
	if command == "" {
		command = WorkerEntryPoint
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, nil, fmt.Errorf("supervisor: worker binary %q not found: %w", command, err)
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, cfg.Timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}

	args := []string{
		"--project-dir", cfg.ProjectDir,
		"--agent-id", cfg.AgentID,
		"--feature-id", strconv.FormatInt(cfg.FeatureID, 10),
		"--worktree-path", cfg.WorktreePath,
		"--api-port", strconv.Itoa(cfg.APIPort),
		"--web-port", strconv.Itoa(cfg.WebPort),
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = cfg.WorktreePath
	cmd.Env = buildWorkerEnv(cfg)
	return cmd, cancel, nil
}

// buildWorkerEnv constructs the child's environment: the parent's own
// environment plus the spawn contract's required and optional variables.
func buildWorkerEnv(cfg SpawnConfig) []string {
	env := append([]string(nil), os.Environ()...)
	env = append(env,
		"AUTOCODER_AGENT_ID="+cfg.AgentID,
		"AUTOCODER_API_PORT="+strconv.Itoa(cfg.APIPort),
		"AUTOCODER_WEB_PORT="+strconv.Itoa(cfg.WebPort),
		"AUTOCODER_GUARDRAIL_MAX_TOOL_CALLS="+strconv.Itoa(cfg.Guardrails.MaxToolCalls),
		"AUTOCODER_GUARDRAIL_MAX_CONSECUTIVE_TOOL_ERRORS="+strconv.Itoa(cfg.Guardrails.MaxConsecutiveToolErrors),
		"AUTOCODER_GUARDRAIL_MAX_TOOL_ERRORS="+strconv.Itoa(cfg.Guardrails.MaxToolErrors),
	)
	if cfg.RequireGatekeeper {
		env = append(env, "AUTOCODER_REQUIRE_GATEKEEPER=1")
	}
	if cfg.LockDir != "" {
		env = append(env, "AUTOCODER_LOCK_DIR="+cfg.LockDir)
	}
	if cfg.LocksEnabled {
		env = append(env, "AUTOCODER_LOCKS_ENABLED=1")
	}
	return env
}

// Start launches the worker and registers it under agentID for later
// cancellation. The caller must arrange to call s.Forget(agentID) once the
// process has been waited on.
func (s *Supervisor) Start(parent context.Context, cfg SpawnConfig) (*exec.Cmd, error) {
	cmd, cancel, err := Spawn(parent, cfg)
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("supervisor: start worker %s: %w", cfg.AgentID, err)
	}
	s.mu.Lock()
	s.running[cfg.AgentID] = cancel
	s.mu.Unlock()
	return cmd, nil
}

// Cancel stops a running worker by agent ID, if still tracked. Returns
// false if no such worker is tracked (already exited or never started).
func (s *Supervisor) Cancel(agentID string) bool {
	s.mu.Lock()
	cancel, ok := s.running[agentID]
	delete(s.running, agentID)
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Forget removes bookkeeping for a worker that has exited on its own,
// without cancelling it (it's already gone).
func (s *Supervisor) Forget(agentID string) {
	s.mu.Lock()
	delete(s.running, agentID)
	s.mu.Unlock()
}

// IsTracked reports whether agentID currently has a tracked running process.
func (s *Supervisor) IsTracked(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[agentID]
	return ok
}

// SpawnResultFromCmd extracts the fields the Orchestrator persists to the
// Store right after a successful Start.
func SpawnResultFromCmd(cmd *exec.Cmd, createTime time.Time) SpawnResult {
	return SpawnResult{
		PID:               cmd.Process.Pid,
		StartedAt:         time.Now(),
		ProcessCreateTime: createTime.Unix(),
	}
}
