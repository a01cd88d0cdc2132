package orchestrator

import (
	"context"
	"time"

	"github.com/autocoder-run/core/internal/portalloc"
	"github.com/autocoder-run/core/internal/procwatch"
	"github.com/autocoder-run/core/internal/store"
	"github.com/autocoder-run/core/internal/supervisor"
)

// DefaultSpawner adapts supervisor.Supervisor to the WorkerSpawner
// interface: Start launches the process and reaps it in the background so
// its exit doesn't block the tick loop, then drops it from the Supervisor's
// tracking. The exit code is not inspected and nothing is written to the
// Store when the process exits.
type DefaultSpawner struct {
	sup *supervisor.Supervisor
	st  *store.Store
}

// NewDefaultSpawner wraps a supervisor.Supervisor for use by Orchestrator.
func NewDefaultSpawner(st *store.Store) *DefaultSpawner {
	return &DefaultSpawner{sup: supervisor.NewSupervisor(), st: st}
}

// Start launches the worker process and returns its PID and OS creation
// time for PID-reuse-safe crash detection later.
func (d *DefaultSpawner) Start(ctx context.Context, cfg supervisor.SpawnConfig) (int, time.Time, error) {
	cmd, err := d.sup.Start(ctx, cfg)
	if err != nil {
		return 0, time.Time{}, err
	}
	pid := cmd.Process.Pid
	createTime, err := procwatch.CreationTime(pid)
	if err != nil {
		createTime = time.Now()
	}
	go func() {
		_ = cmd.Wait()
		d.sup.Forget(cfg.AgentID)
	}()
	return pid, createTime, nil
}

// Cancel stops a tracked worker.
func (d *DefaultSpawner) Cancel(agentID string) bool {
	return d.sup.Cancel(agentID)
}

// heartbeatSourceAdapter adapts store.Store to portalloc.HeartbeatSource,
// which wants the port pair alone rather than the full heartbeat row.
type heartbeatSourceAdapter struct {
	st *store.Store
}

func (h heartbeatSourceAdapter) GetActiveAgents() ([]portalloc.ActiveAgentPorts, error) {
	agents, err := h.st.GetActiveAgents()
	if err != nil {
		return nil, err
	}
	out := make([]portalloc.ActiveAgentPorts, 0, len(agents))
	for _, a := range agents {
		out = append(out, portalloc.ActiveAgentPorts{AgentID: a.AgentID, APIPort: a.APIPort, WebPort: a.WebPort})
	}
	return out, nil
}
