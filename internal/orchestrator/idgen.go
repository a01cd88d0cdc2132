package orchestrator

import "github.com/google/uuid"

// generateAgentID mints a fresh agent_id for a worker about to be spawned.
// Short enough to stay readable in logs and worktree paths, unique enough
// that PID reuse across agent_ids never aliases two live workers.
func generateAgentID() string {
	return "agent-" + uuid.NewString()[:8]
}
