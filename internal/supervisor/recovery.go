package supervisor

import (
	"time"

	"github.com/autocoder-run/core/internal/procwatch"
)

// AgentRecoveryAction is the recovery decision for one stale ACTIVE
// heartbeat, per the crash-salvage-vs-retry rule.
type AgentRecoveryAction int

const (
	// ActionSalvage promotes the feature to READY_FOR_VERIFICATION and
	// marks the heartbeat COMPLETED: the branch has commits ahead of main.
	ActionSalvage AgentRecoveryAction = iota
	// ActionRetry clears the feature back to PENDING (no attempt increment)
	// and marks the heartbeat CRASHED: no commits were ever produced.
	ActionRetry
)

// StaleAgentInput is what the Orchestrator's recovery pass gathers before
// deciding an outcome for one stale heartbeat.
type StaleAgentInput struct {
	PID                int
	RecordedCreateTime time.Time
	EntryPoint         string // e.g. "agent_worker"; empty skips the cmdline check
	PIDTolerance       time.Duration
	BranchHasCommits   bool // true if the feature branch is ahead of main
}

// StaleAgentDecision is the result of inspecting one stale heartbeat.
type StaleAgentDecision struct {
	Action      AgentRecoveryAction
	PIDMismatch bool // true if the PID was found to belong to a different process
	Reason      string
}

// InspectStaleAgent applies the PID identity guard and the salvage-vs-retry
// rule. A PID mismatch (reused PID) never causes the Supervisor to kill
// anything; it only means the PID can't be trusted as evidence that the
// agent is still alive, so recovery proceeds on branch evidence alone.
func InspectStaleAgent(in StaleAgentInput) StaleAgentDecision {
	mismatch := false
	if in.PID > 0 {
		same := procwatch.IsSameProcess(in.PID, in.EntryPoint, in.RecordedCreateTime, in.PIDTolerance)
		if !same {
			mismatch = true
		}
	}

	if in.BranchHasCommits {
		reason := "branch has commits ahead of main"
		if mismatch {
			reason = "unexpected process for recorded PID; " + reason
		}
		return StaleAgentDecision{Action: ActionSalvage, PIDMismatch: mismatch, Reason: reason}
	}

	reason := "no commits ahead of main"
	if mismatch {
		reason = "unexpected process for recorded PID; " + reason
	}
	return StaleAgentDecision{Action: ActionRetry, PIDMismatch: mismatch, Reason: reason}
}

// DefaultHeartbeatIntervalSeconds is the child's default last_ping cadence,
// bounded below at DefaultMinHeartbeatIntervalSeconds.
const DefaultHeartbeatIntervalSeconds = 60

// DefaultMinHeartbeatIntervalSeconds is the lowest heartbeat_seconds the
// Supervisor will accept from configuration.
const DefaultMinHeartbeatIntervalSeconds = 5

// DefaultStaleThreshold is the Orchestrator's default staleness window for
// an ACTIVE heartbeat before it's eligible for recovery.
const DefaultStaleThreshold = 10 * time.Minute

// NormalizeHeartbeatInterval clamps a configured heartbeat interval to the
// documented floor.
func NormalizeHeartbeatInterval(seconds int) int {
	if seconds < DefaultMinHeartbeatIntervalSeconds {
		return DefaultMinHeartbeatIntervalSeconds
	}
	return seconds
}
