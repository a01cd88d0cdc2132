package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/autocoder-run/core/internal/gatekeeper"
	"github.com/autocoder-run/core/internal/metrics"
	"github.com/autocoder-run/core/internal/store"
	"github.com/autocoder-run/core/internal/supervisor"
)

// TickStats summarizes what one Tick accomplished, for logging and tests.
type TickStats struct {
	CleanupProcessed    int
	DependenciesBlocked int
	AgentsCompleted     int
	AgentsCrashed       int
	AgentsSalvaged      int
	Verified            int
	Approved            int
	Rejected            int
	WorkersSpawned      int
}

// Tick runs one pass of the seven-step main loop. Failures in every step,
// Store errors included, are logged and the tick continues; the returned
// error is always nil, so a Store failure does not stop Run.
func (o *Orchestrator) Tick(ctx context.Context) (TickStats, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TickDuration)

	var stats TickStats

	n, err := o.cleanupQ.Process(10)
	if err != nil {
		o.log.Warn().Err(err).Msg("cleanup queue process failed")
	}
	stats.CleanupProcessed = n

	blocked, err := o.store.BlockUnresolvableDependencies()
	if err != nil {
		o.log.Warn().Err(err).Msg("block unresolvable dependencies failed")
	}
	stats.DependenciesBlocked = blocked

	o.recoverCompletedAgents(&stats)
	o.recoverCrashedAgents(&stats)
	o.driveGatekeeper(ctx, &stats)
	o.spawnWorkersUpTo(ctx, o.opts.MaxAgents, &stats)

	o.adjustPollInterval()
	o.recordQueueMetrics()
	return stats, nil
}

// recordQueueMetrics refreshes the point-in-time gauges so a scrape always
// reflects the backlog as of the most recently completed tick.
func (o *Orchestrator) recordQueueMetrics() {
	st, err := o.store.GetStats()
	if err != nil {
		return
	}
	metrics.FeaturesTotal.WithLabelValues("pending").Set(float64(st.Pending))
	metrics.FeaturesTotal.WithLabelValues("in_progress").Set(float64(st.InProgress))
	metrics.FeaturesTotal.WithLabelValues("done").Set(float64(st.Done))
	metrics.FeaturesTotal.WithLabelValues("blocked").Set(float64(st.Blocked))

	active, err := o.store.GetActiveAgents()
	if err == nil {
		metrics.AgentsActive.Set(float64(len(active)))
	}
}

// Run loops Tick with a poll interval that lengthens when nothing is
// immediately claimable, until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return o.shutdown()
		default:
		}

		if _, err := o.Tick(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return o.shutdown()
		case <-time.After(o.pollInterval):
		}
	}
}

// shutdown runs registered cleanup tasks in priority order: release ports
// is implicit (process exit), flush the cleanup queue once more, then close
// the Store.
func (o *Orchestrator) shutdown() error {
	o.log.Info().Msg("shutting down orchestrator")
	if o.cfgWatch != nil {
		o.cfgWatch.Close()
	}
	if o.stopCleanupWatch != nil {
		o.stopCleanupWatch()
	}
	if _, err := o.cleanupQ.Process(50); err != nil {
		o.log.Warn().Err(err).Msg("final cleanup queue flush failed")
	}
	if err := o.store.Close(); err != nil {
		return fmt.Errorf("orchestrator: close store: %w", err)
	}
	return nil
}

func (o *Orchestrator) adjustPollInterval() {
	q, err := o.store.GetPendingQueueState()
	if err != nil {
		return
	}
	if q.ClaimableNow > 0 {
		o.pollInterval = o.opts.MinPollInterval
		return
	}
	next := o.pollInterval * 2
	if next > o.opts.MaxPollInterval {
		next = o.opts.MaxPollInterval
	}
	o.pollInterval = next
}

// recoverCompletedAgents releases ports, removes the worktree, and deletes
// the heartbeat row for every cleanly-completed agent.
func (o *Orchestrator) recoverCompletedAgents(stats *TickStats) {
	agents, err := o.store.GetCompletedAgents()
	if err != nil {
		o.log.Warn().Err(err).Msg("get completed agents failed")
		return
	}
	for _, a := range agents {
		o.ports.ReleasePorts(a.AgentID)
		if err := o.worktrees.DeleteWorktree(a.AgentID, true); err != nil {
			o.log.Warn().Err(err).Str("agent_id", a.AgentID).Msg("delete worktree for completed agent failed")
		}
		if n, err := o.locks.ReclaimAll(a.AgentID); err != nil {
			o.log.Warn().Err(err).Str("agent_id", a.AgentID).Msg("reclaim locks failed")
		} else if n > 0 {
			o.log.Debug().Str("agent_id", a.AgentID).Int("count", n).Msg("reclaimed locks")
		}
		stats.AgentsCompleted++
	}
}

// recoverCrashedAgents applies the PID guard and salvage-vs-retry rule to
// every ACTIVE heartbeat past the stale threshold.
func (o *Orchestrator) recoverCrashedAgents(stats *TickStats) {
	staleMinutes := int(o.opts.StaleThreshold / time.Minute)
	if staleMinutes < 1 {
		staleMinutes = 1
	}
	agents, err := o.store.GetStaleAgents(staleMinutes)
	if err != nil {
		o.log.Warn().Err(err).Msg("get stale agents failed")
		return
	}

	for _, a := range agents {
		branchHasCommits := o.branchAheadOfMain(a)
		decision := supervisor.InspectStaleAgent(supervisor.StaleAgentInput{
			PID:                a.PID,
			RecordedCreateTime: time.Unix(a.ProcessCreateTime, 0),
			EntryPoint:         o.opts.WorkerEntryPoint,
			PIDTolerance:       o.opts.PIDTolerance,
			BranchHasCommits:   branchHasCommits,
		})

		switch decision.Action {
		case supervisor.ActionSalvage:
			if err := o.store.MarkFeatureReadyForVerification(a.FeatureID); err != nil {
				o.log.Warn().Err(err).Int64("feature_id", a.FeatureID).Msg("salvage: mark ready for verification failed")
				continue
			}
			if err := o.store.MarkAgentCompleted(a.AgentID); err != nil {
				o.log.Warn().Err(err).Str("agent_id", a.AgentID).Msg("salvage: mark agent completed failed")
			}
			stats.AgentsSalvaged++
			metrics.AgentSalvagesTotal.Inc()
		case supervisor.ActionRetry:
			if err := o.requeueCrashedFeature(a.FeatureID); err != nil {
				o.log.Warn().Err(err).Int64("feature_id", a.FeatureID).Msg("retry: requeue feature failed")
			}
			if err := o.store.MarkAgentCrashed(a.AgentID); err != nil {
				o.log.Warn().Err(err).Str("agent_id", a.AgentID).Msg("mark agent crashed failed")
			}
			stats.AgentsCrashed++
			metrics.AgentCrashesTotal.Inc()
		}
		o.log.Info().Str("agent_id", a.AgentID).Str("reason", decision.Reason).Bool("pid_mismatch", decision.PIDMismatch).Msg("recovered stale agent")
	}
}

// branchAheadOfMain checks whether a crashed agent's feature branch has
// commits beyond main. Commits are counted, not diffed: a branch whose
// commits net out to the base tree still counts as ahead.
func (o *Orchestrator) branchAheadOfMain(a *store.AgentHeartbeat) bool {
	feature, err := o.store.GetFeature(a.FeatureID)
	if err != nil || feature.BranchName == "" {
		return false
	}
	ahead, err := o.gate.BranchHasMeaningfulCommits(feature.BranchName)
	if err != nil {
		return false
	}
	return ahead
}

func (o *Orchestrator) requeueCrashedFeature(featureID int64) error {
	return o.store.RequeueFeature(featureID, true)
}

// driveGatekeeper verifies and merges every feature ready for verification,
// synchronously and in claim order — Gatekeeper is the hard serialization
// point for the main branch.
func (o *Orchestrator) driveGatekeeper(ctx context.Context, stats *TickStats) {
	features, err := o.store.GetFeaturesByStatus(store.StatusInProgress)
	if err != nil {
		o.log.Warn().Err(err).Msg("get in-progress features failed")
		return
	}

	for _, f := range features {
		if f.ReviewStatus != store.ReviewReadyForVerification {
			continue
		}
		stats.Verified++

		worktreePath := o.worktrees.Path(f.AssignedAgentID)
		gateTimer := metrics.NewTimer()
		result, err := o.gate.VerifyAndMerge(gatekeeper.Options{
			BranchName:          f.BranchName,
			WorktreePath:        worktreePath,
			AgentID:             f.AssignedAgentID,
			FeatureID:           f.ID,
			MainBranch:          o.opts.Env.MainBranch,
			AllowNoTests:        o.opts.Env.AllowNoTests,
			DeleteFeatureBranch: false,
		})
		gateTimer.ObserveDuration(metrics.GatekeeperDuration)
		if err != nil {
			o.log.Error().Err(err).Int64("feature_id", f.ID).Msg("gatekeeper verify_and_merge errored")
			metrics.GatekeeperResultsTotal.WithLabelValues("error").Inc()
			continue
		}

		if result.Approved {
			metrics.GatekeeperResultsTotal.WithLabelValues("approved").Inc()
			if err := o.store.MarkFeaturePassing(f.ID); err != nil {
				o.log.Error().Err(err).Int64("feature_id", f.ID).Msg("mark feature passing failed")
				continue
			}
			if result.MergeCommit != "" {
				if err := o.store.RegisterBranchMerge(f.BranchName, f.ID, f.AssignedAgentID, result.MergeCommit); err != nil {
					o.log.Warn().Err(err).Int64("feature_id", f.ID).Msg("register branch merge failed")
				}
			}
			if result.PushFailed {
				o.log.Warn().Int64("feature_id", f.ID).Msg("gatekeeper push failed; main advanced locally only")
			}
			stats.Approved++
			continue
		}

		stats.Rejected++
		metrics.GatekeeperResultsTotal.WithLabelValues("rejected").Inc()
		if err := o.store.MarkFeatureFailed(f.ID, result.Reason, store.DefaultFailurePolicy(), store.MarkFailedOptions{
			ArtifactPath:    result.ArtifactPath,
			DiffFingerprint: result.DiffFingerprint,
			PreserveBranch:  true,
		}); err != nil {
			o.log.Error().Err(err).Int64("feature_id", f.ID).Msg("mark feature failed failed")
		}
	}
}

// spawnWorkersUpTo fills remaining agent capacity by claiming pending
// features and spawning a worker process for each, rolling back the claim
// on any setup failure.
func (o *Orchestrator) spawnWorkersUpTo(ctx context.Context, maxAgents int, stats *TickStats) {
	active, err := o.store.GetActiveAgents()
	if err != nil {
		o.log.Warn().Err(err).Msg("get active agents failed")
		return
	}
	capacity := maxAgents - len(active)

	for i := 0; i < capacity; i++ {
		feature, err := o.store.ClaimNextPendingFeature(
			generateAgentID(),
			o.opts.BranchPrefix,
			store.DefaultFailurePolicy().MaxAttempts,
			true,
		)
		if err != nil {
			o.log.Warn().Err(err).Msg("claim next pending feature failed")
			return
		}
		if feature == nil {
			return
		}
		if err := o.spawnOneWorker(ctx, feature); err != nil {
			o.log.Error().Err(err).Int64("feature_id", feature.ID).Msg("spawn worker failed; requeueing")
			_ = o.store.RequeueFeature(feature.ID, true)
			continue
		}
		stats.WorkersSpawned++
		metrics.WorkersSpawnedTotal.Inc()
	}
}

func (o *Orchestrator) spawnOneWorker(ctx context.Context, feature *store.Feature) error {
	agentID := feature.AssignedAgentID

	ports, err := o.ports.AllocatePorts(agentID)
	if err != nil {
		return fmt.Errorf("allocate ports: %w", err)
	}

	wt, err := o.worktrees.CreateWorktree(agentID, feature.ID, feature.Name, feature.BranchName)
	if err != nil {
		o.ports.ReleasePorts(agentID)
		return fmt.Errorf("create worktree: %w", err)
	}

	cfg := supervisor.SpawnConfig{
		Command:           o.opts.WorkerCommand,
		ProjectDir:        o.opts.ProjectDir,
		AgentID:           agentID,
		FeatureID:         feature.ID,
		WorktreePath:      wt.Path,
		APIPort:           ports.APIPort,
		WebPort:           ports.WebPort,
		RequireGatekeeper: o.opts.Env.RequireGatekeeper,
		LockDir:           o.locksDir,
		LocksEnabled:      true,
		Guardrails: supervisor.GuardrailConfig{
			MaxToolCalls:             o.opts.Env.GuardrailMaxToolCalls,
			MaxConsecutiveToolErrors: o.opts.Env.GuardrailMaxConsecutiveToolError,
			MaxToolErrors:            o.opts.Env.GuardrailMaxToolErrors,
		},
	}

	pid, createTime, err := o.spawner.Start(ctx, cfg)
	if err != nil {
		o.ports.ReleasePorts(agentID)
		_ = o.worktrees.DeleteWorktree(agentID, true)
		return fmt.Errorf("spawn process: %w", err)
	}

	err = o.store.RegisterAgent(store.AgentHeartbeat{
		AgentID:           agentID,
		Status:            store.AgentActive,
		WorktreePath:      wt.Path,
		FeatureID:         feature.ID,
		PID:               pid,
		StartedAt:         time.Now(),
		ProcessCreateTime: createTime.Unix(),
		APIPort:           ports.APIPort,
		WebPort:           ports.WebPort,
	})
	if err != nil {
		o.spawner.Cancel(agentID)
		o.ports.ReleasePorts(agentID)
		_ = o.worktrees.DeleteWorktree(agentID, true)
		return fmt.Errorf("register agent: %w", err)
	}
	return nil
}
