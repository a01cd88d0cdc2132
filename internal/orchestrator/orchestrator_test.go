package orchestrator

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autocoder-run/core/internal/config"
	"github.com/autocoder-run/core/internal/store"
	"github.com/autocoder-run/core/internal/supervisor"
)

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
	return string(out)
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init", "-b", "main")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("proof repo\n"), 0o644))
	runGit(t, dir, "add", "-A")
	runGit(t, dir, "commit", "-m", "initial")
	return dir
}

// fakeSpawner never launches a real process: it hands back an incrementing
// fake PID and records every call so tests can assert on spawn attempts.
type fakeSpawner struct {
	mu       sync.Mutex
	nextPID  int
	started  []supervisor.SpawnConfig
	canceled []string
	failNext bool
}

func (f *fakeSpawner) Start(ctx context.Context, cfg supervisor.SpawnConfig) (int, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return 0, time.Time{}, assert.AnError
	}
	f.nextPID++
	f.started = append(f.started, cfg)
	return f.nextPID, time.Now(), nil
}

func (f *fakeSpawner) Cancel(agentID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, agentID)
	return true
}

func newTestOrchestrator(t *testing.T, repoDir string, spawner WorkerSpawner) (*Orchestrator, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "agent_system.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	env := config.Default()
	env.SkipPortCheck = true

	orc, err := New(Options{
		ProjectDir:       repoDir,
		RepoRoot:         repoDir,
		MaxAgents:        2,
		Env:              env,
		MinPollInterval:  10 * time.Millisecond,
		MaxPollInterval:  40 * time.Millisecond,
		WorkerEntryPoint: "autocoder-worker",
		Logger:           zerolog.Nop(),
	}, st, spawner)
	require.NoError(t, err)
	return orc, st
}

func TestSpawnWorkersUpToClaimsAndSpawnsUpToCapacity(t *testing.T) {
	dir := initRepo(t)
	spawner := &fakeSpawner{}
	orc, st := newTestOrchestrator(t, dir, spawner)

	for i := 0; i < 3; i++ {
		_, err := st.CreateFeature(store.NewFeature{Name: "feature", Priority: i})
		require.NoError(t, err)
	}

	var stats TickStats
	orc.spawnWorkersUpTo(context.Background(), 2, &stats)

	assert.Equal(t, 2, stats.WorkersSpawned)
	assert.Len(t, spawner.started, 2)

	active, err := st.GetActiveAgents()
	require.NoError(t, err)
	assert.Len(t, active, 2)

	counts, err := st.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Pending)
	assert.Equal(t, 2, counts.InProgress)
}

func TestSpawnWorkersUpToRequeuesOnSpawnFailure(t *testing.T) {
	dir := initRepo(t)
	spawner := &fakeSpawner{failNext: true}
	orc, st := newTestOrchestrator(t, dir, spawner)

	id, err := st.CreateFeature(store.NewFeature{Name: "feature"})
	require.NoError(t, err)

	var stats TickStats
	orc.spawnWorkersUpTo(context.Background(), 1, &stats)

	assert.Equal(t, 0, stats.WorkersSpawned)
	f, err := st.GetFeature(id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, f.Status, "failed spawn must roll the claim back to PENDING")
}

func TestRecoverCompletedAgentsReleasesResources(t *testing.T) {
	dir := initRepo(t)
	spawner := &fakeSpawner{}
	orc, st := newTestOrchestrator(t, dir, spawner)

	featureID, err := st.CreateFeature(store.NewFeature{Name: "feature"})
	require.NoError(t, err)
	require.NoError(t, st.RegisterAgent(store.AgentHeartbeat{
		AgentID:   "agent-done",
		Status:    store.AgentActive,
		FeatureID: featureID,
		PID:       1,
		StartedAt: time.Now(),
		APIPort:   5001,
		WebPort:   5173,
	}))
	require.NoError(t, st.MarkAgentCompleted("agent-done"))

	var stats TickStats
	orc.recoverCompletedAgents(&stats)
	assert.Equal(t, 1, stats.AgentsCompleted)

	remaining, err := st.GetCompletedAgents()
	require.NoError(t, err)
	assert.Empty(t, remaining, "completed agent row should have been reaped")
}

func TestRecoverCrashedAgentsLeavesFreshHeartbeatsAlone(t *testing.T) {
	dir := initRepo(t)
	spawner := &fakeSpawner{}
	orc, st := newTestOrchestrator(t, dir, spawner)

	featureID, err := st.CreateFeature(store.NewFeature{Name: "feature"})
	require.NoError(t, err)
	_, err = st.ClaimNextPendingFeature("agent-fresh", "feature", 10, true)
	require.NoError(t, err)
	require.NoError(t, st.RegisterAgent(store.AgentHeartbeat{
		AgentID:   "agent-fresh",
		Status:    store.AgentActive,
		FeatureID: featureID,
		PID:       os.Getpid(),
		StartedAt: time.Now(),
		APIPort:   5002,
		WebPort:   5174,
	}))

	var stats TickStats
	orc.recoverCrashedAgents(&stats)

	assert.Equal(t, 0, stats.AgentsCrashed, "a heartbeat pinged moments ago is never stale")
	assert.Equal(t, 0, stats.AgentsSalvaged)

	f, err := st.GetFeature(featureID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusInProgress, f.Status, "an agent still within its stale window keeps its claim")
}

func TestAdjustPollIntervalBacksOffWhenQueueEmpty(t *testing.T) {
	dir := initRepo(t)
	orc, _ := newTestOrchestrator(t, dir, &fakeSpawner{})

	before := orc.pollInterval
	orc.adjustPollInterval()
	assert.Greater(t, orc.pollInterval, before)

	orc.pollInterval = orc.opts.MaxPollInterval
	orc.adjustPollInterval()
	assert.Equal(t, orc.opts.MaxPollInterval, orc.pollInterval, "must never exceed the configured ceiling")
}

func TestAdjustPollIntervalResetsWhenWorkClaimable(t *testing.T) {
	dir := initRepo(t)
	orc, st := newTestOrchestrator(t, dir, &fakeSpawner{})

	orc.pollInterval = orc.opts.MaxPollInterval
	_, err := st.CreateFeature(store.NewFeature{Name: "feature"})
	require.NoError(t, err)

	orc.adjustPollInterval()
	assert.Equal(t, orc.opts.MinPollInterval, orc.pollInterval)
}

func TestTickRunsWithoutErrorOnEmptyBacklog(t *testing.T) {
	dir := initRepo(t)
	orc, _ := newTestOrchestrator(t, dir, &fakeSpawner{})

	stats, err := orc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.WorkersSpawned)
}
