package main

import (
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/autocoder-run/core/internal/metrics"
	"github.com/autocoder-run/core/internal/orchestrator"
	"github.com/autocoder-run/core/internal/store"
)

var (
	startBranchPrefix     string
	startWorkerCommand    string
	startWorkerEntryPoint string
	startMetricsAddr      string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Spawn and supervise worker agents until the backlog drains or the operator stops it",
	RunE:  runStart,
}

func init() {
	startCmd.Flags().StringVar(&startBranchPrefix, "branch-prefix", "agent", "prefix used for feature branches")
	startCmd.Flags().StringVar(&startWorkerCommand, "worker-command", "autocoder-worker", "command used to launch a worker agent")
	startCmd.Flags().StringVar(&startWorkerEntryPoint, "worker-entry-point", "autocoder-worker", "process name expected at a worker's recorded PID, for crash-recovery identity checks")
	startCmd.Flags().StringVar(&startMetricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (disabled if empty)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	log := newLogger()

	lease, err := acquireLease(projectDir)
	if err != nil {
		return err
	}
	defer lease.release()

	env := loadEnvConfig()

	st, err := store.Open(filepath.Join(projectDir, "agent_system.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	spawner := orchestrator.NewDefaultSpawner(st)
	orc, err := orchestrator.New(orchestrator.Options{
		ProjectDir:       projectDir,
		RepoRoot:         resolveRepoRoot(),
		MaxAgents:        maxAgents,
		Env:              env,
		MinPollInterval:  2 * time.Second,
		MaxPollInterval:  30 * time.Second,
		BranchPrefix:     startBranchPrefix,
		WorkerCommand:    startWorkerCommand,
		WorkerEntryPoint: startWorkerEntryPoint,
		Logger:           log,
	}, st, spawner)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if startMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: startMetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
		log.Info().Str("addr", startMetricsAddr).Msg("serving metrics")
	}

	log.Info().Str("project_dir", projectDir).Int("max_agents", maxAgents).Msg("orchestrator starting")
	return orc.Run(ctx)
}
