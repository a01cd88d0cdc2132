package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/autocoder-run/core/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current backlog progress as JSON",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusReport struct {
	Progress store.Progress          `json:"progress"`
	Queue    store.PendingQueueState `json:"queue"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := store.Open(filepath.Join(projectDir, "agent_system.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	progress, err := st.GetProgress()
	if err != nil {
		return err
	}
	queue, err := st.GetPendingQueueState()
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(statusReport{Progress: progress, Queue: queue}); err != nil {
		return err
	}

	if progress.Total == 0 {
		fmt.Fprintln(os.Stderr, "no features in backlog")
		os.Exit(2)
	}
	if progress.Done == progress.Total {
		os.Exit(0)
	}
	if queue.ClaimableNow == 0 && progress.InProgress == 0 {
		os.Exit(2)
	}
	return nil
}
