package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/autocoder-run/core/internal/cleanup"
	"github.com/autocoder-run/core/internal/worktree"
)

var worktreeCmd = &cobra.Command{
	Use:   "worktree",
	Short: "Inspect and reclaim agent worktrees",
}

var worktreeLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List every agent worktree currently tracked by git",
	RunE:  runWorktreeLs,
}

var worktreeRmCmd = &cobra.Command{
	Use:   "rm <agent-id>",
	Short: "Forcibly remove one agent's worktree",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorktreeRm,
}

var worktreeGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Drain the deferred worktree-cleanup queue",
	RunE:  runWorktreeGC,
}

func init() {
	worktreeCmd.AddCommand(worktreeLsCmd, worktreeRmCmd, worktreeGCCmd)
	rootCmd.AddCommand(worktreeCmd)
}

func newWorktreeManager() *worktree.Manager {
	return worktree.NewManager(resolveRepoRoot(), 30*time.Second, nil)
}

func runWorktreeLs(cmd *cobra.Command, args []string) error {
	wt := newWorktreeManager()
	infos, err := wt.List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("no agent worktrees")
		return nil
	}
	for _, info := range infos {
		fmt.Printf("%-40s %s\n", info.RelativePath, info.Branch)
	}
	return nil
}

func runWorktreeRm(cmd *cobra.Command, args []string) error {
	wt := newWorktreeManager()
	return wt.DeleteWorktree(args[0], true)
}

func runWorktreeGC(cmd *cobra.Command, args []string) error {
	wt := newWorktreeManager()
	queuePath := filepath.Join(projectDir, ".autocoder", "cleanup_queue.json")
	q, err := cleanup.NewQueue(queuePath, wt.RemovePath)
	if err != nil {
		return err
	}
	n, err := q.Process(100)
	if err != nil {
		return err
	}
	fmt.Printf("processed %d deferred removals\n", n)
	return nil
}
