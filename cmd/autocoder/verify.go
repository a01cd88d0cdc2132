package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/autocoder-run/core/internal/gatekeeper"
)

var (
	verifyMainBranch   string
	verifyAllowNoTests bool
	verifyPush         bool
	verifyTimeout      time.Duration
)

var verifyCmd = &cobra.Command{
	Use:   "verify <branch>",
	Short: "Run the verification protocol for a branch and merge it into main if it passes",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyMainBranch, "main-branch", "", "branch to merge into (defaults to the repository's detected default branch)")
	verifyCmd.Flags().BoolVar(&verifyAllowNoTests, "allow-no-tests", false, "treat a failing test command whose output or exit code signals that no tests were found as passing")
	verifyCmd.Flags().BoolVar(&verifyPush, "push", false, "push the advanced main branch to origin on approval")
	verifyCmd.Flags().DurationVar(&verifyTimeout, "timeout", 5*time.Minute, "timeout for each git command the gatekeeper runs")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	branch := args[0]
	gate := gatekeeper.New(resolveRepoRoot(), projectDir, verifyTimeout)

	result, err := gate.VerifyAndMerge(gatekeeper.Options{
		BranchName:   branch,
		MainBranch:   verifyMainBranch,
		PushRemote:   verifyPush,
		AllowNoTests: verifyAllowNoTests,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}

	if !result.Approved {
		fmt.Fprintln(os.Stderr, "rejected:", result.Reason)
		os.Exit(1)
	}
	return nil
}
