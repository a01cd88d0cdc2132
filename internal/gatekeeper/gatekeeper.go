// Package gatekeeper implements the deterministic verify-and-merge
// protocol: merge a feature branch into main inside a throwaway worktree,
// run the project's configured verification commands, and only then
// fast-forward the real main branch.
package gatekeeper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/autocoder-run/core/internal/config"
)

// ignoredDirtyPrefixes are runtime paths on the main working tree that don't
// block a preflight check — they're the engine's own state, not uncommitted
// feature work.
var ignoredDirtyPrefixes = []string{".autocoder/", "worktrees/", "agent_system.db"}

// Gatekeeper runs the verify-and-merge protocol against one project
// repository.
type Gatekeeper struct {
	repoRoot     string
	projectDir   string
	artifactsDir string
	timeout      time.Duration
}

// New constructs a Gatekeeper rooted at repoRoot, persisting artifacts under
// <projectDir>/.autocoder.
func New(repoRoot, projectDir string, timeout time.Duration) *Gatekeeper {
	return &Gatekeeper{
		repoRoot:     repoRoot,
		projectDir:   projectDir,
		artifactsDir: filepath.Join(projectDir, ".autocoder"),
		timeout:      timeout,
	}
}

func (g *Gatekeeper) runGit(dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return string(out), fmt.Errorf("git %s timed out after %s", strings.Join(args, " "), g.timeout)
	}
	return string(out), err
}

func (g *Gatekeeper) branchExists(dir, branch string) bool {
	_, err := g.runGit(dir, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// resolveMainBranch implements the documented precedence: argument > env >
// first of main/master that exists > current HEAD.
func (g *Gatekeeper) resolveMainBranch(argument string) (string, error) {
	if argument != "" {
		return argument, nil
	}
	if env := os.Getenv("AUTOCODER_MAIN_BRANCH"); env != "" {
		return env, nil
	}
	if g.branchExists(g.repoRoot, "main") {
		return "main", nil
	}
	if g.branchExists(g.repoRoot, "master") {
		return "master", nil
	}
	out, err := g.runGit(g.repoRoot, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("gatekeeper: resolve main branch: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// splitDirtyStatus partitions `git status --porcelain` lines into entries
// under the engine's own runtime paths and everything else.
func splitDirtyStatus(porcelain string) (ignored, real []string) {
	for _, line := range strings.Split(strings.TrimRight(porcelain, "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		path := strings.TrimSpace(line[3:])
		isIgnored := false
		for _, prefix := range ignoredDirtyPrefixes {
			if strings.HasPrefix(path, prefix) {
				isIgnored = true
				break
			}
		}
		if isIgnored {
			ignored = append(ignored, line)
		} else {
			real = append(real, line)
		}
	}
	return ignored, real
}

func (g *Gatekeeper) currentBranch(dir string) string {
	out, err := g.runGit(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// BranchHasMeaningfulCommits reports whether branch has at least one commit
// not reachable from main — used by crash recovery to decide whether a
// stale agent's work should be salvaged (sent to verification) or retried
// from scratch.
func (g *Gatekeeper) BranchHasMeaningfulCommits(branch string) (bool, error) {
	if !g.branchExists(g.repoRoot, branch) {
		return false, nil
	}
	mainBranch, err := g.resolveMainBranch("")
	if err != nil {
		return false, err
	}
	out, err := g.runGit(g.repoRoot, "rev-list", "--count", mainBranch+".."+branch)
	if err != nil {
		return false, fmt.Errorf("gatekeeper: rev-list count: %w", err)
	}
	count := strings.TrimSpace(out)
	return count != "" && count != "0", nil
}

// VerifyAndMerge runs the full protocol described for the Gatekeeper
// component: preflight, optional fetch, temp worktree + merge attempt,
// verification commands, diff fingerprinting, merge commit, main advance,
// optional push, and cleanup — always persisting a JSON evidence artifact.
func (g *Gatekeeper) VerifyAndMerge(opts Options) (*Result, error) {
	result := &Result{Verification: map[string]CommandResult{}, Timestamp: time.Now()}

	mainBranch, err := g.resolveMainBranch(opts.MainBranch)
	if err != nil {
		return g.reject(result, opts, "failed to resolve main branch: "+err.Error())
	}

	// Step 1: preflight.
	porcelain, err := g.runGit(g.repoRoot, "status", "--porcelain")
	if err != nil {
		return g.reject(result, opts, "preflight git status failed: "+err.Error())
	}
	_, real := splitDirtyStatus(porcelain)
	if len(real) > 0 {
		return g.reject(result, opts, fmt.Sprintf("main working tree is dirty: %s", strings.Join(real, "; ")))
	}
	mainCheckedOut := g.currentBranch(g.repoRoot) == mainBranch

	// Step 2: optional fetch.
	if opts.FetchRemote && g.hasRemote("origin") {
		if _, err := g.runGit(g.repoRoot, "fetch", "origin", mainBranch); err != nil {
			return g.reject(result, opts, "fetch origin failed: "+err.Error())
		}
	}

	// Step 3: temp worktree, named with a UUID suffix so concurrent verify
	// runs against the same branch never collide on the same path.
	suffix := uuid.NewString()[:8]
	tempDir := filepath.Join(g.repoRoot, "verify_temp_"+suffix)
	syntheticBranch := "verify/" + sanitizeBranchForVerify(opts.BranchName) + "-" + suffix
	if out, err := g.runGit(g.repoRoot, "worktree", "add", "-b", syntheticBranch, tempDir, mainBranch); err != nil {
		return g.reject(result, opts, fmt.Sprintf("failed to create verification worktree: %v (output: %s)", err, strings.TrimSpace(out)))
	}
	defer g.cleanupTemp(tempDir, syntheticBranch)

	// Step 4: merge attempt.
	if out, err := g.runGit(tempDir, "merge", "--no-commit", "--no-ff", opts.BranchName); err != nil {
		result.MergeConflict = true
		return g.reject(result, opts, fmt.Sprintf("merge conflict merging %s: %s", opts.BranchName, strings.TrimSpace(out)))
	}

	// Step 5: load project verification config.
	projectCfg, err := config.LoadProjectConfig(tempDir)
	if err != nil {
		return g.reject(result, opts, "failed to load project config: "+err.Error())
	}
	commands := config.ResolveCommands(projectCfg, tempDir)

	// Step 6: run verification commands in order.
	rejectReason := ""
	for _, category := range orderedCategories(commands) {
		spec := commands[category]
		cr := runCommand(tempDir, category, spec, opts.AllowNoTests)
		result.Verification[category] = cr
		if !cr.Passed && !cr.AllowFail && rejectReason == "" {
			rejectReason = fmt.Sprintf("verification command %q (%s) failed", spec.Command, category)
		}
	}

	// Step 7: diff fingerprint (computed regardless of step 6's outcome).
	diffOut, _ := g.runGit(tempDir, "diff", "--cached", "--no-color", "--no-ext-diff")
	sum := sha256.Sum256([]byte(diffOut))
	result.DiffFingerprint = hex.EncodeToString(sum[:])

	if rejectReason != "" {
		return g.reject(result, opts, rejectReason)
	}

	// Step 8: commit the merge.
	if out, err := g.runGit(tempDir, "commit", "-m", "Merge "+opts.BranchName); err != nil {
		return g.reject(result, opts, fmt.Sprintf("failed to commit merge: %v (output: %s)", err, strings.TrimSpace(out)))
	}
	commitHash, err := g.runGit(tempDir, "rev-parse", "HEAD")
	if err != nil {
		return g.reject(result, opts, "failed to resolve merge commit hash: "+err.Error())
	}
	result.MergeCommit = strings.TrimSpace(commitHash)

	// Step 9: advance main.
	if err := g.advanceMain(mainBranch, result.MergeCommit, mainCheckedOut); err != nil {
		return g.reject(result, opts, "failed to advance main: "+err.Error())
	}

	// Step 10: optional push.
	if opts.PushRemote && g.hasRemote("origin") {
		if _, err := g.runGit(g.repoRoot, "push", "origin", mainBranch); err != nil {
			result.PushFailed = true
		}
	}

	result.Approved = true
	result.Reason = "all verification commands passed"
	return g.finish(result, opts)
}

// orderedCategories returns documented categories first in documented order,
// then any additional project-defined categories sorted alphabetically.
func orderedCategories(commands map[string]config.CommandSpec) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range config.CommandCategoryOrder {
		if _, ok := commands[c]; ok {
			out = append(out, c)
			seen[c] = true
		}
	}
	var extra []string
	for c := range commands {
		if !seen[c] {
			extra = append(extra, c)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func (g *Gatekeeper) hasRemote(name string) bool {
	out, err := g.runGit(g.repoRoot, "remote")
	if err != nil {
		return false
	}
	for _, r := range strings.Fields(out) {
		if r == name {
			return true
		}
	}
	return false
}

// advanceMain fast-forwards main to commitHash without disturbing the
// current checkout when main isn't checked out; otherwise (main is the
// current checkout) it merges --ff-only in place.
func (g *Gatekeeper) advanceMain(mainBranch, commitHash string, mainCheckedOut bool) error {
	if !mainCheckedOut {
		_, err := g.runGit(g.repoRoot, "update-ref", "refs/heads/"+mainBranch, commitHash)
		return err
	}
	if out, err := g.runGit(g.repoRoot, "merge", "--ff-only", commitHash); err != nil {
		return fmt.Errorf("%v (output: %s)", err, strings.TrimSpace(out))
	}
	return nil
}

func (g *Gatekeeper) cleanupTemp(tempDir, syntheticBranch string) {
	g.runGit(g.repoRoot, "worktree", "remove", "--force", tempDir)
	os.RemoveAll(tempDir)
	g.runGit(g.repoRoot, "worktree", "prune")
	g.runGit(g.repoRoot, "branch", "-D", syntheticBranch)
}

func (g *Gatekeeper) reject(result *Result, opts Options, reason string) (*Result, error) {
	result.Approved = false
	result.Reason = reason
	return g.finish(result, opts)
}

// finish persists the artifact JSON (the Orchestrator's evidence packet)
// and returns the result.
func (g *Gatekeeper) finish(result *Result, opts Options) (*Result, error) {
	path, err := g.persistArtifact(result, opts.FeatureID)
	if err != nil {
		return result, fmt.Errorf("gatekeeper: persist artifact: %w", err)
	}
	result.ArtifactPath = path
	return result, nil
}

func (g *Gatekeeper) persistArtifact(result *Result, featureID int64) (string, error) {
	var dir string
	if featureID != 0 {
		dir = filepath.Join(g.artifactsDir, "features", fmt.Sprintf("%d", featureID), "gatekeeper")
	} else {
		dir = filepath.Join(g.artifactsDir, "gatekeeper")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	filename := result.Timestamp.UTC().Format("20060102_150405") + fmt.Sprintf("_%06d.json", result.Timestamp.Nanosecond()/1000)
	path := filepath.Join(dir, filename)

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func sanitizeBranchForVerify(branch string) string {
	return strings.NewReplacer("/", "-").Replace(branch)
}

// VerifyCommandsOnly runs steps 5-7 of the protocol (load config, run
// commands, fingerprint) against an existing worktree without merging —
// used by the Orchestrator as an optional preflight before handing a branch
// to VerifyAndMerge.
func (g *Gatekeeper) VerifyCommandsOnly(worktreePath string, allowNoTests bool) (*Result, error) {
	result := &Result{Verification: map[string]CommandResult{}, Timestamp: time.Now()}

	projectCfg, err := config.LoadProjectConfig(worktreePath)
	if err != nil {
		result.Approved = false
		result.Reason = "failed to load project config: " + err.Error()
		return result, nil
	}
	commands := config.ResolveCommands(projectCfg, worktreePath)

	rejectReason := ""
	for _, category := range orderedCategories(commands) {
		spec := commands[category]
		cr := runCommand(worktreePath, category, spec, allowNoTests)
		result.Verification[category] = cr
		if !cr.Passed && !cr.AllowFail && rejectReason == "" {
			rejectReason = fmt.Sprintf("verification command %q (%s) failed", spec.Command, category)
		}
	}

	diffOut, _ := g.runGit(worktreePath, "diff", "--no-color", "--no-ext-diff")
	sum := sha256.Sum256([]byte(diffOut))
	result.DiffFingerprint = hex.EncodeToString(sum[:])

	result.Approved = rejectReason == ""
	result.Reason = rejectReason
	if result.Approved {
		result.Reason = "all verification commands passed"
	}
	return result, nil
}
