package store

import (
	"database/sql"
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"strings"
	"time"
)

// FailurePolicy configures the retry/blocking thresholds and backoff curve
// used by MarkFeatureFailed. Values come from internal/config's
// AUTOCODER_FEATURE_* environment knobs; the zero value is not usable — call
// DefaultFailurePolicy.
type FailurePolicy struct {
	MaxAttempts        int
	MaxSameErrorStreak int
	MaxSameDiffStreak  int
	InitialDelay       time.Duration
	MaxDelay           time.Duration
	ExponentialBase    float64
	Jitter             bool
}

// DefaultFailurePolicy matches the documented defaults.
func DefaultFailurePolicy() FailurePolicy {
	return FailurePolicy{
		MaxAttempts:        10,
		MaxSameErrorStreak: 3,
		MaxSameDiffStreak:  3,
		InitialDelay:       10 * time.Second,
		MaxDelay:           600 * time.Second,
		ExponentialBase:    2,
		Jitter:             true,
	}
}

var artifactLinePattern = regexp.MustCompile(`(?m)^artifact:.*$`)
var whitespacePattern = regexp.MustCompile(`\s+`)

// normalizeErrorKey strips artifact: lines (which embed volatile paths),
// collapses whitespace, and truncates so near-identical failures across
// attempts fingerprint the same even when timestamps or temp paths differ.
func normalizeErrorKey(reason string) string {
	s := artifactLinePattern.ReplaceAllString(reason, "")
	s = whitespacePattern.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if len(s) > 4000 {
		s = s[:4000]
	}
	return s
}

// backoffDelay computes min(max, initial*base^(attempts-1)) with optional
// ±30% jitter.
func backoffDelay(policy FailurePolicy, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	raw := float64(policy.InitialDelay) * math.Pow(policy.ExponentialBase, float64(attempts-1))
	capped := math.Min(raw, float64(policy.MaxDelay))
	if !policy.Jitter {
		return time.Duration(capped)
	}
	jitterFrac := 1 + (rand.Float64()*0.6 - 0.3) // +/-30%
	return time.Duration(capped * jitterFrac)
}

// MarkFailedOptions carries the optional arguments to MarkFeatureFailed.
type MarkFailedOptions struct {
	ArtifactPath    string
	DiffFingerprint string
	PreserveBranch  bool
	NextStatus      FeatureStatus // defaults to PENDING when empty
}

// MarkFeatureFailed implements the retry/blocking algorithm: normalizes the
// failure reason into an error_key, tracks same_error_streak and
// same_diff_streak, increments attempts, and either blocks the feature or
// reschedules it with a computed next_attempt_at.
func (s *Store) MarkFeatureFailed(id int64, reason string, policy FailurePolicy, opts MarkFailedOptions) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var lastErrorKey, lastDiffFingerprint string
	var sameErrorStreak, sameDiffStreak, attempts int
	err = tx.QueryRow(
		`SELECT last_error_key, last_diff_fingerprint, same_error_streak, same_diff_streak, attempts FROM features WHERE id = ?`,
		id,
	).Scan(&lastErrorKey, &lastDiffFingerprint, &sameErrorStreak, &sameDiffStreak, &attempts)
	if err == sql.ErrNoRows {
		return ErrFeatureNotFound
	}
	if err != nil {
		return err
	}

	errorKey := normalizeErrorKey(reason)
	if errorKey == lastErrorKey && errorKey != "" {
		sameErrorStreak++
	} else {
		sameErrorStreak = 1
	}

	if opts.DiffFingerprint != "" && opts.DiffFingerprint == lastDiffFingerprint {
		sameDiffStreak++
	} else if opts.DiffFingerprint != "" {
		sameDiffStreak = 1
	}

	attempts++

	blockedByAttempts := attempts >= policy.MaxAttempts
	blockedByError := sameErrorStreak >= policy.MaxSameErrorStreak
	blockedByDiff := sameDiffStreak >= policy.MaxSameDiffStreak
	blocked := blockedByAttempts || blockedByError || blockedByDiff

	lastError := reason
	now := nowString()

	var status FeatureStatus
	var nextAttemptAt sql.NullString
	if blocked {
		status = StatusBlocked
		switch {
		case blockedByDiff:
			lastError = fmt.Sprintf("%s\n[blocked: no code progress detected, same_diff_streak=%d]", reason, sameDiffStreak)
		case blockedByError:
			lastError = fmt.Sprintf("%s\n[blocked: same_error_streak=%d reached cap]", reason, sameErrorStreak)
		default:
			lastError = fmt.Sprintf("%s\n[blocked: attempts=%d reached max]", reason, attempts)
		}
	} else {
		status = opts.NextStatus
		if status == "" {
			status = StatusPending
		}
		delay := backoffDelay(policy, attempts)
		t := time.Now().Add(delay)
		nextAttemptAt = sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	branchClause := ""
	if !opts.PreserveBranch {
		branchClause = ", branch_name = '', assigned_agent_id = ''"
	}

	_, err = tx.Exec(
		`UPDATE features SET status = ?, review_status = 'PENDING', last_error = ?, last_error_key = ?, same_error_streak = ?,
		 last_artifact_path = ?, last_diff_fingerprint = ?, same_diff_streak = ?, attempts = ?,
		 next_attempt_at = ?, updated_at = ?`+branchClause+` WHERE id = ?`,
		status, lastError, errorKey, sameErrorStreak,
		opts.ArtifactPath, firstNonEmpty(opts.DiffFingerprint, lastDiffFingerprint), sameDiffStreak, attempts,
		nextAttemptAt, now, id,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// BlockFeature transitions a feature directly to BLOCKED, independent of the
// retry/streak accounting in MarkFeatureFailed.
func (s *Store) BlockFeature(id int64, reason string, preserveBranch bool) error {
	branchClause := ""
	if !preserveBranch {
		branchClause = ", branch_name = '', assigned_agent_id = ''"
	}
	res, err := s.db.Exec(
		`UPDATE features SET status = 'BLOCKED', review_status = 'PENDING', last_error = ?, updated_at = ?`+branchClause+` WHERE id = ?`,
		reason, nowString(), id,
	)
	return checkUpdated(res, err)
}

// RequeueFeature sends a feature back to PENDING without touching its
// attempts/streak accounting — used when a crashed agent left no progress,
// or when worker setup (ports, worktree, spawn) fails before the agent ever
// ran, so the attempt shouldn't count against the retry budget.
func (s *Store) RequeueFeature(id int64, preserveBranch bool) error {
	branchClause := ""
	if !preserveBranch {
		branchClause = ", branch_name = '', assigned_agent_id = ''"
	}
	res, err := s.db.Exec(
		`UPDATE features SET status = 'PENDING', review_status = 'PENDING', next_attempt_at = NULL,
		 updated_at = ?`+branchClause+` WHERE id = ?`,
		nowString(), id,
	)
	return checkUpdated(res, err)
}

// BlockUnresolvableDependencies runs a DFS over PENDING features' dependency
// edges, blocking any feature that depends (directly or transitively) on a
// BLOCKED feature, and any feature participating in a dependency cycle.
// Returns the number of features newly blocked.
func (s *Store) BlockUnresolvableDependencies() (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	pending := map[int64]bool{}
	rows, err := tx.Query(`SELECT id FROM features WHERE status = 'PENDING'`)
	if err != nil {
		return 0, err
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		pending[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	blockedSet := map[int64]bool{}
	brows, err := tx.Query(`SELECT id FROM features WHERE status = 'BLOCKED'`)
	if err != nil {
		return 0, err
	}
	for brows.Next() {
		var id int64
		if err := brows.Scan(&id); err != nil {
			brows.Close()
			return 0, err
		}
		blockedSet[id] = true
	}
	brows.Close()

	deps := map[int64][]int64{}
	drows, err := tx.Query(`SELECT feature_id, depends_on_id FROM feature_dependencies`)
	if err != nil {
		return 0, err
	}
	for drows.Next() {
		var fid, did int64
		if err := drows.Scan(&fid, &did); err != nil {
			drows.Close()
			return 0, err
		}
		deps[fid] = append(deps[fid], did)
	}
	drows.Close()

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := map[int64]int{}
	toBlock := map[int64]string{}

	var visit func(id int64, stack []int64) bool // returns true if id is on a cycle or depends on blocked
	visit = func(id int64, stack []int64) bool {
		if state[id] == visited {
			return toBlock[id] != ""
		}
		if state[id] == visiting {
			// Cycle detected: block every feature on the cycle.
			cycleStart := -1
			for i, s := range stack {
				if s == id {
					cycleStart = i
					break
				}
			}
			if cycleStart >= 0 {
				for _, s := range stack[cycleStart:] {
					toBlock[s] = "dependency cycle detected"
				}
			}
			return true
		}
		state[id] = visiting
		stack = append(stack, id)

		unresolvable := false
		for _, dep := range deps[id] {
			if blockedSet[dep] {
				toBlock[id] = fmt.Sprintf("depends on blocked feature %d", dep)
				unresolvable = true
				continue
			}
			if !pending[dep] {
				continue // dependency is DONE or IN_PROGRESS; not unresolvable
			}
			if visit(dep, stack) {
				unresolvable = true
			}
		}
		state[id] = visited
		if unresolvable && toBlock[id] == "" {
			toBlock[id] = "dependency cycle detected"
		}
		return unresolvable
	}

	for id := range pending {
		visit(id, nil)
	}

	now := nowString()
	count := 0
	for id, reason := range toBlock {
		if _, err := tx.Exec(
			`UPDATE features SET status = 'BLOCKED', last_error = ?, updated_at = ? WHERE id = ? AND status = 'PENDING'`,
			reason, now, id,
		); err != nil {
			return 0, err
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}
