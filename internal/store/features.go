package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CreateFeature inserts a new PENDING feature and its dependency edges,
// returning the assigned id.
func (s *Store) CreateFeature(f NewFeature) (int64, error) {
	ids, err := s.CreateFeaturesBulk([]NewFeature{f})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// CreateFeaturesBulk inserts many features (and their dependency edges) in
// one transaction, returning their assigned ids in input order.
func (s *Store) CreateFeaturesBulk(list []NewFeature) ([]int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := nowString()
	ids := make([]int64, 0, len(list))
	for _, nf := range list {
		steps, err := json.Marshal(nf.Steps)
		if err != nil {
			return nil, fmt.Errorf("store: marshal steps: %w", err)
		}
		res, err := tx.Exec(
			`INSERT INTO features (name, description, category, steps, priority, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			nf.Name, nf.Description, nf.Category, string(steps), nf.Priority, now, now,
		)
		if err != nil {
			return nil, fmt.Errorf("store: insert feature: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		for _, dep := range nf.DependsOn {
			if _, err := tx.Exec(
				`INSERT INTO feature_dependencies (feature_id, depends_on_id) VALUES (?, ?)`,
				id, dep,
			); err != nil {
				return nil, fmt.Errorf("store: insert dependency: %w", err)
			}
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

const featureColumns = `id, name, description, category, steps, priority,
	status, passes, review_status,
	assigned_agent_id, assigned_at, branch_name,
	attempts, last_error, next_attempt_at, last_error_key, same_error_streak,
	last_artifact_path, last_diff_fingerprint, same_diff_streak, qa_attempts,
	created_at, updated_at, completed_at`

func scanFeature(row interface{ Scan(...any) error }) (*Feature, error) {
	var f Feature
	var steps string
	var assignedAt, nextAttemptAt, completedAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(
		&f.ID, &f.Name, &f.Description, &f.Category, &steps, &f.Priority,
		&f.Status, &f.Passes, &f.ReviewStatus,
		&f.AssignedAgentID, &assignedAt, &f.BranchName,
		&f.Attempts, &f.LastError, &nextAttemptAt, &f.LastErrorKey, &f.SameErrorStreak,
		&f.LastArtifactPath, &f.LastDiffFingerprint, &f.SameDiffStreak, &f.QAAttempts,
		&createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(steps), &f.Steps)
	f.AssignedAt = parseTimePtr(assignedAt)
	f.NextAttemptAt = parseTimePtr(nextAttemptAt)
	f.CompletedAt = parseTimePtr(completedAt)
	f.CreatedAt = parseTime(createdAt)
	f.UpdatedAt = parseTime(updatedAt)
	return &f, nil
}

// GetFeature returns a single feature by id, or ErrFeatureNotFound.
func (s *Store) GetFeature(id int64) (*Feature, error) {
	row := s.db.QueryRow(`SELECT `+featureColumns+` FROM features WHERE id = ?`, id)
	f, err := scanFeature(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFeatureNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// GetFeaturesByStatus lists all features with the given status, ordered by
// priority descending then id ascending.
func (s *Store) GetFeaturesByStatus(status FeatureStatus) ([]*Feature, error) {
	rows, err := s.db.Query(`SELECT `+featureColumns+` FROM features WHERE status = ? ORDER BY priority DESC, id ASC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Feature
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// dependenciesSatisfied reports whether every dependency of featureID has
// status DONE.
func dependenciesSatisfied(tx *sql.Tx, featureID int64) (bool, error) {
	rows, err := tx.Query(
		`SELECT f.status FROM feature_dependencies d JOIN features f ON f.id = d.depends_on_id WHERE d.feature_id = ?`,
		featureID,
	)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var status FeatureStatus
		if err := rows.Scan(&status); err != nil {
			return false, err
		}
		if status != StatusDone {
			return false, nil
		}
	}
	return true, rows.Err()
}

// ClaimNextPendingFeature atomically selects and claims the highest-priority
// runnable PENDING feature, guarding the UPDATE on status='PENDING' and
// retrying the scan on a lost race up to maxAttempts times.
func (s *Store) ClaimNextPendingFeature(agentID, branchPrefix string, maxAttempts int, prioritizeBlockers bool) (*Feature, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	now := nowString()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := s.db.Begin()
		if err != nil {
			return nil, err
		}

		candidates, err := candidateOrder(tx, now, prioritizeBlockers)
		if err != nil {
			tx.Rollback()
			return nil, err
		}

		var claimed *Feature
		for _, c := range candidates {
			ok, err := dependenciesSatisfied(tx, c.id)
			if err != nil {
				tx.Rollback()
				return nil, err
			}
			if !ok {
				continue
			}

			branch := c.branchName
			if branch == "" {
				branch = fmt.Sprintf("%s/%d-%d", branchPrefix, c.id, time.Now().Unix())
			}

			res, err := tx.Exec(
				`UPDATE features SET status = 'IN_PROGRESS', review_status = 'PENDING', assigned_agent_id = ?, assigned_at = ?,
				 branch_name = ?, updated_at = ? WHERE id = ? AND status = 'PENDING'`,
				agentID, now, branch, now, c.id,
			)
			if err != nil {
				tx.Rollback()
				return nil, err
			}
			n, err := res.RowsAffected()
			if err != nil {
				tx.Rollback()
				return nil, err
			}
			if n == 1 {
				row := tx.QueryRow(`SELECT `+featureColumns+` FROM features WHERE id = ?`, c.id)
				claimed, err = scanFeature(row)
				if err != nil {
					tx.Rollback()
					return nil, err
				}
				break
			}
			// Lost the race on this candidate; try the next one in this same scan.
		}

		if claimed != nil {
			if err := tx.Commit(); err != nil {
				return nil, err
			}
			return claimed, nil
		}
		tx.Rollback()
		if len(candidates) == 0 {
			return nil, ErrNotClaimed
		}
		// All candidates lost their race this pass; rescan.
	}
	return nil, ErrNotClaimed
}

type candidate struct {
	id         int64
	branchName string
}

// candidateOrder returns PENDING features whose next_attempt_at has passed
// (or is null), ordered by priority descending, then — when
// prioritizeBlockers is set — by how many other PENDING features directly
// depend on them (more unblocked first), then by id ascending. priority
// always wins; prioritizeBlockers is a secondary sort key only.
func candidateOrder(tx *sql.Tx, now string, prioritizeBlockers bool) ([]candidate, error) {
	rows, err := tx.Query(
		`SELECT id, branch_name FROM features
		 WHERE status = 'PENDING' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 ORDER BY priority DESC, id ASC`,
		now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.branchName); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !prioritizeBlockers || len(out) == 0 {
		return out, nil
	}

	unblocks := make(map[int64]int, len(out))
	for _, c := range out {
		var count int
		err := tx.QueryRow(
			`SELECT COUNT(*) FROM feature_dependencies d JOIN features f ON f.id = d.feature_id
			 WHERE d.depends_on_id = ? AND f.status = 'PENDING'`,
			c.id,
		).Scan(&count)
		if err != nil {
			return nil, err
		}
		unblocks[c.id] = count
	}

	priorities := make(map[int64]int, len(out))
	priRows, err := tx.Query(`SELECT id, priority FROM features WHERE status = 'PENDING'`)
	if err != nil {
		return nil, err
	}
	for priRows.Next() {
		var id int64
		var p int
		if err := priRows.Scan(&id, &p); err != nil {
			priRows.Close()
			return nil, err
		}
		priorities[id] = p
	}
	priRows.Close()

	sortCandidatesByPriorityThenBlockers(out, priorities, unblocks)
	return out, nil
}

func sortCandidatesByPriorityThenBlockers(out []candidate, priorities map[int64]int, unblocks map[int64]int) {
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && less(out[j], out[j-1], priorities, unblocks) {
			out[j], out[j-1] = out[j-1], out[j]
			j--
		}
	}
}

func less(a, b candidate, priorities, unblocks map[int64]int) bool {
	if priorities[a.id] != priorities[b.id] {
		return priorities[a.id] > priorities[b.id]
	}
	if unblocks[a.id] != unblocks[b.id] {
		return unblocks[a.id] > unblocks[b.id]
	}
	return a.id < b.id
}

// MarkFeatureReadyForVerification flags a feature for the Gatekeeper without
// changing its IN_PROGRESS status.
func (s *Store) MarkFeatureReadyForVerification(id int64) error {
	res, err := s.db.Exec(
		`UPDATE features SET review_status = 'READY_FOR_VERIFICATION', passes = 0, updated_at = ? WHERE id = ?`,
		nowString(), id,
	)
	return checkUpdated(res, err)
}

// MarkFeaturePassing records a Gatekeeper approval.
func (s *Store) MarkFeaturePassing(id int64) error {
	now := nowString()
	res, err := s.db.Exec(
		`UPDATE features SET status = 'DONE', passes = 1, review_status = 'VERIFIED',
		 completed_at = ?, updated_at = ? WHERE id = ?`,
		now, now, id,
	)
	return checkUpdated(res, err)
}

func checkUpdated(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrFeatureNotFound
	}
	return nil
}
