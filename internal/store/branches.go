package store

import "database/sql"

// RegisterBranchMerge records a completed Gatekeeper merge in the audit
// trail, upserting by branch name.
func (s *Store) RegisterBranchMerge(branchName string, featureID int64, agentID, commitHash string) error {
	now := nowString()
	_, err := s.db.Exec(
		`INSERT INTO branches (branch_name, feature_id, agent_id, created_at, merged_at, commit_hash)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(branch_name) DO UPDATE SET merged_at = excluded.merged_at, commit_hash = excluded.commit_hash`,
		branchName, featureID, agentID, now, now, commitHash,
	)
	return err
}

// GetBranch returns the audit row for a branch name, if any.
func (s *Store) GetBranch(branchName string) (*Branch, error) {
	row := s.db.QueryRow(
		`SELECT branch_name, feature_id, agent_id, created_at, merged_at, commit_hash FROM branches WHERE branch_name = ?`,
		branchName,
	)
	var b Branch
	var createdAt string
	var mergedAt sql.NullString
	if err := row.Scan(&b.BranchName, &b.FeatureID, &b.AgentID, &createdAt, &mergedAt, &b.CommitHash); err != nil {
		return nil, err
	}
	b.CreatedAt = parseTime(createdAt)
	b.MergedAt = parseTimePtr(mergedAt)
	return &b, nil
}
