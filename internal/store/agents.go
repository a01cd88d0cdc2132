package store

import (
	"database/sql"
	"errors"
	"time"
)

// RegisterAgent inserts or replaces the heartbeat row for a newly spawned
// worker, marking it ACTIVE.
func (s *Store) RegisterAgent(hb AgentHeartbeat) error {
	now := nowString()
	_, err := s.db.Exec(
		`INSERT INTO agent_heartbeats
		 (agent_id, last_ping, status, worktree_path, feature_id, pid, started_at,
		  process_create_time, api_port, web_port, log_file_path)
		 VALUES (?, ?, 'ACTIVE', ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET
		   last_ping=excluded.last_ping, status='ACTIVE', worktree_path=excluded.worktree_path,
		   feature_id=excluded.feature_id, pid=excluded.pid, started_at=excluded.started_at,
		   process_create_time=excluded.process_create_time, api_port=excluded.api_port,
		   web_port=excluded.web_port, log_file_path=excluded.log_file_path`,
		hb.AgentID, now, hb.WorktreePath, hb.FeatureID, hb.PID, hb.StartedAt.UTC().Format(time.RFC3339Nano),
		hb.ProcessCreateTime, hb.APIPort, hb.WebPort, hb.LogFilePath,
	)
	return err
}

// UpdateHeartbeat bumps last_ping for a live agent.
func (s *Store) UpdateHeartbeat(agentID string) error {
	res, err := s.db.Exec(`UPDATE agent_heartbeats SET last_ping = ? WHERE agent_id = ?`, nowString(), agentID)
	return checkAgentUpdated(res, err)
}

// MarkAgentCompleted flags a clean worker exit.
func (s *Store) MarkAgentCompleted(agentID string) error {
	res, err := s.db.Exec(
		`UPDATE agent_heartbeats SET status = 'COMPLETED', last_ping = ? WHERE agent_id = ?`,
		nowString(), agentID,
	)
	return checkAgentUpdated(res, err)
}

// MarkAgentCrashed flags a worker whose heartbeat went stale or whose process
// identity no longer matches.
func (s *Store) MarkAgentCrashed(agentID string) error {
	res, err := s.db.Exec(
		`UPDATE agent_heartbeats SET status = 'CRASHED', last_ping = ? WHERE agent_id = ?`,
		nowString(), agentID,
	)
	return checkAgentUpdated(res, err)
}

func checkAgentUpdated(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAgentNotFound
	}
	return nil
}

const heartbeatColumns = `agent_id, last_ping, status, worktree_path, feature_id, pid, started_at,
	process_create_time, api_port, web_port, log_file_path`

func scanHeartbeat(row interface{ Scan(...any) error }) (*AgentHeartbeat, error) {
	var hb AgentHeartbeat
	var lastPing, startedAt string
	err := row.Scan(
		&hb.AgentID, &lastPing, &hb.Status, &hb.WorktreePath, &hb.FeatureID, &hb.PID, &startedAt,
		&hb.ProcessCreateTime, &hb.APIPort, &hb.WebPort, &hb.LogFilePath,
	)
	if err != nil {
		return nil, err
	}
	hb.LastPing = parseTime(lastPing)
	hb.StartedAt = parseTime(startedAt)
	return &hb, nil
}

// GetAgent returns a single heartbeat row, or ErrAgentNotFound.
func (s *Store) GetAgent(agentID string) (*AgentHeartbeat, error) {
	row := s.db.QueryRow(`SELECT `+heartbeatColumns+` FROM agent_heartbeats WHERE agent_id = ?`, agentID)
	hb, err := scanHeartbeat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, err
	}
	return hb, nil
}

func queryHeartbeats(s *Store, query string, args ...any) ([]*AgentHeartbeat, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*AgentHeartbeat
	for rows.Next() {
		hb, err := scanHeartbeat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, hb)
	}
	return out, rows.Err()
}

// GetStaleAgents returns ACTIVE agents whose last_ping is older than
// timeoutMinutes; these are crash-recovery candidates for the Orchestrator.
func (s *Store) GetStaleAgents(timeoutMinutes int) ([]*AgentHeartbeat, error) {
	cutoff := time.Now().Add(-time.Duration(timeoutMinutes) * time.Minute).UTC().Format(time.RFC3339Nano)
	return queryHeartbeats(s,
		`SELECT `+heartbeatColumns+` FROM agent_heartbeats WHERE status = 'ACTIVE' AND last_ping < ? ORDER BY agent_id`,
		cutoff,
	)
}

// GetActiveAgents lists every agent currently marked ACTIVE.
func (s *Store) GetActiveAgents() ([]*AgentHeartbeat, error) {
	return queryHeartbeats(s, `SELECT `+heartbeatColumns+` FROM agent_heartbeats WHERE status = 'ACTIVE' ORDER BY agent_id`)
}

// GetCompletedAgents lists every agent marked COMPLETED, for Orchestrator
// recovery sweeps.
func (s *Store) GetCompletedAgents() ([]*AgentHeartbeat, error) {
	return queryHeartbeats(s, `SELECT `+heartbeatColumns+` FROM agent_heartbeats WHERE status = 'COMPLETED' ORDER BY agent_id`)
}
