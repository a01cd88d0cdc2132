package store

import "database/sql"

// GetStats returns a point-in-time count of features by status.
func (s *Store) GetStats() (Stats, error) {
	var st Stats
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM features GROUP BY status`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var status FeatureStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return st, err
		}
		switch status {
		case StatusPending:
			st.Pending = n
		case StatusInProgress:
			st.InProgress = n
		case StatusDone:
			st.Done = n
		case StatusBlocked:
			st.Blocked = n
		}
	}
	return st, rows.Err()
}

// GetProgress summarizes Stats with a completion percentage.
func (s *Store) GetProgress() (Progress, error) {
	st, err := s.GetStats()
	if err != nil {
		return Progress{}, err
	}
	total := st.Pending + st.InProgress + st.Done + st.Blocked
	p := Progress{Stats: st, Total: total}
	if total > 0 {
		p.PercentDone = float64(st.Done) / float64(total) * 100
	}
	return p, nil
}

// GetPendingQueueState summarizes the PENDING queue so the Orchestrator can
// lengthen its poll interval when nothing is immediately claimable instead
// of tight-polling an empty or all-backoff queue.
func (s *Store) GetPendingQueueState() (PendingQueueState, error) {
	var q PendingQueueState
	now := nowString()

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM features WHERE status = 'PENDING'`).Scan(&q.PendingTotal); err != nil {
		return q, err
	}

	rows, err := s.db.Query(
		`SELECT id FROM features WHERE status = 'PENDING' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)`,
		now,
	)
	if err != nil {
		return q, err
	}
	var readyIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return q, err
		}
		readyIDs = append(readyIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return q, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return q, err
	}
	defer tx.Rollback()

	for _, id := range readyIDs {
		ok, err := dependenciesSatisfied(tx, id)
		if err != nil {
			return q, err
		}
		if ok {
			q.ClaimableNow++
		} else {
			q.WaitingDeps++
			if q.ExampleDepBlockedFeatureID == 0 {
				q.ExampleDepBlockedFeatureID = id
			}
		}
	}
	tx.Rollback()

	q.WaitingBackoff = q.PendingTotal - len(readyIDs)

	var earliest sql.NullString
	err = s.db.QueryRow(
		`SELECT MIN(next_attempt_at) FROM features WHERE status = 'PENDING' AND next_attempt_at IS NOT NULL AND next_attempt_at > ?`,
		now,
	).Scan(&earliest)
	if err != nil {
		return q, err
	}
	q.EarliestNextAttemptAt = parseTimePtr(earliest)
	return q, nil
}
