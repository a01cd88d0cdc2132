package store

const schema = `
CREATE TABLE IF NOT EXISTS features (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	steps TEXT NOT NULL DEFAULT '[]',
	priority INTEGER NOT NULL DEFAULT 0,

	status TEXT NOT NULL DEFAULT 'PENDING',
	passes INTEGER NOT NULL DEFAULT 0,
	review_status TEXT NOT NULL DEFAULT 'PENDING',

	assigned_agent_id TEXT NOT NULL DEFAULT '',
	assigned_at TEXT,
	branch_name TEXT NOT NULL DEFAULT '',

	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	next_attempt_at TEXT,
	last_error_key TEXT NOT NULL DEFAULT '',
	same_error_streak INTEGER NOT NULL DEFAULT 0,
	last_artifact_path TEXT NOT NULL DEFAULT '',
	last_diff_fingerprint TEXT NOT NULL DEFAULT '',
	same_diff_streak INTEGER NOT NULL DEFAULT 0,
	qa_attempts INTEGER NOT NULL DEFAULT 0,

	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	completed_at TEXT
);

CREATE TABLE IF NOT EXISTS feature_dependencies (
	feature_id INTEGER NOT NULL,
	depends_on_id INTEGER NOT NULL,
	PRIMARY KEY (feature_id, depends_on_id),
	FOREIGN KEY (feature_id) REFERENCES features(id),
	FOREIGN KEY (depends_on_id) REFERENCES features(id)
);

CREATE TABLE IF NOT EXISTS agent_heartbeats (
	agent_id TEXT PRIMARY KEY,
	last_ping TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'ACTIVE',
	worktree_path TEXT NOT NULL DEFAULT '',
	feature_id INTEGER NOT NULL DEFAULT 0,
	pid INTEGER NOT NULL DEFAULT 0,
	started_at TEXT NOT NULL,
	process_create_time INTEGER NOT NULL DEFAULT 0,
	api_port INTEGER NOT NULL DEFAULT 0,
	web_port INTEGER NOT NULL DEFAULT 0,
	log_file_path TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS branches (
	branch_name TEXT PRIMARY KEY,
	feature_id INTEGER NOT NULL,
	agent_id TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	merged_at TEXT,
	commit_hash TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);
`

const indexes = `
CREATE INDEX IF NOT EXISTS idx_features_status ON features(status);
CREATE INDEX IF NOT EXISTS idx_features_next_attempt_at ON features(next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_features_review_status ON features(review_status);
CREATE INDEX IF NOT EXISTS idx_feature_dependencies_depends_on_id ON feature_dependencies(depends_on_id);
CREATE INDEX IF NOT EXISTS idx_agent_heartbeats_agent_id ON agent_heartbeats(agent_id);
CREATE INDEX IF NOT EXISTS idx_agent_heartbeats_last_ping ON agent_heartbeats(last_ping);
`

// migrate records schema_migrations entries for databases created before the
// table existed, so Open is idempotent across upgrades without re-running
// CREATE TABLE IF NOT EXISTS statements outside the schema constant above.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO schema_migrations (version, applied_at) VALUES (1, ?)`, nowString())
	return err
}
