package store

import (
	"database/sql"
	"fmt"
)

// Schema migrations are forward-only and recorded in _conductor_meta. Each
// entry runs at most once; the version bump and DDL share a transaction so a
// crash mid-migration leaves the database on the previous version.
var migrations = []string{
	schemaV1,
	schemaV2,
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS repos (
    id TEXT PRIMARY KEY,
    slug TEXT NOT NULL UNIQUE,
    local_path TEXT NOT NULL,
    remote_url TEXT NOT NULL,
    default_branch TEXT NOT NULL DEFAULT 'main',
    workspace_dir TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS worktrees (
    id TEXT PRIMARY KEY,
    repo_id TEXT NOT NULL REFERENCES repos(id) ON DELETE CASCADE,
    slug TEXT NOT NULL,
    branch TEXT NOT NULL,
    path TEXT NOT NULL,
    ticket_id TEXT,
    status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'merged', 'abandoned')),
    created_at TEXT NOT NULL,
    completed_at TEXT,
    UNIQUE (repo_id, slug)
);

CREATE TABLE IF NOT EXISTS tickets (
    id TEXT PRIMARY KEY,
    repo_id TEXT NOT NULL REFERENCES repos(id) ON DELETE CASCADE,
    source_type TEXT NOT NULL,
    source_id TEXT NOT NULL,
    title TEXT NOT NULL,
    body TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL DEFAULT 'open',
    labels TEXT NOT NULL DEFAULT '[]',
    assignee TEXT,
    priority TEXT,
    url TEXT NOT NULL DEFAULT '',
    synced_at TEXT NOT NULL,
    raw_json TEXT NOT NULL DEFAULT '{}',
    UNIQUE (repo_id, source_type, source_id)
);

CREATE TABLE IF NOT EXISTS repo_issue_sources (
    id TEXT PRIMARY KEY,
    repo_id TEXT NOT NULL REFERENCES repos(id) ON DELETE CASCADE,
    source_type TEXT NOT NULL CHECK (source_type IN ('github', 'jira')),
    config_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_runs (
    id TEXT PRIMARY KEY,
    worktree_id TEXT NOT NULL REFERENCES worktrees(id) ON DELETE CASCADE,
    claude_session_id TEXT,
    prompt TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'running' CHECK (status IN ('running', 'completed', 'failed', 'cancelled')),
    result_text TEXT,
    cost_usd REAL,
    num_turns INTEGER,
    duration_ms INTEGER,
    started_at TEXT NOT NULL,
    ended_at TEXT,
    tmux_session TEXT
);
CREATE INDEX IF NOT EXISTS idx_agent_runs_worktree ON agent_runs(worktree_id, started_at);

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    started_at TEXT NOT NULL,
    ended_at TEXT,
    notes TEXT
);

CREATE TABLE IF NOT EXISTS session_worktrees (
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    worktree_id TEXT NOT NULL REFERENCES worktrees(id) ON DELETE CASCADE,
    PRIMARY KEY (session_id, worktree_id)
);
`

// v2: the partial unique index is the database-level guarantee that a
// worktree never has two live agents, and agent_events gives each run a
// bounded display log.
const schemaV2 = `
CREATE UNIQUE INDEX IF NOT EXISTS uniq_agent_runs_running
    ON agent_runs(worktree_id) WHERE status = 'running';

CREATE TABLE IF NOT EXISTS agent_events (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES agent_runs(id) ON DELETE CASCADE,
    kind TEXT NOT NULL,
    message TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_events_run ON agent_events(run_id, created_at);
`

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS _conductor_meta (
        key TEXT PRIMARY KEY,
        value TEXT NOT NULL
    )`); err != nil {
		return fmt.Errorf("create meta table: %w", err)
	}

	version, err := SchemaVersion(db)
	if err != nil {
		return err
	}

	for i, ddl := range migrations {
		v := i + 1
		if version >= v {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", v, err)
		}
		if _, err := tx.Exec(ddl); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", v, err)
		}
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO _conductor_meta (key, value) VALUES ('schema_version', ?)`,
			fmt.Sprint(v),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", v, err)
		}
	}
	return nil
}

// SchemaVersion returns the current schema version, 0 for a fresh database.
func SchemaVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`SELECT COALESCE(
        (SELECT CAST(value AS INTEGER) FROM _conductor_meta WHERE key = 'schema_version'),
        0)`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
