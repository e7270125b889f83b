package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations are additive and idempotent to re-run (guarded creates);
// each applies in its own transaction and is recorded in
// schema_versions. Both the file and in-memory backends run the same
// sequence, so a bundle exported from one imports into the other.
var migrations = []migration{
	{
		Version:     1,
		Description: "observations: atomic development events + lexical index",
		SQL: `
CREATE TABLE IF NOT EXISTS observations (
    id          TEXT PRIMARY KEY,
    kind        TEXT NOT NULL CHECK (kind IN ('tool_call', 'command', 'file_diff', 'error', 'message', 'node_start', 'node_end', 'node_output', 'node_error')),
    content     TEXT NOT NULL,
    provenance  TEXT NOT NULL DEFAULT '{}',
    ts          INTEGER NOT NULL,
    session_id  TEXT,
    repo_id     TEXT,
    agent_id    TEXT,
    user_id     TEXT,
    redacted    INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_obs_ts      ON observations(ts DESC);
CREATE INDEX IF NOT EXISTS idx_obs_session ON observations(session_id);
CREATE INDEX IF NOT EXISTS idx_obs_repo    ON observations(repo_id);

CREATE VIRTUAL TABLE IF NOT EXISTS observations_fts USING fts5(
    content,
    content=observations, content_rowid=rowid
);

-- Redacted rows never enter the index; redaction (an UPDATE setting
-- redacted=1) drops the old entry and inserts nothing.
CREATE TRIGGER IF NOT EXISTS obs_ai AFTER INSERT ON observations WHEN new.redacted = 0 BEGIN
    INSERT INTO observations_fts(rowid, content) VALUES (new.rowid, new.content);
END;
CREATE TRIGGER IF NOT EXISTS obs_ad AFTER DELETE ON observations WHEN old.redacted = 0 BEGIN
    INSERT INTO observations_fts(observations_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
END;
CREATE TRIGGER IF NOT EXISTS obs_au_del AFTER UPDATE ON observations WHEN old.redacted = 0 BEGIN
    INSERT INTO observations_fts(observations_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
END;
CREATE TRIGGER IF NOT EXISTS obs_au_ins AFTER UPDATE ON observations WHEN new.redacted = 0 BEGIN
    INSERT INTO observations_fts(rowid, content) VALUES (new.rowid, new.content);
END;
`,
	},
	{
		Version:     2,
		Description: "capsules: bounded units of work + observation attachment",
		SQL: `
CREATE TABLE IF NOT EXISTS capsules (
    id          TEXT PRIMARY KEY,
    type        TEXT NOT NULL CHECK (type IN ('session', 'pocketflow_node', 'custom')),
    intent      TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL CHECK (status IN ('open', 'closed')),
    opened_at   INTEGER NOT NULL,
    closed_at   INTEGER,
    session_id  TEXT,
    repo_id     TEXT,
    agent_id    TEXT,
    user_id     TEXT
);

CREATE INDEX IF NOT EXISTS idx_cap_session_status ON capsules(session_id, status);
CREATE INDEX IF NOT EXISTS idx_cap_opened         ON capsules(opened_at DESC);

CREATE TABLE IF NOT EXISTS capsule_observations (
    seq            INTEGER PRIMARY KEY AUTOINCREMENT,
    capsule_id     TEXT NOT NULL REFERENCES capsules(id),
    observation_id TEXT NOT NULL REFERENCES observations(id),
    UNIQUE (capsule_id, observation_id)
);

CREATE INDEX IF NOT EXISTS idx_capobs_capsule ON capsule_observations(capsule_id);
`,
	},
	{
		Version:     3,
		Description: "summaries: caller-supplied capsule annotations + lexical index",
		SQL: `
CREATE TABLE IF NOT EXISTS summaries (
    id            TEXT PRIMARY KEY,
    capsule_id    TEXT NOT NULL UNIQUE REFERENCES capsules(id),
    content       TEXT NOT NULL,
    confidence    REAL NOT NULL CHECK (confidence >= 0.0 AND confidence <= 1.0),
    created_at    INTEGER NOT NULL,
    evidence_refs TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_sum_created ON summaries(created_at DESC);

CREATE VIRTUAL TABLE IF NOT EXISTS summaries_fts USING fts5(
    content,
    content=summaries, content_rowid=rowid
);

CREATE TRIGGER IF NOT EXISTS sum_ai AFTER INSERT ON summaries BEGIN
    INSERT INTO summaries_fts(rowid, content) VALUES (new.rowid, new.content);
END;
CREATE TRIGGER IF NOT EXISTS sum_ad AFTER DELETE ON summaries BEGIN
    INSERT INTO summaries_fts(summaries_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
END;
CREATE TRIGGER IF NOT EXISTS sum_au AFTER UPDATE ON summaries BEGIN
    INSERT INTO summaries_fts(summaries_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
    INSERT INTO summaries_fts(rowid, content) VALUES (new.rowid, new.content);
END;
`,
	},
	{
		Version:     4,
		Description: "pins: user-curated non-evictable markers",
		SQL: `
CREATE TABLE IF NOT EXISTS pins (
    id          TEXT PRIMARY KEY,
    target_type TEXT NOT NULL CHECK (target_type IN ('observation', 'summary')),
    target_id   TEXT NOT NULL,
    reason      TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    expires_at  INTEGER,
    session_id  TEXT,
    repo_id     TEXT,
    agent_id    TEXT,
    user_id     TEXT
);

CREATE INDEX IF NOT EXISTS idx_pins_target  ON pins(target_type, target_id);
CREATE INDEX IF NOT EXISTS idx_pins_session ON pins(session_id);
`,
	},
}

func (db *DB) migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
