package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/capsa-dev/capsa/internal/memory"
)

// InsertObservation persists a validated observation. The FTS trigger
// indexes the content unless the row arrives already redacted.
func (db *DB) InsertObservation(o memory.Observation) error {
	prov, err := json.Marshal(o.Provenance)
	if err != nil {
		return fmt.Errorf("marshal provenance: %w", err)
	}

	args := []any{o.ID, string(o.Kind), o.Content, string(prov), o.Ts}
	args = append(args, scopeArgs(o.Scope)...)
	args = append(args, o.Redacted)

	_, err = db.Exec(`
		INSERT INTO observations (id, kind, content, provenance, ts, session_id, repo_id, agent_id, user_id, redacted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

const observationCols = "id, kind, content, provenance, ts, session_id, repo_id, agent_id, user_id, redacted"

func scanObservation(row interface{ Scan(...any) error }) (memory.Observation, error) {
	var o memory.Observation
	var kind, prov string
	var sess, repo, agent, user sql.NullString
	if err := row.Scan(&o.ID, &kind, &o.Content, &prov, &o.Ts, &sess, &repo, &agent, &user, &o.Redacted); err != nil {
		return o, err
	}
	o.Kind = memory.ObservationKind(kind)
	o.Scope = scanScope(sess, repo, agent, user)
	if err := json.Unmarshal([]byte(prov), &o.Provenance); err != nil {
		return o, fmt.Errorf("unmarshal provenance: %w", err)
	}
	return o, nil
}

// GetObservation returns an observation by id, or NotFoundError.
func (db *DB) GetObservation(id string) (*memory.Observation, error) {
	row := db.QueryRow("SELECT "+observationCols+" FROM observations WHERE id = ?", id)
	o, err := scanObservation(row)
	if err == sql.ErrNoRows {
		return nil, &memory.NotFoundError{Entity: "observation", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get observation: %w", err)
	}
	return &o, nil
}

// RedactObservation flips redacted to true, blanks the stored content,
// and (via the FTS triggers) removes the row from the lexical index.
// Redacting an already-redacted observation is a no-op. The redacted
// flag only ever transitions false→true; nothing un-redacts.
func (db *DB) RedactObservation(id string) error {
	res, err := db.Exec("UPDATE observations SET redacted = 1, content = '' WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("redact observation: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &memory.NotFoundError{Entity: "observation", ID: id}
	}
	return nil
}

// ListObservations returns the newest observations matching the scope,
// most recent first. Redacted rows are skipped unless includeRedacted.
func (db *DB) ListObservations(scope memory.ScopeIDs, includeRedacted bool, limit int) ([]memory.Observation, error) {
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT " + observationCols + " FROM observations WHERE 1=1"
	var args []any
	if !includeRedacted {
		query += " AND redacted = 0"
	}
	clause, scopeA := scopeFilter(scope)
	query += clause
	args = append(args, scopeA...)
	query += " ORDER BY ts DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	defer rows.Close()

	var out []memory.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CountObservations returns the number of stored observations,
// including redacted ones.
func (db *DB) CountObservations() (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM observations").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return n, nil
}
