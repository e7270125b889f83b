package store

import (
	"encoding/json"
	"fmt"

	"github.com/capsa-dev/capsa/internal/memory"
)

// Dataset is a point-in-time snapshot of the four entity collections.
// It is the payload inside an export bundle and the unit of import.
type Dataset struct {
	Version      int                  `json:"version"`
	Scope        *memory.ScopeIDs     `json:"scope,omitempty"`
	Observations []memory.Observation `json:"observations"`
	Capsules     []memory.Capsule     `json:"capsules"`
	Summaries    []memory.Summary     `json:"summaries"`
	Pins         []memory.Pin         `json:"pins"`
}

// ImportCounts reports how many rows of one collection were imported
// and how many were skipped as duplicates.
type ImportCounts struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// RowError is a single failed row during import. Imports are
// partial-failure tolerant: errors accumulate, successful rows stay.
type RowError struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Error      string `json:"error"`
}

// ImportResult aggregates per-collection counts and row-level errors.
type ImportResult struct {
	Observations ImportCounts `json:"observations"`
	Capsules     ImportCounts `json:"capsules"`
	Summaries    ImportCounts `json:"summaries"`
	Pins         ImportCounts `json:"pins"`
	Errors       []RowError   `json:"errors,omitempty"`
}

// ExportDataset snapshots every collection matching the scope.
// limit <= 0 exports everything; otherwise it caps each collection.
// Redacted observations are exported (with blank content) only when
// includeRedacted is set.
func (db *DB) ExportDataset(scope memory.ScopeIDs, includeRedacted bool, limit int) (*Dataset, error) {
	version, err := db.SchemaVersion()
	if err != nil {
		return nil, fmt.Errorf("schema version: %w", err)
	}

	ds := &Dataset{
		Version:      version,
		Observations: []memory.Observation{},
		Capsules:     []memory.Capsule{},
		Summaries:    []memory.Summary{},
		Pins:         []memory.Pin{},
	}
	if !scope.IsZero() {
		s := scope
		ds.Scope = &s
	}

	limitClause := ""
	var limitArgs []any
	if limit > 0 {
		limitClause = " LIMIT ?"
		limitArgs = []any{limit}
	}

	// Observations
	{
		query := "SELECT " + observationCols + " FROM observations WHERE 1=1"
		if !includeRedacted {
			query += " AND redacted = 0"
		}
		clause, args := scopeFilter(scope)
		query += clause + " ORDER BY ts" + limitClause
		args = append(args, limitArgs...)

		rows, err := db.Query(query, args...)
		if err != nil {
			return nil, fmt.Errorf("export observations: %w", err)
		}
		for rows.Next() {
			o, err := scanObservation(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("export scan observation: %w", err)
			}
			ds.Observations = append(ds.Observations, o)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	// Capsules
	{
		query := "SELECT " + capsuleCols + " FROM capsules WHERE 1=1"
		clause, args := scopeFilter(scope)
		query += clause + " ORDER BY opened_at" + limitClause
		args = append(args, limitArgs...)

		rows, err := db.Query(query, args...)
		if err != nil {
			return nil, fmt.Errorf("export capsules: %w", err)
		}
		for rows.Next() {
			c, err := scanCapsule(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("export scan capsule: %w", err)
			}
			ds.Capsules = append(ds.Capsules, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	// Summaries follow their capsules: scope applies through the join.
	{
		query := `SELECT s.id, s.capsule_id, s.content, s.confidence, s.created_at, s.evidence_refs
			FROM summaries s JOIN capsules c ON c.id = s.capsule_id WHERE 1=1`
		clause, args := buildAliasedScopeFilter("c", scope)
		query += clause + " ORDER BY s.created_at" + limitClause
		args = append(args, limitArgs...)

		rows, err := db.Query(query, args...)
		if err != nil {
			return nil, fmt.Errorf("export summaries: %w", err)
		}
		for rows.Next() {
			s, err := scanSummary(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("export scan summary: %w", err)
			}
			ds.Summaries = append(ds.Summaries, s)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	// Pins
	{
		query := "SELECT " + pinCols + " FROM pins WHERE 1=1"
		clause, args := scopeFilter(scope)
		query += clause + " ORDER BY created_at" + limitClause
		args = append(args, limitArgs...)

		rows, err := db.Query(query, args...)
		if err != nil {
			return nil, fmt.Errorf("export pins: %w", err)
		}
		for rows.Next() {
			p, err := scanPin(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("export scan pin: %w", err)
			}
			ds.Pins = append(ds.Pins, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	return ds, nil
}

// ImportDataset loads a dataset into the store. Duplicate ids are
// skipped (INSERT OR IGNORE); bad rows are collected as row errors and
// never roll back rows that already succeeded. Capsules import before
// summaries so foreign keys resolve.
func (db *DB) ImportDataset(ds *Dataset) (*ImportResult, error) {
	res := &ImportResult{}

	for _, o := range ds.Observations {
		prov, err := json.Marshal(o.Provenance)
		if err != nil {
			res.Errors = append(res.Errors, RowError{"observations", o.ID, err.Error()})
			continue
		}
		args := []any{o.ID, string(o.Kind), o.Content, string(prov), o.Ts}
		args = append(args, scopeArgs(o.Scope)...)
		args = append(args, o.Redacted)
		r, err := db.Exec(`
			INSERT OR IGNORE INTO observations (id, kind, content, provenance, ts, session_id, repo_id, agent_id, user_id, redacted)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, args...)
		if err != nil {
			res.Errors = append(res.Errors, RowError{"observations", o.ID, err.Error()})
			continue
		}
		if n, _ := r.RowsAffected(); n == 0 {
			res.Observations.Skipped++
		} else {
			res.Observations.Imported++
		}
	}

	for _, c := range ds.Capsules {
		args := []any{c.ID, string(c.Type), c.Intent, c.Status, c.OpenedAt}
		if c.ClosedAt != nil {
			args = append(args, *c.ClosedAt)
		} else {
			args = append(args, nil)
		}
		args = append(args, scopeArgs(c.Scope)...)
		r, err := db.Exec(`
			INSERT OR IGNORE INTO capsules (id, type, intent, status, opened_at, closed_at, session_id, repo_id, agent_id, user_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, args...)
		if err != nil {
			res.Errors = append(res.Errors, RowError{"capsules", c.ID, err.Error()})
			continue
		}
		if n, _ := r.RowsAffected(); n == 0 {
			res.Capsules.Skipped++
		} else {
			res.Capsules.Imported++
		}
	}

	for _, s := range ds.Summaries {
		refs, err := json.Marshal(s.EvidenceRefs)
		if err != nil {
			res.Errors = append(res.Errors, RowError{"summaries", s.ID, err.Error()})
			continue
		}
		r, err := db.Exec(`
			INSERT OR IGNORE INTO summaries (id, capsule_id, content, confidence, created_at, evidence_refs)
			VALUES (?, ?, ?, ?, ?, ?)
		`, s.ID, s.CapsuleID, s.Content, s.Confidence, s.CreatedAt, string(refs))
		if err != nil {
			res.Errors = append(res.Errors, RowError{"summaries", s.ID, err.Error()})
			continue
		}
		if n, _ := r.RowsAffected(); n == 0 {
			res.Summaries.Skipped++
		} else {
			res.Summaries.Imported++
		}
	}

	for _, p := range ds.Pins {
		args := []any{p.ID, string(p.TargetType), p.TargetID, p.Reason, p.CreatedAt}
		if p.ExpiresAt != nil {
			args = append(args, *p.ExpiresAt)
		} else {
			args = append(args, nil)
		}
		args = append(args, scopeArgs(p.Scope)...)
		r, err := db.Exec(`
			INSERT OR IGNORE INTO pins (id, target_type, target_id, reason, created_at, expires_at, session_id, repo_id, agent_id, user_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, args...)
		if err != nil {
			res.Errors = append(res.Errors, RowError{"pins", p.ID, err.Error()})
			continue
		}
		if n, _ := r.RowsAffected(); n == 0 {
			res.Pins.Skipped++
		} else {
			res.Pins.Imported++
		}
	}

	return res, nil
}
