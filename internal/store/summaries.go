package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/capsa-dev/capsa/internal/memory"
)

const summaryCols = "id, capsule_id, content, confidence, created_at, evidence_refs"

func scanSummary(row interface{ Scan(...any) error }) (memory.Summary, error) {
	var s memory.Summary
	var refs string
	if err := row.Scan(&s.ID, &s.CapsuleID, &s.Content, &s.Confidence, &s.CreatedAt, &refs); err != nil {
		return s, err
	}
	if err := json.Unmarshal([]byte(refs), &s.EvidenceRefs); err != nil {
		return s, fmt.Errorf("unmarshal evidence refs: %w", err)
	}
	return s, nil
}

// InsertSummary persists a validated summary. The schema holds one
// summary per capsule; a second insert for the same capsule fails on
// the unique constraint.
func (db *DB) InsertSummary(s memory.Summary) error {
	refs, err := json.Marshal(s.EvidenceRefs)
	if err != nil {
		return fmt.Errorf("marshal evidence refs: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO summaries (id, capsule_id, content, confidence, created_at, evidence_refs)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.ID, s.CapsuleID, s.Content, s.Confidence, s.CreatedAt, string(refs))
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

// GetSummary returns a summary by id, or NotFoundError.
func (db *DB) GetSummary(id string) (*memory.Summary, error) {
	row := db.QueryRow("SELECT "+summaryCols+" FROM summaries WHERE id = ?", id)
	s, err := scanSummary(row)
	if err == sql.ErrNoRows {
		return nil, &memory.NotFoundError{Entity: "summary", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	return &s, nil
}

// LatestSummaryForCapsule returns the most recent summary for a
// capsule by creation time, or nil when the capsule has none.
func (db *DB) LatestSummaryForCapsule(capsuleID string) (*memory.Summary, error) {
	row := db.QueryRow(`
		SELECT `+summaryCols+` FROM summaries
		WHERE capsule_id = ? ORDER BY created_at DESC LIMIT 1
	`, capsuleID)
	s, err := scanSummary(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest summary: %w", err)
	}
	return &s, nil
}
