package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/capsa-dev/capsa/internal/memory"
)

const capsuleCols = "id, type, intent, status, opened_at, closed_at, session_id, repo_id, agent_id, user_id"

func scanCapsule(row interface{ Scan(...any) error }) (memory.Capsule, error) {
	var c memory.Capsule
	var typ string
	var closedAt sql.NullInt64
	var sess, repo, agent, user sql.NullString
	if err := row.Scan(&c.ID, &typ, &c.Intent, &c.Status, &c.OpenedAt, &closedAt, &sess, &repo, &agent, &user); err != nil {
		return c, err
	}
	c.Type = memory.CapsuleType(typ)
	if closedAt.Valid {
		v := closedAt.Int64
		c.ClosedAt = &v
	}
	c.Scope = scanScope(sess, repo, agent, user)
	return c, nil
}

func insertCapsuleTx(tx *sql.Tx, c memory.Capsule) error {
	args := []any{c.ID, string(c.Type), c.Intent, c.Status, c.OpenedAt}
	if c.ClosedAt != nil {
		args = append(args, *c.ClosedAt)
	} else {
		args = append(args, nil)
	}
	args = append(args, scopeArgs(c.Scope)...)
	_, err := tx.Exec(`
		INSERT INTO capsules (id, type, intent, status, opened_at, closed_at, session_id, repo_id, agent_id, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	return err
}

// OpenCapsule persists a validated open capsule. For session capsules
// the existing-open check and the insert run in one transaction, so
// two concurrent opens for the same sessionId serialize on the write
// lock and the loser gets DuplicateOpenCapsuleError naming the winner.
func (db *DB) OpenCapsule(c memory.Capsule) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin open capsule: %w", err)
	}
	defer tx.Rollback()

	if c.Type == memory.CapsuleSession && c.Scope.SessionID != "" {
		var existing string
		err := tx.QueryRow(`
			SELECT id FROM capsules WHERE type = 'session' AND status = 'open' AND session_id = ?
		`, c.Scope.SessionID).Scan(&existing)
		if err == nil {
			return &memory.DuplicateOpenCapsuleError{SessionID: c.Scope.SessionID, ExistingID: existing}
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check open capsule: %w", err)
		}
	}

	if err := insertCapsuleTx(tx, c); err != nil {
		return fmt.Errorf("insert capsule: %w", err)
	}
	return tx.Commit()
}

// GetCapsule returns a capsule by id, or NotFoundError.
func (db *DB) GetCapsule(id string) (*memory.Capsule, error) {
	row := db.QueryRow("SELECT "+capsuleCols+" FROM capsules WHERE id = ?", id)
	c, err := scanCapsule(row)
	if err == sql.ErrNoRows {
		return nil, &memory.NotFoundError{Entity: "capsule", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get capsule: %w", err)
	}
	return &c, nil
}

// FindOpenCapsuleBySession returns the open session capsule for a
// sessionId, or nil when none is open.
func (db *DB) FindOpenCapsuleBySession(sessionID string) (*memory.Capsule, error) {
	row := db.QueryRow(`
		SELECT `+capsuleCols+` FROM capsules
		WHERE type = 'session' AND status = 'open' AND session_id = ?
	`, sessionID)
	c, err := scanCapsule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open capsule: %w", err)
	}
	return &c, nil
}

// CloseCapsule transitions a capsule to closed and returns the updated
// row. The status transition is one-way: closing an already-closed
// capsule fails with AlreadyClosedError, never silently succeeds.
func (db *DB) CloseCapsule(id string) (*memory.Capsule, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE capsules SET status = 'closed', closed_at = ?
		WHERE id = ? AND status = 'open'
	`, now, id)
	if err != nil {
		return nil, fmt.Errorf("close capsule: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Distinguish missing from already-closed.
		existing, err := db.GetCapsule(id)
		if err != nil {
			return nil, err
		}
		return nil, &memory.AlreadyClosedError{CapsuleID: existing.ID}
	}
	return db.GetCapsule(id)
}

// AttachObservation links an observation to a capsule, preserving
// insertion order. Re-attaching the same pair is a no-op.
func (db *DB) AttachObservation(capsuleID, observationID string) error {
	_, err := db.Exec(`
		INSERT OR IGNORE INTO capsule_observations (capsule_id, observation_id) VALUES (?, ?)
	`, capsuleID, observationID)
	if err != nil {
		return fmt.Errorf("attach observation: %w", err)
	}
	return nil
}

// CapsuleObservationIDs returns the observation ids attached to a
// capsule in insertion order.
func (db *DB) CapsuleObservationIDs(capsuleID string) ([]string, error) {
	rows, err := db.Query(`
		SELECT observation_id FROM capsule_observations WHERE capsule_id = ? ORDER BY seq
	`, capsuleID)
	if err != nil {
		return nil, fmt.Errorf("capsule observations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan observation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListCapsules returns capsules matching the scope, newest first.
func (db *DB) ListCapsules(scope memory.ScopeIDs, limit int) ([]memory.Capsule, error) {
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT " + capsuleCols + " FROM capsules WHERE 1=1"
	clause, args := scopeFilter(scope)
	query += clause + " ORDER BY opened_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list capsules: %w", err)
	}
	defer rows.Close()

	var out []memory.Capsule
	for rows.Next() {
		c, err := scanCapsule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan capsule: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
