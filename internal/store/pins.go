package store

import (
	"database/sql"
	"fmt"

	"github.com/capsa-dev/capsa/internal/memory"
)

const pinCols = "id, target_type, target_id, reason, created_at, expires_at, session_id, repo_id, agent_id, user_id"

func scanPin(row interface{ Scan(...any) error }) (memory.Pin, error) {
	var p memory.Pin
	var targetType string
	var expiresAt sql.NullInt64
	var sess, repo, agent, user sql.NullString
	if err := row.Scan(&p.ID, &targetType, &p.TargetID, &p.Reason, &p.CreatedAt, &expiresAt, &sess, &repo, &agent, &user); err != nil {
		return p, err
	}
	p.TargetType = memory.PinTargetType(targetType)
	if expiresAt.Valid {
		v := expiresAt.Int64
		p.ExpiresAt = &v
	}
	p.Scope = scanScope(sess, repo, agent, user)
	return p, nil
}

// InsertPin persists a validated pin.
func (db *DB) InsertPin(p memory.Pin) error {
	args := []any{p.ID, string(p.TargetType), p.TargetID, p.Reason, p.CreatedAt}
	if p.ExpiresAt != nil {
		args = append(args, *p.ExpiresAt)
	} else {
		args = append(args, nil)
	}
	args = append(args, scopeArgs(p.Scope)...)

	_, err := db.Exec(`
		INSERT INTO pins (id, target_type, target_id, reason, created_at, expires_at, session_id, repo_id, agent_id, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		return fmt.Errorf("insert pin: %w", err)
	}
	return nil
}

// DeletePin removes a pin (explicit unpin), or NotFoundError.
func (db *DB) DeletePin(id string) error {
	res, err := db.Exec("DELETE FROM pins WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete pin: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &memory.NotFoundError{Entity: "pin", ID: id}
	}
	return nil
}

// ListActivePins returns the pins matching the scope that are active
// at time now: expiry unset, or strictly in the future. Inactivity is
// evaluated at read time; expired pins stay in the table until
// explicitly unpinned.
func (db *DB) ListActivePins(scope memory.ScopeIDs, now int64) ([]memory.Pin, error) {
	query := "SELECT " + pinCols + " FROM pins WHERE (expires_at IS NULL OR expires_at > ?)"
	args := []any{now}
	clause, scopeA := scopeFilter(scope)
	query += clause + " ORDER BY created_at"
	args = append(args, scopeA...)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active pins: %w", err)
	}
	defer rows.Close()

	var out []memory.Pin
	for rows.Next() {
		p, err := scanPin(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pin: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListPins returns all pins matching the scope regardless of expiry.
func (db *DB) ListPins(scope memory.ScopeIDs) ([]memory.Pin, error) {
	query := "SELECT " + pinCols + " FROM pins WHERE 1=1"
	clause, args := scopeFilter(scope)
	query += clause + " ORDER BY created_at"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pins: %w", err)
	}
	defer rows.Close()

	var out []memory.Pin
	for rows.Next() {
		p, err := scanPin(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pin: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
