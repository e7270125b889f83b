package store

import (
	"database/sql"

	"github.com/capsa-dev/capsa/internal/memory"
)

// scopeFilter builds "AND col = ?" predicates for the scope dimensions
// that are present. Absent dimensions impose no constraint — they are
// never compared against NULL.
func scopeFilter(s memory.ScopeIDs) (string, []any) {
	var clause string
	var args []any
	if s.SessionID != "" {
		clause += " AND session_id = ?"
		args = append(args, s.SessionID)
	}
	if s.RepoID != "" {
		clause += " AND repo_id = ?"
		args = append(args, s.RepoID)
	}
	if s.AgentID != "" {
		clause += " AND agent_id = ?"
		args = append(args, s.AgentID)
	}
	if s.UserID != "" {
		clause += " AND user_id = ?"
		args = append(args, s.UserID)
	}
	return clause, args
}

// scopeArgs flattens a scope into the four nullable column values, in
// schema order (session, repo, agent, user).
func scopeArgs(s memory.ScopeIDs) []any {
	return []any{
		nullString(s.SessionID),
		nullString(s.RepoID),
		nullString(s.AgentID),
		nullString(s.UserID),
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanScope(session, repo, agent, user sql.NullString) memory.ScopeIDs {
	return memory.ScopeIDs{
		SessionID: session.String,
		RepoID:    repo.String,
		AgentID:   agent.String,
		UserID:    user.String,
	}
}
