package store

import (
	"fmt"

	"github.com/capsa-dev/capsa/internal/memory"
)

// MaxAgeMillis is the recency window: items older than this score zero
// on the recency term.
const MaxAgeMillis = int64(30 * 24 * 60 * 60 * 1000) // 30 days

// Ranking weights. Lexical relevance dominates; recency breaks ties
// between equally relevant items.
const (
	relevanceWeight = 0.7
	recencyWeight   = 0.3
)

// SearchHit is one scored candidate from a lexical search.
type SearchHit struct {
	ID         string
	EntityType string // "observation" or "summary"
	Content    string
	Ts         int64
	RawRank    float64 // bm25, more negative = better match
	Relevance  float64 // normalized to [0,1] across the batch
	Recency    float64
	Score      float64
}

// SearchObservations runs a full-text query over non-redacted
// observations (redacted included only on request), applies scope
// filters and the exclusion set, and returns scored hits. Scoring
// happens here rather than in SQL: modernc.org/sqlite has bm25() but
// batch min/max normalization is clearer in Go.
func (db *DB) SearchObservations(query string, scope memory.ScopeIDs, exclude map[string]bool, includeRedacted bool, now int64) ([]SearchHit, error) {
	sqlq := `
		SELECT o.id, o.content, o.ts, observations_fts.rank
		FROM observations_fts
		JOIN observations o ON o.rowid = observations_fts.rowid
		WHERE observations_fts MATCH ?`
	args := []any{query}
	if !includeRedacted {
		sqlq += " AND o.redacted = 0"
	}
	clause, scopeA := buildAliasedScopeFilter("o", scope)
	sqlq += clause
	args = append(args, scopeA...)
	sqlq += " ORDER BY observations_fts.rank"

	hits, err := db.queryHits(sqlq, args, "observation", exclude)
	if err != nil {
		return nil, fmt.Errorf("search observations: %w", err)
	}
	scoreBatch(hits, now)
	return hits, nil
}

// SearchSummaries runs a full-text query over summaries. Summaries
// carry no scope columns of their own; scope filters apply through the
// owning capsule.
func (db *DB) SearchSummaries(query string, scope memory.ScopeIDs, exclude map[string]bool, now int64) ([]SearchHit, error) {
	sqlq := `
		SELECT s.id, s.content, s.created_at, summaries_fts.rank
		FROM summaries_fts
		JOIN summaries s ON s.rowid = summaries_fts.rowid
		JOIN capsules c ON c.id = s.capsule_id
		WHERE summaries_fts MATCH ?`
	args := []any{query}
	clause, scopeA := buildAliasedScopeFilter("c", scope)
	sqlq += clause
	args = append(args, scopeA...)
	sqlq += " ORDER BY summaries_fts.rank"

	hits, err := db.queryHits(sqlq, args, "summary", exclude)
	if err != nil {
		return nil, fmt.Errorf("search summaries: %w", err)
	}
	scoreBatch(hits, now)
	return hits, nil
}

func (db *DB) queryHits(sqlq string, args []any, entityType string, exclude map[string]bool) ([]SearchHit, error) {
	rows, err := db.Query(sqlq, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.ID, &h.Content, &h.Ts, &h.RawRank); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		if exclude[h.ID] {
			continue
		}
		h.EntityType = entityType
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// scoreBatch normalizes bm25 ranks to [0,1] over the batch, computes
// recency, and blends. When every rank is equal (including a
// single-row batch) normalized relevance is 1.0 for all rows, which
// sidesteps the divide-by-zero degenerate case.
func scoreBatch(hits []SearchHit, now int64) {
	if len(hits) == 0 {
		return
	}

	min, max := hits[0].RawRank, hits[0].RawRank
	for _, h := range hits[1:] {
		if h.RawRank < min {
			min = h.RawRank
		}
		if h.RawRank > max {
			max = h.RawRank
		}
	}

	for i := range hits {
		if max == min {
			hits[i].Relevance = 1.0
		} else {
			// bm25 is more negative for better matches, so the
			// best row (min) normalizes to 1.
			hits[i].Relevance = (max - hits[i].RawRank) / (max - min)
		}
		hits[i].Recency = recencyScore(hits[i].Ts, now)
		hits[i].Score = clamp01(relevanceWeight*hits[i].Relevance + recencyWeight*hits[i].Recency)
	}
}

// recencyScore decreases linearly with age and floors at zero past the
// 30-day window.
func recencyScore(ts, now int64) float64 {
	age := now - ts
	if age <= 0 {
		return 1.0
	}
	score := 1.0 - float64(age)/float64(MaxAgeMillis)
	if score < 0 {
		return 0
	}
	return score
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// buildAliasedScopeFilter is scopeFilter with a table alias prefix,
// for joined queries.
func buildAliasedScopeFilter(alias string, s memory.ScopeIDs) (string, []any) {
	var clause string
	var args []any
	if s.SessionID != "" {
		clause += " AND " + alias + ".session_id = ?"
		args = append(args, s.SessionID)
	}
	if s.RepoID != "" {
		clause += " AND " + alias + ".repo_id = ?"
		args = append(args, s.RepoID)
	}
	if s.AgentID != "" {
		clause += " AND " + alias + ".agent_id = ?"
		args = append(args, s.AgentID)
	}
	if s.UserID != "" {
		clause += " AND " + alias + ".user_id = ?"
		args = append(args, s.UserID)
	}
	return clause, args
}
