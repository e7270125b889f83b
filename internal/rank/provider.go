// Package rank turns lexical search hits into scored retrieval
// candidates. Observations and summaries are ranked as independent
// pools, then merged so they compete directly for result slots.
package rank

import (
	"sort"
	"strings"
	"time"

	"github.com/capsa-dev/capsa/internal/memory"
	"github.com/capsa-dev/capsa/internal/store"
)

const (
	// DefaultMaxResults bounds a ranking request with no explicit limit.
	DefaultMaxResults = 10

	matchContextChars = 100
)

// Candidate is one scored, explainable retrieval candidate.
type Candidate struct {
	ID           string  `json:"id"`
	EntityType   string  `json:"entityType"` // "observation" or "summary"
	Content      string  `json:"content"`
	Ts           int64   `json:"ts"`
	Score        float64 `json:"score"`
	MatchContext string  `json:"matchContext"`
}

// Provider answers ranked retrieval queries.
type Provider interface {
	// Rank returns candidates for the query, best first, excluding ids
	// in the exclusion set. A syntactically malformed query yields an
	// empty result, not an error; storage failures propagate.
	Rank(query string, scope memory.ScopeIDs, exclude map[string]bool, includeRedacted bool, maxResults int) ([]Candidate, error)
	// Name identifies the provider in retrieval provenance.
	Name() string
}

// StoreProvider ranks against the storage engine's full-text indexes.
type StoreProvider struct {
	Store store.Engine
	// Now is the clock used for recency; nil means wall clock. Tests
	// pin it for deterministic scores.
	Now func() int64
}

// NewStoreProvider returns a provider backed by the given engine.
func NewStoreProvider(s store.Engine) *StoreProvider {
	return &StoreProvider{Store: s}
}

func (p *StoreProvider) Name() string { return "store-fts" }

func (p *StoreProvider) now() int64 {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UnixMilli()
}

// Rank runs both candidate pools, concatenates them, and globally
// sorts by score before truncating, so a strong summary can displace a
// weak observation and vice versa.
func (p *StoreProvider) Rank(query string, scope memory.ScopeIDs, exclude map[string]bool, includeRedacted bool, maxResults int) ([]Candidate, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	now := p.now()

	obsHits, err := p.Store.SearchObservations(query, scope, exclude, includeRedacted, now)
	if err != nil {
		if isMalformedQuery(err) {
			return nil, nil
		}
		return nil, err
	}
	sumHits, err := p.Store.SearchSummaries(query, scope, exclude, now)
	if err != nil {
		if isMalformedQuery(err) {
			return nil, nil
		}
		return nil, err
	}

	candidates := make([]Candidate, 0, len(obsHits)+len(sumHits))
	for _, h := range append(obsHits, sumHits...) {
		candidates = append(candidates, Candidate{
			ID:           h.ID,
			EntityType:   h.EntityType,
			Content:      h.Content,
			Ts:           h.Ts,
			Score:        h.Score,
			MatchContext: matchContext(h.Content),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}
	return candidates, nil
}

// isMalformedQuery reports whether err is an FTS5 query-syntax error.
// These recover locally as "no matches"; anything else is a storage
// failure and must propagate.
func isMalformedQuery(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "fts5: syntax error") ||
		strings.Contains(msg, "malformed match") ||
		strings.Contains(msg, "unterminated string") ||
		strings.Contains(msg, "fts5: phrase")
}

// matchContext is a short content preview for explainability: the
// first ~100 characters, with an ellipsis when truncated.
func matchContext(content string) string {
	runes := []rune(content)
	if len(runes) <= matchContextChars {
		return content
	}
	return string(runes[:matchContextChars]) + "…"
}
