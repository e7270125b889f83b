// Package retrieve composes retrieval results: non-evictable pinned
// context and the current session summary (tier 0) plus ranked,
// budget-constrained search candidates (tier 1).
package retrieve

import (
	"fmt"
	"time"

	"github.com/capsa-dev/capsa/internal/memory"
	"github.com/capsa-dev/capsa/internal/rank"
	"github.com/capsa-dev/capsa/internal/store"
)

// Tiers. Tier 0 is always included regardless of budget; tier 1 is
// evictable.
const (
	TierPinned = 0
	TierRanked = 1
)

// Request is one retrieval query.
type Request struct {
	Query           string          `json:"query"`
	Scope           memory.ScopeIDs `json:"scopeIds"`
	MaxResults      int             `json:"maxResults,omitempty"`
	TokenBudget     int             `json:"tokenBudget,omitempty"` // 0 = unbudgeted
	IncludeRedacted bool            `json:"includeRedacted,omitempty"`
}

// Item is one entry in a retrieval result.
type Item struct {
	Tier             int     `json:"tier"`
	EntityType       string  `json:"entityType"` // "observation" or "summary"
	ID               string  `json:"id"`
	Content          string  `json:"content"`
	Score            float64 `json:"score,omitempty"`
	MatchContext     string  `json:"matchContext,omitempty"`
	PinID            string  `json:"pinId,omitempty"`
	PinReason        string  `json:"pinReason,omitempty"`
	IsCurrentSummary bool    `json:"isCurrentSummary,omitempty"`
}

// Provenance explains how a result was assembled.
type Provenance struct {
	Query           string          `json:"query"`
	Scope           memory.ScopeIDs `json:"scopeIds"`
	TotalCandidates int             `json:"totalCandidates"`
	Returned        int             `json:"returned"`
	Provider        string          `json:"provider"`
}

// Result is a tiered, deduplicated, budget-aware retrieval answer.
// Tier0ExceedsBudget warns that the non-evictable tier alone blew the
// budget; tier 0 is still returned in full, never truncated.
type Result struct {
	Items              []Item     `json:"items"`
	Provenance         Provenance `json:"provenance"`
	Tier0ExceedsBudget bool       `json:"tier0ExceedsBudget"`
}

// Orchestrator wires the store, the ranking provider, and a token
// estimator into the single-pass retrieval flow.
type Orchestrator struct {
	Store     store.Engine
	Provider  rank.Provider
	Estimator Estimator
	// Now is the pin-activity clock; nil means wall clock.
	Now func() int64
}

// New returns an Orchestrator with the heuristic token estimator.
func New(s store.Engine, p rank.Provider) *Orchestrator {
	return &Orchestrator{Store: s, Provider: p, Estimator: HeuristicEstimator{}}
}

func (o *Orchestrator) now() int64 {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UnixMilli()
}

// Retrieve assembles a result in one pass: active pins, the current
// session summary, then ranked candidates with the already-surfaced
// ids excluded. All reads are against committed state; no cross-query
// transaction is needed.
func (o *Orchestrator) Retrieve(req Request) (*Result, error) {
	now := o.now()
	exclude := make(map[string]bool)
	var tier0 []Item

	// Pins first: active at call time, targets resolved through the
	// store. Pins whose target vanished or was redacted are dropped.
	pins, err := o.Store.ListActivePins(req.Scope, now)
	if err != nil {
		return nil, fmt.Errorf("list pins: %w", err)
	}
	for _, p := range pins {
		item, ok, err := o.resolvePin(p, req.IncludeRedacted)
		if err != nil {
			return nil, err
		}
		if !ok || exclude[item.ID] {
			continue
		}
		exclude[item.ID] = true
		tier0 = append(tier0, item)
	}

	// Current session summary: the latest summary of the session's
	// open capsule, when the scope names a session.
	if req.Scope.SessionID != "" {
		open, err := o.Store.FindOpenCapsuleBySession(req.Scope.SessionID)
		if err != nil {
			return nil, fmt.Errorf("find open capsule: %w", err)
		}
		if open != nil {
			sum, err := o.Store.LatestSummaryForCapsule(open.ID)
			if err != nil {
				return nil, fmt.Errorf("latest summary: %w", err)
			}
			if sum != nil && !exclude[sum.ID] {
				exclude[sum.ID] = true
				tier0 = append(tier0, Item{
					Tier:             TierPinned,
					EntityType:       "summary",
					ID:               sum.ID,
					Content:          sum.Content,
					IsCurrentSummary: true,
				})
			}
		}
	}

	candidates, err := o.Provider.Rank(req.Query, req.Scope, exclude, req.IncludeRedacted, req.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("rank: %w", err)
	}

	res := &Result{
		Items: tier0,
		Provenance: Provenance{
			Query:           req.Query,
			Scope:           req.Scope,
			TotalCandidates: len(tier0) + len(candidates),
			Provider:        o.Provider.Name(),
		},
	}

	// Budget mode: tier 0 is unconditional; tier-1 items append
	// greedily, whole items only, stopping at the first overflow.
	budget := req.TokenBudget
	spent := 0
	if budget > 0 {
		for _, it := range tier0 {
			spent += o.Estimator.Estimate(it.Content)
		}
		res.Tier0ExceedsBudget = spent > budget
	}

	for _, c := range candidates {
		if budget > 0 {
			cost := o.Estimator.Estimate(c.Content)
			if spent+cost > budget {
				break
			}
			spent += cost
		}
		res.Items = append(res.Items, Item{
			Tier:         TierRanked,
			EntityType:   c.EntityType,
			ID:           c.ID,
			Content:      c.Content,
			Score:        c.Score,
			MatchContext: c.MatchContext,
		})
	}

	res.Provenance.Returned = len(res.Items)
	return res, nil
}

// resolvePin turns a pin into a tier-0 item. ok=false drops the pin:
// missing target, or redacted target without IncludeRedacted.
func (o *Orchestrator) resolvePin(p memory.Pin, includeRedacted bool) (Item, bool, error) {
	switch p.TargetType {
	case memory.PinObservation:
		obs, err := o.Store.GetObservation(p.TargetID)
		if memory.IsNotFound(err) {
			return Item{}, false, nil
		}
		if err != nil {
			return Item{}, false, fmt.Errorf("resolve pin %s: %w", p.ID, err)
		}
		if obs.Redacted && !includeRedacted {
			return Item{}, false, nil
		}
		return Item{
			Tier:       TierPinned,
			EntityType: "observation",
			ID:         obs.ID,
			Content:    obs.Content,
			PinID:      p.ID,
			PinReason:  p.Reason,
		}, true, nil
	case memory.PinSummary:
		sum, err := o.Store.GetSummary(p.TargetID)
		if memory.IsNotFound(err) {
			return Item{}, false, nil
		}
		if err != nil {
			return Item{}, false, fmt.Errorf("resolve pin %s: %w", p.ID, err)
		}
		return Item{
			Tier:       TierPinned,
			EntityType: "summary",
			ID:         sum.ID,
			Content:    sum.Content,
			PinID:      p.ID,
			PinReason:  p.Reason,
		}, true, nil
	default:
		return Item{}, false, nil
	}
}
