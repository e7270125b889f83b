// Package capsule manages the capsule lifecycle: open, close, and
// lookup, with the one-open-capsule-per-session rule enforced at the
// store. The manager holds no durable state of its own — just an
// advisory cache of last-known capsules.
package capsule

import (
	"fmt"
	"sync"

	"github.com/capsa-dev/capsa/internal/memory"
	"github.com/capsa-dev/capsa/internal/store"
)

// DefaultConfidence is assigned to a close-time summary when the
// caller does not supply a confidence.
const DefaultConfidence = 0.8

// CloseSignals carries optional close-time inputs. A summary is
// recorded only when Summary is non-empty; capsa never generates
// summary content itself.
type CloseSignals struct {
	Summary      string
	Confidence   *float64
	EvidenceRefs []string
}

// Manager opens and closes capsules over the storage engine. The
// in-process cache is advisory only: every mutation writes through the
// store first, and reads fall back to the store on a miss.
type Manager struct {
	store store.Engine

	mu    sync.RWMutex
	cache map[string]memory.Capsule
}

// NewManager returns a Manager over the given engine.
func NewManager(s store.Engine) *Manager {
	return &Manager{
		store: s,
		cache: make(map[string]memory.Capsule),
	}
}

// Open validates and persists a new open capsule. For session capsules
// the existing-open check and the insert are one store transaction, so
// concurrent opens for the same sessionId cannot both succeed: the
// loser gets DuplicateOpenCapsuleError naming the winner. id is
// optional; empty means generate.
func (m *Manager) Open(typ memory.CapsuleType, intent string, scope memory.ScopeIDs, id string) (*memory.Capsule, error) {
	c, err := memory.ValidateCapsule(memory.Capsule{
		ID:     id,
		Type:   typ,
		Intent: intent,
		Scope:  scope,
	})
	if err != nil {
		return nil, err
	}

	if err := m.store.OpenCapsule(c); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cache[c.ID] = c
	m.mu.Unlock()
	return &c, nil
}

// Close transitions a capsule to closed. When signals carry summary
// content, a Summary is validated and recorded against the capsule
// (confidence defaults to 0.8, evidence to empty). Fails with
// NotFoundError for an unknown capsule and AlreadyClosedError for a
// closed one.
func (m *Manager) Close(capsuleID string, signals *CloseSignals) (*memory.Capsule, error) {
	var summary *memory.Summary
	if signals != nil && signals.Summary != "" {
		confidence := DefaultConfidence
		if signals.Confidence != nil {
			confidence = *signals.Confidence
		}
		s, err := memory.ValidateSummary(memory.Summary{
			CapsuleID:    capsuleID,
			Content:      signals.Summary,
			Confidence:   confidence,
			EvidenceRefs: signals.EvidenceRefs,
		})
		if err != nil {
			return nil, err
		}
		summary = &s
	}

	closed, err := m.store.CloseCapsule(capsuleID)
	if err != nil {
		return nil, err
	}

	// The store has the capsule closed now; drop the open snapshot
	// before anything else can fail, or a later Get would serve it.
	m.mu.Lock()
	delete(m.cache, capsuleID)
	m.mu.Unlock()

	if summary != nil {
		if err := m.store.InsertSummary(*summary); err != nil {
			return nil, fmt.Errorf("record close summary: %w", err)
		}
	}
	return closed, nil
}

// Get returns a capsule by id, reading through the cache to the store.
// The store is the source of truth: a cached hit is only a hint and a
// miss silently falls back.
func (m *Manager) Get(capsuleID string) (*memory.Capsule, error) {
	m.mu.RLock()
	cached, ok := m.cache[capsuleID]
	m.mu.RUnlock()
	if ok {
		c := cached
		return &c, nil
	}

	c, err := m.store.GetCapsule(capsuleID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cache[c.ID] = *c
	m.mu.Unlock()
	return c, nil
}

// GetOpen returns the open session capsule for the scope's sessionId,
// or nil when none is open. Lookup by other scope dimensions is not
// supported; callers must pass a sessionId.
func (m *Manager) GetOpen(scope memory.ScopeIDs) (*memory.Capsule, error) {
	if scope.SessionID == "" {
		return nil, fmt.Errorf("getOpen requires a sessionId scope")
	}
	return m.store.FindOpenCapsuleBySession(scope.SessionID)
}

// Evict drops a capsule from the advisory cache. Harmless if absent.
func (m *Manager) Evict(capsuleID string) {
	m.mu.Lock()
	delete(m.cache, capsuleID)
	m.mu.Unlock()
}
