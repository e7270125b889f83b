// Package adapter is the boundary where tool-specific event schemas
// meet the neutral observation model. Concrete adapters (Claude hooks,
// pocketflow nodes, editor plugins) supply a MapFunc; the Processor
// drives it and lands the result in the store, attached to the
// session's open capsule.
package adapter

import (
	"fmt"

	"github.com/capsa-dev/capsa/internal/capsule"
	"github.com/capsa-dev/capsa/internal/memory"
	"github.com/capsa-dev/capsa/internal/store"
)

// Event is a neutral inbound event. Payload carries whatever the
// source tool emitted; only the mapping function interprets it.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// MapResult is the outcome of mapping one event. Exactly one of the
// three outcomes applies: an observation to record, an error, or an
// explicit skip (event carries nothing worth remembering).
type MapResult struct {
	Observation *memory.Observation
	Err         error
	Skip        bool
}

// MapFunc translates one tool-specific event into the neutral model.
type MapFunc func(Event) MapResult

// Recorder is the store-facing surface adapters write through.
type Recorder interface {
	InsertObservation(o memory.Observation) error
	AttachObservationToCapsule(capsuleID, observationID string) error
	CreateCapsule(typ memory.CapsuleType, intent string, scope memory.ScopeIDs) (*memory.Capsule, error)
	CloseCapsule(capsuleID string, signals *capsule.CloseSignals) (*memory.Capsule, error)
	GetOpenCapsuleForSession(sessionID string) (*memory.Capsule, error)
	InsertSummary(s memory.Summary) error
}

// StoreRecorder implements Recorder over the storage engine and the
// lifecycle manager.
type StoreRecorder struct {
	Store    store.Engine
	Capsules *capsule.Manager
}

// NewStoreRecorder wires a Recorder over the given engine.
func NewStoreRecorder(s store.Engine) *StoreRecorder {
	return &StoreRecorder{Store: s, Capsules: capsule.NewManager(s)}
}

func (r *StoreRecorder) InsertObservation(o memory.Observation) error {
	return r.Store.InsertObservation(o)
}

func (r *StoreRecorder) AttachObservationToCapsule(capsuleID, observationID string) error {
	return r.Store.AttachObservation(capsuleID, observationID)
}

func (r *StoreRecorder) CreateCapsule(typ memory.CapsuleType, intent string, scope memory.ScopeIDs) (*memory.Capsule, error) {
	return r.Capsules.Open(typ, intent, scope, "")
}

func (r *StoreRecorder) CloseCapsule(capsuleID string, signals *capsule.CloseSignals) (*memory.Capsule, error) {
	return r.Capsules.Close(capsuleID, signals)
}

func (r *StoreRecorder) GetOpenCapsuleForSession(sessionID string) (*memory.Capsule, error) {
	return r.Store.FindOpenCapsuleBySession(sessionID)
}

func (r *StoreRecorder) InsertSummary(s memory.Summary) error {
	return r.Store.InsertSummary(s)
}

// Processor runs the per-event path: map, validate, ensure an open
// session capsule, insert, attach.
type Processor struct {
	Map      MapFunc
	Recorder Recorder
}

// Process handles one inbound event. A skipped event returns (nil,
// nil). Events with a sessionId land in that session's open capsule,
// opening one when needed.
func (p *Processor) Process(ev Event) (*memory.Observation, error) {
	res := p.Map(ev)
	if res.Err != nil {
		return nil, fmt.Errorf("map event %q: %w", ev.Type, res.Err)
	}
	if res.Skip || res.Observation == nil {
		return nil, nil
	}

	obs, err := memory.ValidateObservation(*res.Observation)
	if err != nil {
		return nil, err
	}

	var capsuleID string
	if obs.Scope.SessionID != "" {
		open, err := p.Recorder.GetOpenCapsuleForSession(obs.Scope.SessionID)
		if err != nil {
			return nil, err
		}
		if open == nil {
			open, err = p.Recorder.CreateCapsule(memory.CapsuleSession, "", obs.Scope)
			if err != nil {
				return nil, err
			}
		}
		capsuleID = open.ID
	}

	if err := p.Recorder.InsertObservation(obs); err != nil {
		return nil, err
	}
	if capsuleID != "" {
		if err := p.Recorder.AttachObservationToCapsule(capsuleID, obs.ID); err != nil {
			return nil, err
		}
	}
	return &obs, nil
}
