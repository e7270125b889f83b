package store

import "github.com/capsa-dev/capsa/internal/memory"

// Engine is the full storage capability set. The file-backed and
// in-memory stores are both *DB and share one migration sequence, so
// application code never branches on which backend is active; the
// interface exists so an alternate backend (a different embedded
// engine, a remote store) can slot in without touching callers.
type Engine interface {
	// Observations
	InsertObservation(o memory.Observation) error
	GetObservation(id string) (*memory.Observation, error)
	RedactObservation(id string) error
	ListObservations(scope memory.ScopeIDs, includeRedacted bool, limit int) ([]memory.Observation, error)

	// Capsules
	OpenCapsule(c memory.Capsule) error
	GetCapsule(id string) (*memory.Capsule, error)
	FindOpenCapsuleBySession(sessionID string) (*memory.Capsule, error)
	CloseCapsule(id string) (*memory.Capsule, error)
	AttachObservation(capsuleID, observationID string) error
	CapsuleObservationIDs(capsuleID string) ([]string, error)
	ListCapsules(scope memory.ScopeIDs, limit int) ([]memory.Capsule, error)

	// Summaries
	InsertSummary(s memory.Summary) error
	GetSummary(id string) (*memory.Summary, error)
	LatestSummaryForCapsule(capsuleID string) (*memory.Summary, error)

	// Pins
	InsertPin(p memory.Pin) error
	DeletePin(id string) error
	ListActivePins(scope memory.ScopeIDs, now int64) ([]memory.Pin, error)
	ListPins(scope memory.ScopeIDs) ([]memory.Pin, error)

	// Search
	SearchObservations(query string, scope memory.ScopeIDs, exclude map[string]bool, includeRedacted bool, now int64) ([]SearchHit, error)
	SearchSummaries(query string, scope memory.ScopeIDs, exclude map[string]bool, now int64) ([]SearchHit, error)

	// Dataset export/import
	ExportDataset(scope memory.ScopeIDs, includeRedacted bool, limit int) (*Dataset, error)
	ImportDataset(ds *Dataset) (*ImportResult, error)

	// Migrations
	SchemaVersion() (int, error)
}

var _ Engine = (*DB)(nil)
