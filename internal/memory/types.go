// Package memory defines the entity model shared by every capsa
// component: observations, capsules, summaries, pins, and the scope
// key used to isolate them. Validators in this package normalize
// untrusted input into invariant-respecting entities; nothing here
// touches storage.
package memory

// ObservationKind is the closed set of development events an adapter
// may record.
type ObservationKind string

const (
	KindToolCall   ObservationKind = "tool_call"
	KindCommand    ObservationKind = "command"
	KindFileDiff   ObservationKind = "file_diff"
	KindError      ObservationKind = "error"
	KindMessage    ObservationKind = "message"
	KindNodeStart  ObservationKind = "node_start"
	KindNodeEnd    ObservationKind = "node_end"
	KindNodeOutput ObservationKind = "node_output"
	KindNodeError  ObservationKind = "node_error"
)

var observationKinds = map[ObservationKind]bool{
	KindToolCall:   true,
	KindCommand:    true,
	KindFileDiff:   true,
	KindError:      true,
	KindMessage:    true,
	KindNodeStart:  true,
	KindNodeEnd:    true,
	KindNodeOutput: true,
	KindNodeError:  true,
}

// ValidKind reports whether k is a known observation kind.
func ValidKind(k ObservationKind) bool { return observationKinds[k] }

// ScopeIDs is a 4-dimensional partial key used to isolate entities.
// Any subset of dimensions may be set; an empty dimension means
// "don't filter on this dimension", never "match null".
type ScopeIDs struct {
	SessionID string `json:"sessionId,omitempty"`
	RepoID    string `json:"repoId,omitempty"`
	AgentID   string `json:"agentId,omitempty"`
	UserID    string `json:"userId,omitempty"`
}

// IsZero reports whether no dimension is set.
func (s ScopeIDs) IsZero() bool {
	return s.SessionID == "" && s.RepoID == "" && s.AgentID == "" && s.UserID == ""
}

// Observation is an atomic, immutable record of a development event.
// Once persisted, only Redacted may transition false→true.
type Observation struct {
	ID         string          `json:"id"`
	Kind       ObservationKind `json:"kind"`
	Content    string          `json:"content"`
	Provenance map[string]any  `json:"provenance,omitempty"`
	Ts         int64           `json:"ts"` // epoch-ms
	Scope      ScopeIDs        `json:"scopeIds"`
	Redacted   bool            `json:"redacted"`
}

// CapsuleType classifies what a capsule bounds.
type CapsuleType string

const (
	CapsuleSession        CapsuleType = "session"
	CapsulePocketflowNode CapsuleType = "pocketflow_node"
	CapsuleCustom         CapsuleType = "custom"
)

var capsuleTypes = map[CapsuleType]bool{
	CapsuleSession:        true,
	CapsulePocketflowNode: true,
	CapsuleCustom:         true,
}

// Capsule statuses. A capsule transitions open→closed exactly once.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Capsule is a bounded unit of meaning, typically one assistant
// session or one workflow node.
type Capsule struct {
	ID       string      `json:"id"`
	Type     CapsuleType `json:"type"`
	Intent   string      `json:"intent,omitempty"`
	Status   string      `json:"status"`
	Scope    ScopeIDs    `json:"scopeIds"`
	OpenedAt int64       `json:"openedAt"`
	ClosedAt *int64      `json:"closedAt,omitempty"`
}

// Summary is a 1:1 annotation of a closed (or closing) capsule.
// Content is supplied by the caller; capsa never generates it.
type Summary struct {
	ID           string   `json:"id"`
	CapsuleID    string   `json:"capsuleId"`
	Content      string   `json:"content"`
	Confidence   float64  `json:"confidence"`
	EvidenceRefs []string `json:"evidenceRefs"`
	CreatedAt    int64    `json:"createdAt"`
}

// PinTargetType names what a pin elevates.
type PinTargetType string

const (
	PinObservation PinTargetType = "observation"
	PinSummary     PinTargetType = "summary"
)

// Pin elevates an observation or summary to non-evictable retrieval
// priority, optionally until ExpiresAt.
type Pin struct {
	ID         string        `json:"id"`
	TargetType PinTargetType `json:"targetType"`
	TargetID   string        `json:"targetId"`
	Reason     string        `json:"reason,omitempty"`
	Scope      ScopeIDs      `json:"scopeIds"`
	CreatedAt  int64         `json:"createdAt"`
	ExpiresAt  *int64        `json:"expiresAt,omitempty"`
}

// ActiveAt reports whether the pin is active at time now (epoch-ms).
// Activity is a pure function of time: unset ExpiresAt means always
// active; otherwise active iff ExpiresAt > now.
func (p Pin) ActiveAt(now int64) bool {
	return p.ExpiresAt == nil || *p.ExpiresAt > now
}
