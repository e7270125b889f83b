package memory

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a fresh ULID. ULIDs sort by creation time, which keeps
// observation timelines cheap to walk.
func NewID() string {
	return ulid.Make().String()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// ValidateObservation checks an untrusted observation and returns a
// normalized copy. All field checks run before any default is
// assigned, so the returned *ValidationError lists every problem, not
// just the first. Defaults: generated id, ts=now, redacted left as
// given, empty provenance map. Validation is idempotent: a validated
// observation passes through unchanged.
func ValidateObservation(o Observation) (Observation, error) {
	var fields []FieldError

	if o.Kind == "" {
		fields = append(fields, FieldError{Field: "kind", Message: "required"})
	} else if !ValidKind(o.Kind) {
		fields = append(fields, FieldError{Field: "kind", Message: "unknown kind", Value: string(o.Kind)})
	}
	if o.Content == "" {
		fields = append(fields, FieldError{Field: "content", Message: "required"})
	}
	if o.Ts < 0 {
		fields = append(fields, FieldError{Field: "ts", Message: "must be non-negative", Value: o.Ts})
	}
	if len(fields) > 0 {
		return Observation{}, &ValidationError{Entity: "observation", Fields: fields}
	}

	if o.ID == "" {
		o.ID = NewID()
	}
	if o.Ts == 0 {
		o.Ts = nowMillis()
	}
	if o.Provenance == nil {
		o.Provenance = map[string]any{}
	}
	return o, nil
}

// ValidateCapsule checks and normalizes a capsule. Defaults: generated
// id, status=open, openedAt=now.
func ValidateCapsule(c Capsule) (Capsule, error) {
	var fields []FieldError

	if c.Type == "" {
		fields = append(fields, FieldError{Field: "type", Message: "required"})
	} else if !capsuleTypes[c.Type] {
		fields = append(fields, FieldError{Field: "type", Message: "unknown type", Value: string(c.Type)})
	}
	if c.Status != "" && c.Status != StatusOpen && c.Status != StatusClosed {
		fields = append(fields, FieldError{Field: "status", Message: "must be open or closed", Value: c.Status})
	}
	if c.OpenedAt < 0 {
		fields = append(fields, FieldError{Field: "openedAt", Message: "must be non-negative", Value: c.OpenedAt})
	}
	if len(fields) > 0 {
		return Capsule{}, &ValidationError{Entity: "capsule", Fields: fields}
	}

	if c.ID == "" {
		c.ID = NewID()
	}
	if c.Status == "" {
		c.Status = StatusOpen
	}
	if c.OpenedAt == 0 {
		c.OpenedAt = nowMillis()
	}
	return c, nil
}

// ValidateSummary checks and normalizes a summary. Confidence must lie
// in [0,1]; callers that want the 0.8 default apply it before calling.
// Defaults: generated id, createdAt=now, empty evidenceRefs.
func ValidateSummary(s Summary) (Summary, error) {
	var fields []FieldError

	if s.CapsuleID == "" {
		fields = append(fields, FieldError{Field: "capsuleId", Message: "required"})
	}
	if s.Content == "" {
		fields = append(fields, FieldError{Field: "content", Message: "required"})
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		fields = append(fields, FieldError{Field: "confidence", Message: "must be in [0,1]", Value: s.Confidence})
	}
	if s.CreatedAt < 0 {
		fields = append(fields, FieldError{Field: "createdAt", Message: "must be non-negative", Value: s.CreatedAt})
	}
	if len(fields) > 0 {
		return Summary{}, &ValidationError{Entity: "summary", Fields: fields}
	}

	if s.ID == "" {
		s.ID = NewID()
	}
	if s.CreatedAt == 0 {
		s.CreatedAt = nowMillis()
	}
	if s.EvidenceRefs == nil {
		s.EvidenceRefs = []string{}
	}
	return s, nil
}

// ValidatePin checks and normalizes a pin. Defaults: generated id,
// createdAt=now. ExpiresAt, when set, must be positive.
func ValidatePin(p Pin) (Pin, error) {
	var fields []FieldError

	if p.TargetType == "" {
		fields = append(fields, FieldError{Field: "targetType", Message: "required"})
	} else if p.TargetType != PinObservation && p.TargetType != PinSummary {
		fields = append(fields, FieldError{Field: "targetType", Message: "must be observation or summary", Value: string(p.TargetType)})
	}
	if p.TargetID == "" {
		fields = append(fields, FieldError{Field: "targetId", Message: "required"})
	}
	if p.CreatedAt < 0 {
		fields = append(fields, FieldError{Field: "createdAt", Message: "must be non-negative", Value: p.CreatedAt})
	}
	if p.ExpiresAt != nil && *p.ExpiresAt <= 0 {
		fields = append(fields, FieldError{Field: "expiresAt", Message: "must be positive when set", Value: *p.ExpiresAt})
	}
	if len(fields) > 0 {
		return Pin{}, &ValidationError{Entity: "pin", Fields: fields}
	}

	if p.ID == "" {
		p.ID = NewID()
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = nowMillis()
	}
	return p, nil
}
