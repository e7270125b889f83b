package memory

import (
	"errors"
	"fmt"
	"strings"
)

// FieldError describes a single invalid field in a validation report.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationError collects every field-level problem found while
// validating one entity. Validators never short-circuit: the Fields
// list is complete.
type ValidationError struct {
	Entity string       `json:"entity"`
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return fmt.Sprintf("invalid %s: %s", e.Entity, strings.Join(parts, "; "))
}

// NotFoundError reports an absent entity by family and id.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// DuplicateOpenCapsuleError is returned when opening a session capsule
// while one is already open for the same sessionId. ExistingID names
// the capsule that is already open.
type DuplicateOpenCapsuleError struct {
	SessionID  string
	ExistingID string
}

func (e *DuplicateOpenCapsuleError) Error() string {
	return fmt.Sprintf("session %s already has open capsule %s", e.SessionID, e.ExistingID)
}

// AlreadyClosedError is returned when closing a capsule whose status
// is already closed.
type AlreadyClosedError struct {
	CapsuleID string
}

func (e *AlreadyClosedError) Error() string {
	return fmt.Sprintf("capsule %s is already closed", e.CapsuleID)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is a lifecycle conflict
// (duplicate open or already closed).
func IsConflict(err error) bool {
	var dup *DuplicateOpenCapsuleError
	var closed *AlreadyClosedError
	return errors.As(err, &dup) || errors.As(err, &closed)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
