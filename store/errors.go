package store

import (
	"errors"
	"fmt"

	"github.com/jacentio/arbor/change"
)

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("arbor: record not found")

	// ErrInvalid is returned when a changeset fails validation.
	ErrInvalid = errors.New("arbor: changeset is invalid")

	// ErrAssociationNotFound is returned when a field has no
	// association descriptor.
	ErrAssociationNotFound = errors.New("arbor: association not found")

	// ErrReadOnlyAssociation is returned when writing a derived
	// association.
	ErrReadOnlyAssociation = errors.New("arbor: association is read-only")

	// ErrCardinalityMismatch is returned when a fragment shape is only
	// legal for the other cardinality.
	ErrCardinalityMismatch = errors.New("arbor: association cardinality mismatch")

	// ErrConstraintViolation is returned when the backend rejects a
	// write or delete due to a referential constraint.
	ErrConstraintViolation = errors.New("arbor: constraint violation")

	// ErrConfigurationMissing is returned when no backend is
	// configured for the requested role.
	ErrConfigurationMissing = errors.New("arbor: no backend configured")
)

// NotFoundError reports a lookup that matched no record.
type NotFoundError struct {
	Type    string
	Source  string
	Filters map[string]any
}

func (e *NotFoundError) Error() string {
	if len(e.Filters) == 0 {
		return fmt.Sprintf("arbor: %s not found", e.Type)
	}
	return fmt.Sprintf("arbor: %s not found for filters %v", e.Type, e.Filters)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError wraps an invalid changeset so callers can inspect
// the field errors. Validation failures are ordinary error values,
// never panics.
type ValidationError struct {
	Changeset *change.Changeset
}

func (e *ValidationError) Error() string {
	errs := e.Changeset.Errors()
	if len(errs) == 0 {
		return "arbor: changeset is invalid"
	}
	return fmt.Sprintf("arbor: changeset is invalid: %s", errs[0].Error())
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// AssociationNotFoundError reports reconciliation against a field with
// no association descriptor. This is a programmer error.
type AssociationNotFoundError struct {
	Field string
	Type  string
}

func (e *AssociationNotFoundError) Error() string {
	return fmt.Sprintf("arbor: type %s has no association %q", e.Type, e.Field)
}

func (e *AssociationNotFoundError) Unwrap() error { return ErrAssociationNotFound }

// ReadOnlyAssociationError reports a write against a derived
// association. This is a programmer error.
type ReadOnlyAssociationError struct {
	Field string
	Type  string
}

func (e *ReadOnlyAssociationError) Error() string {
	return fmt.Sprintf("arbor: association %s.%s is read-only", e.Type, e.Field)
}

func (e *ReadOnlyAssociationError) Unwrap() error { return ErrReadOnlyAssociation }

// CardinalityMismatchError reports a fragment shape that is only legal
// for the other cardinality, e.g. a membership id list against a
// one-cardinality field. This is a programmer error.
type CardinalityMismatchError struct {
	Field string
	Type  string
}

func (e *CardinalityMismatchError) Error() string {
	return fmt.Sprintf("arbor: association %s.%s: fragment shape does not match cardinality", e.Type, e.Field)
}

func (e *CardinalityMismatchError) Unwrap() error { return ErrCardinalityMismatch }

// ConstraintViolationError reports a backend write or delete rejected
// by a referential constraint, detailing the blocking relation.
type ConstraintViolationError struct {
	Type     string
	Relation string
	Err      error
}

func (e *ConstraintViolationError) Error() string {
	if e.Relation != "" {
		return fmt.Sprintf("arbor: constraint violation on %s: blocked by %s", e.Type, e.Relation)
	}
	return fmt.Sprintf("arbor: constraint violation on %s", e.Type)
}

func (e *ConstraintViolationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrConstraintViolation
}

// Is lets errors.Is match the sentinel even when Err is set.
func (e *ConstraintViolationError) Is(target error) bool {
	return target == ErrConstraintViolation
}

// ConfigurationMissingError reports a request against an unconfigured
// backend role. This is a programmer error.
type ConfigurationMissingError struct {
	Role Role
}

func (e *ConfigurationMissingError) Error() string {
	return fmt.Sprintf("arbor: no backend configured for role %q", e.Role)
}

func (e *ConfigurationMissingError) Unwrap() error { return ErrConfigurationMissing }

// DeleteFailure records one failed item of a multi-delete.
type DeleteFailure struct {
	Index int
	Err   error
}

// DeleteManyError aggregates the per-item failures of a multi-delete.
// Each item was attempted independently; the call fails if any did.
type DeleteManyError struct {
	Failures []DeleteFailure
	Total    int
}

func (e *DeleteManyError) Error() string {
	return fmt.Sprintf("arbor: %d of %d deletes failed", len(e.Failures), e.Total)
}

func (e *DeleteManyError) Unwrap() error {
	if len(e.Failures) > 0 {
		return e.Failures[0].Err
	}
	return nil
}
