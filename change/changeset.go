// Package change builds and inspects change records: proposed, validated
// mutations against a record, carrying pending field changes, nested
// association changes, and validation errors.
package change

import (
	"fmt"

	"github.com/jacentio/arbor/schema"
)

// Op is the mutation a changeset proposes.
type Op int

const (
	OpInsert Op = iota + 1
	OpUpdate
	OpDelete
)

// String returns "insert", "update", or "delete".
func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Error is a single validation error attached to a changeset.
type Error struct {
	// Field is the offending field, empty for record-level errors.
	Field string

	// Message describes the failure.
	Message string
}

// Error implements the error interface.
func (e Error) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + " " + e.Message
}

// Changeset is an in-memory proposed mutation against a record. It is
// produced fresh per call and never shared.
type Changeset struct {
	// Base is the record the changes apply to. For inserts it is an
	// unpersisted template.
	Base *schema.Record

	// Op is the proposed mutation.
	Op Op

	// Params are the raw parameters the changeset was built from.
	Params map[string]any

	// Changes holds the proposed field changes (values that differ
	// from the base).
	Changes map[string]any

	// Assocs holds the proposed nested association changes, keyed by
	// association field.
	Assocs map[string]*AssocChange

	errors []Error
}

// Valid reports whether the changeset has no errors, including errors
// on nested association changesets.
func (c *Changeset) Valid() bool {
	if len(c.errors) > 0 {
		return false
	}
	for _, ac := range c.Assocs {
		if !ac.Valid() {
			return false
		}
	}
	return true
}

// Errors returns the ordered validation errors.
func (c *Changeset) Errors() []Error {
	return c.errors
}

// AddError appends a validation error, invalidating the changeset.
func (c *Changeset) AddError(field, message string) {
	c.errors = append(c.errors, Error{Field: field, Message: message})
}

// Change returns a proposed change and whether one exists for name.
func (c *Changeset) Change(name string) (any, bool) {
	v, ok := c.Changes[name]
	return v, ok
}

// SetChange records a proposed field change.
func (c *Changeset) SetChange(name string, value any) {
	if c.Changes == nil {
		c.Changes = map[string]any{}
	}
	c.Changes[name] = value
}

// Value returns the effective value of a field: the pending change if
// present, else the base value.
func (c *Changeset) Value(name string) any {
	if v, ok := c.Changes[name]; ok {
		return v
	}
	return c.Base.Get(name)
}

// ID returns the effective identity key value.
func (c *Changeset) ID() any {
	return c.Value(c.Base.Type.IDField)
}

// Apply merges the pending changes into a copy of the base record.
// It does not touch association values; drivers handle those through
// the association ops.
func (c *Changeset) Apply() *schema.Record {
	out := c.Base.Clone()
	for k, v := range c.Changes {
		out.Set(k, v)
	}
	return out
}

// String summarizes the changeset for logs.
func (c *Changeset) String() string {
	return fmt.Sprintf("%s %s (%d changes, %d errors)",
		c.Op, c.Base.Type.Name, len(c.Changes), len(c.errors))
}
