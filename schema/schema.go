// Package schema defines type descriptors, field rules, and association
// metadata for records managed by the store.
package schema

import "github.com/google/uuid"

// Cardinality describes how many related records an association holds.
type Cardinality int

const (
	// One means the association holds at most one related record.
	One Cardinality = iota + 1

	// Many means the association holds a collection of related records.
	Many
)

// String returns "one" or "many".
func (c Cardinality) String() string {
	switch c {
	case One:
		return "one"
	case Many:
		return "many"
	default:
		return "unknown"
	}
}

// FieldKind is the declared value kind of a field.
type FieldKind int

const (
	String FieldKind = iota + 1
	Int
	Float
	Bool
	Time
	Any
)

// Field describes a single column of a type.
type Field struct {
	// Name is the column name.
	Name string

	// Kind is the declared value kind, checked during changeset building.
	Kind FieldKind

	// Required marks the field as mandatory on insert.
	Required bool
}

// Association describes a relation field of a type.
type Association struct {
	// Field is the association's field name on the owner.
	Field string

	// Cardinality is fixed at schema-definition time and drives which
	// reconciliation branch runs. It is never inferred from parameters.
	Cardinality Cardinality

	// Target is the related type's name, resolved through the registry.
	Target string

	// ForeignKey is the column on target rows referencing the owner's id.
	ForeignKey string

	// ReadOnly marks derived ("through") associations that can be read
	// but never written.
	ReadOnly bool
}

// Type is the static descriptor for a storable type.
type Type struct {
	// Name is the type name (e.g. "author").
	Name string

	// Table is the default storage source (table name).
	Table string

	// IDField is the identity key column. Defaults to "id" on Register.
	IDField string

	// Fields declares the writable columns and their validation rules.
	Fields []Field

	// Associations declares the relation fields.
	Associations []Association

	// NewID generates an identity value for inserts that don't carry
	// one. Register defaults it to uuid generation for string ids.
	NewID func() any
}

// Field returns the field descriptor for name.
func (t *Type) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Association returns the association descriptor for field.
// The second return is false when no descriptor exists; callers treat
// that as a programmer error.
func (t *Type) Association(field string) (Association, bool) {
	for _, a := range t.Associations {
		if a.Field == field {
			return a, true
		}
	}
	return Association{}, false
}

// HasAssociation reports whether field names a declared association.
func (t *Type) HasAssociation(field string) bool {
	_, ok := t.Association(field)
	return ok
}

// defaultNewID is assigned to types with string identity keys.
func defaultNewID() any {
	return uuid.NewString()
}
