package store

import (
	"fmt"

	"github.com/jacentio/arbor/schema"
)

// Queryable is a reference to something the store can operate on: a
// bare type, a type with a storage-source override, or a pre-built
// query. It is immutable and constructed per call.
type Queryable struct {
	typ    *schema.Type
	source string
	query  *Query
}

// From references a bare type.
func From(t *schema.Type) Queryable {
	return Queryable{typ: t}
}

// FromSource references a type stored under a different source (table)
// without losing the type's field and validation definitions.
func FromSource(source string, t *schema.Type) Queryable {
	return Queryable{typ: t, source: source}
}

// FromQuery references a pre-built query.
func FromQuery(q *Query) Queryable {
	return Queryable{query: q}
}

// WithSource returns a copy of the reference with the source swapped.
func (q Queryable) WithSource(source string) Queryable {
	if q.query != nil {
		cloned := q.query.Clone()
		cloned.Source = source
		return Queryable{query: cloned}
	}
	return Queryable{typ: q.typ, source: source}
}

// Resolve normalizes the reference into its canonical (source, type)
// pair. Well-formed references always resolve; an empty reference is a
// programmer error.
func (q Queryable) Resolve() (string, *schema.Type) {
	switch {
	case q.query != nil:
		return q.query.TableName(), q.query.Type
	case q.typ != nil:
		if q.source != "" {
			return q.source, q.typ
		}
		return q.typ.Table, q.typ
	default:
		panic("store: empty queryable reference")
	}
}

// Template manufactures an empty record usable as the current-state
// base for inserts, carrying the reference's source override.
func (q Queryable) Template() *schema.Record {
	source, t := q.Resolve()
	rec := t.NewRecord()
	if source != t.Table {
		rec.Source = source
	}
	return rec
}

// Query returns the reference as a query value: the pre-built query if
// one was given, else an unfiltered query over the resolved source.
func (q Queryable) Query() *Query {
	if q.query != nil {
		return q.query.Clone()
	}
	source, t := q.Resolve()
	out := &Query{Type: t, Filters: map[string]any{}}
	if source != t.Table {
		out.Source = source
	}
	return out
}

// String describes the reference for logs.
func (q Queryable) String() string {
	source, t := q.Resolve()
	return fmt.Sprintf("%s(%s)", t.Name, source)
}
