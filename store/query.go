package store

import "github.com/jacentio/arbor/schema"

// Query is a backend-agnostic read description. Drivers interpret
// Filters as conjunctive predicates: scalar values compare equal,
// slice values match membership (IN).
type Query struct {
	// Type is the result type descriptor.
	Type *schema.Type

	// Source overrides the type's table when non-empty.
	Source string

	// Filters are conjunctive field predicates.
	Filters map[string]any

	// OrderBy names a field to sort by, empty for backend order.
	OrderBy string

	// Descending reverses the sort when OrderBy is set.
	Descending bool

	// Limit caps the result set size (0 = no limit).
	Limit int

	// Offset skips leading rows.
	Offset int
}

// TableName returns the storage source for the query.
func (q *Query) TableName() string {
	if q.Source != "" {
		return q.Source
	}
	return q.Type.Table
}

// Clone returns a copy with a copied filter map.
func (q *Query) Clone() *Query {
	out := *q
	out.Filters = make(map[string]any, len(q.Filters))
	for k, v := range q.Filters {
		out.Filters[k] = v
	}
	return &out
}

// FilterEngine compiles a filter map into a query. The store treats it
// as an opaque predicate compiler; MatchFilter is the built-in
// equality implementation.
type FilterEngine interface {
	Apply(q *Query, filters map[string]any) (*Query, error)
}

// MatchFilter is the default FilterEngine: each filter entry becomes a
// conjunctive equality (or membership, for slices) predicate.
type MatchFilter struct{}

// Apply merges the filter map into the query's predicates.
func (MatchFilter) Apply(q *Query, filters map[string]any) (*Query, error) {
	out := q.Clone()
	for k, v := range filters {
		out.Filters[k] = v
	}
	return out, nil
}
