// Package store provides a schema-driven data access layer over a
// relational persistence backend.
//
// Arbor lets callers operate on queryable references (a type
// descriptor, optionally paired with a storage-source override, or a
// pre-built query) without hand-writing repetitive fetch, validate,
// and persist code.
//
// # Queryable References
//
// The three legal forms normalize to a canonical (source, type) pair:
//
//	store.From(author)                    // bare type
//	store.FromSource("old_authors", author) // source override
//	store.FromQuery(q)                    // pre-built query
//
// # Changesets and Associations
//
// Writes go through change records built by the change package. The
// store's ReconcileAssoc inspects the shape of a nested parameter
// fragment and decides whether the related collection is replaced
// wholesale, selected by id membership, merged by identity, or
// freshly inserted; the association descriptor's cardinality, fixed
// at schema-definition time, picks the branch.
//
// # Backends
//
// All persistence flows through the [Backend] interface. Drivers for
// GORM (postgres, sqlite) and an in-memory engine live under driver/.
// A read replica can be attached and selected per call:
//
//	s.Find(ctx, store.From(author), filters, store.OnReplica())
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrNotFound] - no record matched
//   - [ErrInvalid] - changeset failed validation
//   - [ErrAssociationNotFound] - field has no association descriptor
//   - [ErrReadOnlyAssociation] - derived association written
//   - [ErrCardinalityMismatch] - fragment shape legal only for the other cardinality
//   - [ErrConstraintViolation] - backend rejected a write or delete
//   - [ErrConfigurationMissing] - requested backend role not configured
//
// Not-found and validation conditions are ordinary error values;
// structural misuse (unknown association, read-only write, missing
// configuration) fails loudly at the call site.
package store
