package store

import (
	"context"
	"fmt"

	"github.com/jacentio/arbor/change"
	"github.com/jacentio/arbor/internal/fragment"
	"github.com/jacentio/arbor/schema"
)

// ReconcileOptions adjusts association reconciliation.
type ReconcileOptions struct {
	// Required marks the association write as validation-required: the
	// reconciled association must end up non-empty.
	Required bool

	// RequiredWhenMissing names another field; the association becomes
	// required exactly when that field's effective value is nil.
	RequiredWhenMissing string
}

// ReconcileAssoc classifies the raw parameter fragment for field and
// mutates the changeset to attach, replace, or update the association.
// The association's current value is preloaded from the backend only
// when the parameter map contains a key for field and the value is not
// already loaded.
//
// How the fragment shape maps to an action depends on the descriptor's
// cardinality, never on the shape alone:
//
//   - materialized records replace the association wholesale
//   - identity-only lists select membership by id (unmatched ids are
//     dropped silently)
//   - mixed lists fetch the identified records and reconcile the rest
//     as inserts, with previously-associated records absent from the
//     list becoming deletes
//   - id-less fragments reconcile against the loaded value
//   - shapeless fragments (a bare scalar where a map, record, or list
//     was expected) add an "is invalid" error on the field, the same
//     way field casting rejects a mistyped value
//
// Returned failures are synchronous and leave the changeset
// unmodified.
func (s *Store) ReconcileAssoc(ctx context.Context, cs *change.Changeset, field string, opts ReconcileOptions, callOpts ...CallOption) error {
	t := cs.Base.Type
	assoc, ok := t.Association(field)
	if !ok {
		return &AssociationNotFoundError{Field: field, Type: t.Name}
	}
	if assoc.ReadOnly {
		return &ReadOnlyAssociationError{Field: field, Type: t.Name}
	}

	if s.registry == nil {
		panic("store: association reconciliation requires a type registry")
	}
	target, ok := s.registry.Target(assoc)
	if !ok {
		panic(fmt.Sprintf("store: association %s.%s targets unregistered type %q", t.Name, field, assoc.Target))
	}

	raw, present := cs.Params[field]
	if !present {
		return nil
	}

	b, err := s.backendFor(s.settings(callOpts).role)
	if err != nil {
		return err
	}

	// Preload only if not already loaded; re-fetching a loaded value
	// would discard in-flight state.
	if cs.Base.Persisted && !cs.Base.AssocLoaded(field) {
		if err := b.Preload(ctx, cs.Base, assoc); err != nil {
			return fmt.Errorf("preload %s.%s: %w", t.Name, field, err)
		}
	}

	frag := fragment.Classify(raw, target.IDField)
	if frag.Kind == fragment.Invalid {
		// A shapeless fragment (bare scalar, or a list containing one)
		// invalidates the changeset instead of being read as a removal
		// or an empty insert.
		cs.AddError(field, "is invalid")
		return nil
	}

	var ops []change.AssocOp
	if assoc.Cardinality == schema.Many {
		ops, err = s.reconcileMany(ctx, b, cs, assoc, target, frag)
	} else {
		ops, err = s.reconcileOne(ctx, b, cs, assoc, target, frag)
	}
	if err != nil {
		return err
	}

	ac := &change.AssocChange{Assoc: assoc, Ops: ops}
	cs.Assocs[field] = ac

	if s.assocRequired(cs, opts) && ac.Empty() {
		cs.AddError(field, "is required")
	}
	return nil
}

func (s *Store) assocRequired(cs *change.Changeset, opts ReconcileOptions) bool {
	if opts.RequiredWhenMissing != "" {
		return cs.Value(opts.RequiredWhenMissing) == nil
	}
	return opts.Required
}

func (s *Store) reconcileMany(ctx context.Context, b Backend, cs *change.Changeset, assoc schema.Association, target *schema.Type, frag fragment.Fragment) ([]change.AssocOp, error) {
	current := cs.Base.AssocMany(assoc.Field)

	switch frag.Kind {
	case fragment.Absent:
		return change.ReconcileList(target, current, nil), nil

	case fragment.Loaded:
		return change.ReplaceMany(current, frag.Records), nil

	case fragment.IdentityOnly:
		// Membership selection: the association becomes exactly the
		// records matching the given ids; unmatched ids drop silently.
		fetched, err := s.fetchByIDs(ctx, b, target, identityValues(frag.Params, target.IDField))
		if err != nil {
			return nil, err
		}
		return change.ReplaceMany(current, fetched), nil

	case fragment.MixedIdentity:
		fetched, err := s.fetchByIDs(ctx, b, target, identityValues(frag.Params, target.IDField))
		if err != nil {
			return nil, err
		}
		// The fetched set joins the loaded collection as the current
		// base: identified elements become updates, id-less elements
		// inserts, and loaded records missing from params deletes.
		return change.ReconcileList(target, mergeByID(current, fetched), frag.Params), nil

	default: // fragment.PlainInsert
		return change.ReconcileList(target, current, frag.Params), nil
	}
}

func (s *Store) reconcileOne(ctx context.Context, b Backend, cs *change.Changeset, assoc schema.Association, target *schema.Type, frag fragment.Fragment) ([]change.AssocOp, error) {
	t := cs.Base.Type
	current := cs.Base.AssocOne(assoc.Field)

	if !frag.Single && frag.Kind != fragment.Absent {
		// A list fragment against a one-cardinality field, including
		// an explicit membership id list.
		return nil, &CardinalityMismatchError{Field: assoc.Field, Type: t.Name}
	}

	switch frag.Kind {
	case fragment.Absent:
		return change.ReconcileOne(target, current, nil), nil

	case fragment.Loaded:
		return change.ReplaceOne(current, frag.Records[0]), nil

	case fragment.IdentityOnly:
		// Attach the referenced record in place: an update target with
		// no field changes.
		fetched, err := b.GetByID(ctx, target.Table, target, frag.Params[0][target.IDField])
		if err != nil {
			return nil, err
		}
		return change.ReplaceOne(current, fetched), nil

	case fragment.MixedIdentity:
		id := frag.Params[0][target.IDField]
		fetched, err := b.GetByID(ctx, target.Table, target, id)
		if err != nil {
			return nil, err
		}
		ops := change.ReconcileOne(target, fetched, frag.Params[0])
		if current != nil && current.ID() != fetched.ID() {
			ops = append([]change.AssocOp{{Kind: change.AssocDelete, Record: current}}, ops...)
		}
		return ops, nil

	default: // fragment.PlainInsert
		return change.ReconcileOne(target, current, frag.Params[0]), nil
	}
}

// fetchByIDs issues the reconciler's single membership read.
func (s *Store) fetchByIDs(ctx context.Context, b Backend, target *schema.Type, ids []any) ([]*schema.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := &Query{Type: target, Filters: map[string]any{target.IDField: ids}}
	return b.All(ctx, q)
}

func identityValues(params []map[string]any, idField string) []any {
	var ids []any
	for _, p := range params {
		if id := p[idField]; id != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// mergeByID unions two record sets, preferring the second on identity
// collisions.
func mergeByID(a, b []*schema.Record) []*schema.Record {
	fromB := make(map[any]bool, len(b))
	for _, rec := range b {
		if id := rec.ID(); id != nil {
			fromB[id] = true
		}
	}
	out := make([]*schema.Record, 0, len(a)+len(b))
	for _, rec := range a {
		if id := rec.ID(); id == nil || !fromB[id] {
			out = append(out, rec)
		}
	}
	return append(out, b...)
}
