package change

import "github.com/jacentio/arbor/schema"

// AssocOpKind is the primitive operation a nested association change
// performs against the related collection.
type AssocOpKind int

const (
	// AssocLink attaches an already-persisted record to the owner.
	AssocLink AssocOpKind = iota + 1

	// AssocInsert inserts a new related record.
	AssocInsert

	// AssocUpdate updates an existing related record.
	AssocUpdate

	// AssocDelete removes a previously-associated record.
	AssocDelete
)

// AssocOp is one primitive operation of an association change.
type AssocOp struct {
	Kind AssocOpKind

	// Record is the target for Link and Delete ops.
	Record *schema.Record

	// Changeset is the payload for Insert and Update ops.
	Changeset *Changeset
}

// AssocChange is the reconciled change set for one association field.
type AssocChange struct {
	// Assoc is the association descriptor the ops apply to.
	Assoc schema.Association

	// Ops are the primitive operations, in execution order.
	Ops []AssocOp
}

// Valid reports whether every nested changeset is valid.
func (a *AssocChange) Valid() bool {
	for _, op := range a.Ops {
		if op.Changeset != nil && !op.Changeset.Valid() {
			return false
		}
	}
	return true
}

// Empty reports whether the change leaves the association with no
// attached records: no links, inserts, or updates survive.
func (a *AssocChange) Empty() bool {
	for _, op := range a.Ops {
		if op.Kind != AssocDelete {
			return false
		}
	}
	return true
}

// ReconcileList computes nested ops for a many association by matching
// params against the current collection by identity: elements whose id
// matches a current record become updates, elements without a match
// become inserts, and current records absent from params become
// deletes.
func ReconcileList(target *schema.Type, current []*schema.Record, params []map[string]any) []AssocOp {
	byID := make(map[any]*schema.Record, len(current))
	for _, rec := range current {
		if id := rec.ID(); id != nil {
			byID[id] = rec
		}
	}

	var ops []AssocOp
	seen := make(map[any]bool, len(params))
	for _, p := range params {
		id := p[target.IDField]
		if id != nil {
			if rec, ok := byID[id]; ok {
				seen[id] = true
				ops = append(ops, AssocOp{Kind: AssocUpdate, Changeset: Build(rec, p, nil)})
				continue
			}
		}
		// No identity match: insert, keeping a given id if present.
		ops = append(ops, AssocOp{Kind: AssocInsert, Changeset: Build(target, p, nil)})
	}

	for _, rec := range current {
		id := rec.ID()
		if id == nil || !seen[id] {
			ops = append(ops, AssocOp{Kind: AssocDelete, Record: rec})
		}
	}

	return ops
}

// ReconcileOne computes nested ops for a one association. nil params
// remove the current record; params matching the current record's id
// update it; anything else replaces it with an insert.
func ReconcileOne(target *schema.Type, current *schema.Record, params map[string]any) []AssocOp {
	if params == nil {
		if current != nil {
			return []AssocOp{{Kind: AssocDelete, Record: current}}
		}
		return nil
	}

	id := params[target.IDField]
	if current != nil && id != nil && id == current.ID() {
		return []AssocOp{{Kind: AssocUpdate, Changeset: Build(current, params, nil)}}
	}

	var ops []AssocOp
	if current != nil {
		ops = append(ops, AssocOp{Kind: AssocDelete, Record: current})
	}
	return append(ops, AssocOp{Kind: AssocInsert, Changeset: Build(target, params, nil)})
}

// ReplaceMany computes ops that set a many association to exactly the
// given records: each replacement is linked, and current members not
// in the replacement set are deleted.
func ReplaceMany(current, replacement []*schema.Record) []AssocOp {
	keep := make(map[any]bool, len(replacement))
	var ops []AssocOp
	for _, rec := range replacement {
		if id := rec.ID(); id != nil {
			keep[id] = true
		}
		ops = append(ops, AssocOp{Kind: AssocLink, Record: rec})
	}
	for _, rec := range current {
		id := rec.ID()
		if id == nil || !keep[id] {
			ops = append(ops, AssocOp{Kind: AssocDelete, Record: rec})
		}
	}
	return ops
}

// ReplaceOne computes ops that set a one association to exactly the
// given record (or to nothing when replacement is nil).
func ReplaceOne(current, replacement *schema.Record) []AssocOp {
	var ops []AssocOp
	if current != nil && (replacement == nil || current.ID() != replacement.ID()) {
		ops = append(ops, AssocOp{Kind: AssocDelete, Record: current})
	}
	if replacement != nil {
		ops = append(ops, AssocOp{Kind: AssocLink, Record: replacement})
	}
	return ops
}
