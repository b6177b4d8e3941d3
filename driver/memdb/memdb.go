// Package memdb provides an in-memory store.Backend with snapshot
// transactions, for tests and embedded use.
//
// Transactions copy the whole state and swap it back in on commit, so
// two transactions running concurrently are last-writer-wins: a write
// committed between another transaction's snapshot and its commit is
// lost. Serialize transactions if that matters.
package memdb

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/jacentio/arbor/change"
	"github.com/jacentio/arbor/schema"
	"github.com/jacentio/arbor/store"
)

type tables map[string]map[any]map[string]any

// DB is an in-memory Backend. All state lives in per-source row maps;
// transactions run against a deep copy that replaces the live state
// only on success.
type DB struct {
	mu       sync.Mutex
	registry *schema.Registry
	tables   tables
	inTx     bool

	// Now stamps created_at/updated_at; tests may override it.
	Now func() time.Time
}

// New creates an empty in-memory backend. The registry is needed to
// resolve association targets and referential constraints.
func New(registry *schema.Registry) *DB {
	return &DB{
		registry: registry,
		tables:   tables{},
		Now:      time.Now,
	}
}

var _ store.Backend = (*DB)(nil)

func (d *DB) table(source string) map[any]map[string]any {
	t, ok := d.tables[source]
	if !ok {
		t = map[any]map[string]any{}
		d.tables[source] = t
	}
	return t
}

// GetByID fetches one row by identity key.
func (d *DB) GetByID(ctx context.Context, source string, t *schema.Type, id any) (*schema.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	row, ok := d.table(source)[id]
	if !ok {
		return nil, &store.NotFoundError{Type: t.Name, Source: source, Filters: map[string]any{t.IDField: id}}
	}
	return d.toRecord(t, source, row), nil
}

// All returns the rows matching the query.
func (d *DB) All(ctx context.Context, q *store.Query) ([]*schema.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.query(q), nil
}

func (d *DB) query(q *store.Query) []*schema.Record {
	source := q.TableName()
	var recs []*schema.Record
	for _, row := range d.table(source) {
		if rowMatches(row, q.Filters) {
			recs = append(recs, d.toRecord(q.Type, source, row))
		}
	}

	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = q.Type.IDField
	}
	sort.Slice(recs, func(i, j int) bool {
		less := fmt.Sprint(recs[i].Get(orderBy)) < fmt.Sprint(recs[j].Get(orderBy))
		if q.Descending {
			return !less
		}
		return less
	})

	if q.Offset > 0 {
		if q.Offset >= len(recs) {
			return nil
		}
		recs = recs[q.Offset:]
	}
	if q.Limit > 0 && len(recs) > q.Limit {
		recs = recs[:q.Limit]
	}
	return recs
}

// Insert persists a changeset as a new row and applies its association
// ops.
func (d *DB) Insert(ctx context.Context, cs *change.Changeset) (*schema.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.insertLocked(cs, "", nil)
}

func (d *DB) insertLocked(cs *change.Changeset, fkField string, fkValue any) (*schema.Record, error) {
	t := cs.Base.Type
	rec := cs.Apply()
	if fkField != "" {
		rec.Set(fkField, fkValue)
	}

	id := rec.ID()
	if id == nil {
		if t.NewID == nil {
			return nil, fmt.Errorf("memdb: insert into %s without identity", t.Name)
		}
		id = t.NewID()
		rec.Set(t.IDField, id)
	}

	source := rec.TableName()
	table := d.table(source)
	if _, exists := table[id]; exists {
		return nil, &store.ConstraintViolationError{Type: t.Name, Relation: t.IDField}
	}

	now := d.Now().UTC()
	rec.Set("created_at", now)
	rec.Set("updated_at", now)
	table[id] = copyRow(rec.Fields)
	rec.Persisted = true

	if err := d.applyAssocOps(cs, id); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update applies a changeset to an existing row and its association
// ops.
func (d *DB) Update(ctx context.Context, cs *change.Changeset) (*schema.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updateLocked(cs, "", nil)
}

func (d *DB) updateLocked(cs *change.Changeset, fkField string, fkValue any) (*schema.Record, error) {
	t := cs.Base.Type
	source := cs.Base.TableName()
	id := cs.ID()

	row, ok := d.table(source)[id]
	if !ok {
		return nil, &store.NotFoundError{Type: t.Name, Source: source, Filters: map[string]any{t.IDField: id}}
	}

	for k, v := range cs.Changes {
		row[k] = v
	}
	if fkField != "" {
		row[fkField] = fkValue
	}
	row["updated_at"] = d.Now().UTC()

	if err := d.applyAssocOps(cs, id); err != nil {
		return nil, err
	}
	return d.toRecord(t, source, row), nil
}

// Delete removes a row, failing with a constraint violation when
// associated rows still reference it.
func (d *DB) Delete(ctx context.Context, rec *schema.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deleteLocked(rec)
}

func (d *DB) deleteLocked(rec *schema.Record) error {
	t := rec.Type
	id := rec.ID()
	source := rec.TableName()

	if _, ok := d.table(source)[id]; !ok {
		return &store.NotFoundError{Type: t.Name, Source: source, Filters: map[string]any{t.IDField: id}}
	}

	for _, assoc := range t.Associations {
		if assoc.ReadOnly {
			continue
		}
		target, ok := d.registry.Target(assoc)
		if !ok {
			continue
		}
		for _, row := range d.table(target.Table) {
			if row[assoc.ForeignKey] == id {
				return &store.ConstraintViolationError{Type: t.Name, Relation: assoc.Field}
			}
		}
	}

	delete(d.table(source), id)
	return nil
}

// Preload loads an association's current value onto the record.
func (d *DB) Preload(ctx context.Context, rec *schema.Record, assoc schema.Association) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	target, ok := d.registry.Target(assoc)
	if !ok {
		return fmt.Errorf("memdb: association %s targets unregistered type %q", assoc.Field, assoc.Target)
	}

	var related []*schema.Record
	for _, row := range d.table(target.Table) {
		if row[assoc.ForeignKey] == rec.ID() {
			related = append(related, d.toRecord(target, target.Table, row))
		}
	}
	sort.Slice(related, func(i, j int) bool {
		return fmt.Sprint(related[i].ID()) < fmt.Sprint(related[j].ID())
	})

	if assoc.Cardinality == schema.Many {
		rec.PutAssoc(assoc.Field, related)
		return nil
	}
	if len(related) > 0 {
		rec.PutAssoc(assoc.Field, related[0])
	} else {
		rec.PutAssoc(assoc.Field, nil)
	}
	return nil
}

// Transaction runs fn against a deep copy of the state; the copy
// replaces the live state only when fn succeeds.
func (d *DB) Transaction(ctx context.Context, fn func(tx store.Backend) error) error {
	if d.inTx {
		return fn(d)
	}

	d.mu.Lock()
	snapshot := d.tables.clone()
	d.mu.Unlock()

	tx := &DB{registry: d.registry, tables: snapshot, inTx: true, Now: d.Now}
	if err := fn(tx); err != nil {
		return err
	}

	d.mu.Lock()
	d.tables = tx.tables
	d.mu.Unlock()
	return nil
}

// Stream invokes fn per matching row.
func (d *DB) Stream(ctx context.Context, q *store.Query, fn func(*schema.Record) error) error {
	d.mu.Lock()
	recs := d.query(q)
	d.mu.Unlock()

	for _, rec := range recs {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Aggregate computes op over field for the matching rows.
func (d *DB) Aggregate(ctx context.Context, q *store.Query, op store.AggregateOp, field string) (any, error) {
	d.mu.Lock()
	recs := d.query(q)
	d.mu.Unlock()

	if op == store.AggCount {
		return len(recs), nil
	}

	var vals []float64
	for _, rec := range recs {
		if f, ok := toFloat(rec.Get(field)); ok {
			vals = append(vals, f)
		}
	}
	if len(vals) == 0 {
		return nil, nil
	}

	switch op {
	case store.AggSum, store.AggAvg:
		sum := 0.0
		for _, v := range vals {
			sum += v
		}
		if op == store.AggAvg {
			return sum / float64(len(vals)), nil
		}
		return sum, nil
	case store.AggMin:
		min := vals[0]
		for _, v := range vals[1:] {
			if v < min {
				min = v
			}
		}
		return min, nil
	case store.AggMax:
		max := vals[0]
		for _, v := range vals[1:] {
			if v > max {
				max = v
			}
		}
		return max, nil
	default:
		return nil, fmt.Errorf("memdb: unsupported aggregate %q", op)
	}
}

// applyAssocOps executes a changeset's association ops against the
// owner id.
func (d *DB) applyAssocOps(cs *change.Changeset, ownerID any) error {
	for _, ac := range cs.Assocs {
		assoc := ac.Assoc
		target, ok := d.registry.Target(assoc)
		if !ok {
			return fmt.Errorf("memdb: association %s targets unregistered type %q", assoc.Field, assoc.Target)
		}
		for _, op := range ac.Ops {
			var err error
			switch op.Kind {
			case change.AssocLink:
				err = d.linkRow(target, assoc.ForeignKey, op.Record, ownerID)
			case change.AssocInsert:
				_, err = d.insertLocked(op.Changeset, assoc.ForeignKey, ownerID)
			case change.AssocUpdate:
				_, err = d.updateLocked(op.Changeset, assoc.ForeignKey, ownerID)
			case change.AssocDelete:
				err = d.deleteLocked(op.Record)
			}
			if err != nil {
				return fmt.Errorf("%s %s: %w", assoc.Field, opName(op.Kind), err)
			}
		}
	}
	return nil
}

func (d *DB) linkRow(target *schema.Type, fk string, rec *schema.Record, ownerID any) error {
	row, ok := d.table(rec.TableName())[rec.ID()]
	if !ok {
		return &store.NotFoundError{Type: target.Name, Source: rec.TableName(), Filters: map[string]any{target.IDField: rec.ID()}}
	}
	row[fk] = ownerID
	return nil
}

func (d *DB) toRecord(t *schema.Type, source string, row map[string]any) *schema.Record {
	rec := t.NewRecord()
	rec.Fields = copyRow(row)
	rec.Persisted = true
	if source != t.Table {
		rec.Source = source
	}
	return rec
}

func (t tables) clone() tables {
	out := make(tables, len(t))
	for source, rows := range t {
		cp := make(map[any]map[string]any, len(rows))
		for id, row := range rows {
			cp[id] = copyRow(row)
		}
		out[source] = cp
	}
	return out
}

func copyRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func rowMatches(row map[string]any, filters map[string]any) bool {
	for k, want := range filters {
		got := row[k]
		rv := reflect.ValueOf(want)
		if want != nil && rv.Kind() == reflect.Slice {
			found := false
			for i := 0; i < rv.Len(); i++ {
				if rv.Index(i).Interface() == got {
					found = true
					break
				}
			}
			if !found {
				return false
			}
			continue
		}
		if got != want {
			return false
		}
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func opName(k change.AssocOpKind) string {
	switch k {
	case change.AssocLink:
		return "link"
	case change.AssocInsert:
		return "insert"
	case change.AssocUpdate:
		return "update"
	case change.AssocDelete:
		return "delete"
	default:
		return "unknown"
	}
}
