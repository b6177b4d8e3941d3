// Package gormdb provides a store.Backend over GORM for postgres and
// sqlite.
package gormdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jacentio/arbor/change"
	"github.com/jacentio/arbor/schema"
	"github.com/jacentio/arbor/store"
)

// Backend implements store.Backend over a *gorm.DB.
type Backend struct {
	db       *gorm.DB
	registry *schema.Registry
	log      *slog.Logger
}

var _ store.Backend = (*Backend)(nil)

// New wraps an existing GORM handle.
func New(db *gorm.DB, registry *schema.Registry, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{db: db, registry: registry, log: logger}
}

// OpenPostgres connects to Postgres.
func OpenPostgres(dsn string, registry *schema.Registry, logger *slog.Logger) (*Backend, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return New(db, registry, logger), nil
}

// OpenSQLite opens a sqlite database file (":memory:" works).
func OpenSQLite(path string, registry *schema.Registry, logger *slog.Logger) (*Backend, error) {
	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite does not enforce foreign keys unless asked.
	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
	}
	return New(db, registry, logger), nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	}
}

func (b *Backend) with(tx *gorm.DB) *Backend {
	return &Backend{db: tx, registry: b.registry, log: b.log}
}

// GetByID fetches one row by identity key.
func (b *Backend) GetByID(ctx context.Context, source string, t *schema.Type, id any) (*schema.Record, error) {
	var rows []map[string]any
	err := b.db.WithContext(ctx).
		Table(source).
		Where(quoteIdent(t.IDField)+" = ?", id).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &store.NotFoundError{Type: t.Name, Source: source, Filters: map[string]any{t.IDField: id}}
	}
	return toRecord(t, source, rows[0]), nil
}

// All returns the rows matching the query.
func (b *Backend) All(ctx context.Context, q *store.Query) ([]*schema.Record, error) {
	var rows []map[string]any
	if err := b.buildQuery(ctx, q).Find(&rows).Error; err != nil {
		return nil, err
	}
	recs := make([]*schema.Record, len(rows))
	for i, row := range rows {
		recs[i] = toRecord(q.Type, q.TableName(), row)
	}
	return recs, nil
}

// Insert persists a changeset as a new row and applies its association
// ops.
func (b *Backend) Insert(ctx context.Context, cs *change.Changeset) (*schema.Record, error) {
	t := cs.Base.Type
	rec := cs.Apply()
	if rec.ID() == nil {
		if t.NewID == nil {
			return nil, fmt.Errorf("gormdb: insert into %s without identity", t.Name)
		}
		rec.Set(t.IDField, t.NewID())
	}

	now := time.Now().UTC()
	rec.Set("created_at", now)
	rec.Set("updated_at", now)

	row := make(map[string]any, len(rec.Fields))
	for k, v := range rec.Fields {
		row[k] = v
	}

	if err := b.db.WithContext(ctx).Table(rec.TableName()).Create(row).Error; err != nil {
		return nil, b.mapConstraint(t, "", err)
	}
	rec.Persisted = true

	if err := b.applyAssocOps(ctx, cs, rec.ID()); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update applies a changeset to an existing row and its association
// ops.
func (b *Backend) Update(ctx context.Context, cs *change.Changeset) (*schema.Record, error) {
	t := cs.Base.Type
	source := cs.Base.TableName()
	id := cs.ID()

	if len(cs.Changes) > 0 {
		updates := make(map[string]any, len(cs.Changes)+1)
		for k, v := range cs.Changes {
			updates[k] = v
		}
		updates["updated_at"] = time.Now().UTC()

		res := b.db.WithContext(ctx).
			Table(source).
			Where(quoteIdent(t.IDField)+" = ?", id).
			Updates(updates)
		if res.Error != nil {
			return nil, b.mapConstraint(t, "", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, &store.NotFoundError{Type: t.Name, Source: source, Filters: map[string]any{t.IDField: id}}
		}
	}

	if err := b.applyAssocOps(ctx, cs, id); err != nil {
		return nil, err
	}
	return b.GetByID(ctx, source, t, id)
}

// Delete removes a row. Associations are checked first so a blocked
// delete reports the blocking relation instead of a bare driver error.
func (b *Backend) Delete(ctx context.Context, rec *schema.Record) error {
	t := rec.Type
	id := rec.ID()
	source := rec.TableName()

	for _, assoc := range t.Associations {
		if assoc.ReadOnly {
			continue
		}
		target, ok := b.registry.Target(assoc)
		if !ok {
			continue
		}
		var n int64
		err := b.db.WithContext(ctx).
			Table(target.Table).
			Where(quoteIdent(assoc.ForeignKey)+" = ?", id).
			Count(&n).Error
		if err != nil {
			return err
		}
		if n > 0 {
			return &store.ConstraintViolationError{Type: t.Name, Relation: assoc.Field}
		}
	}

	res := b.db.WithContext(ctx).Exec(
		fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(source), quoteIdent(t.IDField)), id)
	if res.Error != nil {
		return b.mapConstraint(t, "", res.Error)
	}
	if res.RowsAffected == 0 {
		return &store.NotFoundError{Type: t.Name, Source: source, Filters: map[string]any{t.IDField: id}}
	}
	return nil
}

// Preload loads an association's current value onto the record.
func (b *Backend) Preload(ctx context.Context, rec *schema.Record, assoc schema.Association) error {
	target, ok := b.registry.Target(assoc)
	if !ok {
		return fmt.Errorf("gormdb: association %s targets unregistered type %q", assoc.Field, assoc.Target)
	}

	q := &store.Query{
		Type:    target,
		Filters: map[string]any{assoc.ForeignKey: rec.ID()},
		OrderBy: target.IDField,
	}
	related, err := b.All(ctx, q)
	if err != nil {
		return err
	}

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

// Transaction runs fn inside one database transaction; a non-nil
// error rolls it back.
func (b *Backend) Transaction(ctx context.Context, fn func(tx store.Backend) error) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(b.with(tx))
	})
}

// Stream scans matching rows one at a time.
func (b *Backend) Stream(ctx context.Context, q *store.Query, fn func(*schema.Record) error) error {
	rows, err := b.buildQuery(ctx, q).Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		if err := fn(toRecord(q.Type, q.TableName(), row)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Aggregate computes op over field for the matching rows.
func (b *Backend) Aggregate(ctx context.Context, q *store.Query, op store.AggregateOp, field string) (any, error) {
	if op == store.AggCount {
		var n int64
		if err := b.buildQuery(ctx, q).Count(&n).Error; err != nil {
			return nil, err
		}
		return int(n), nil
	}

	var fn string
	switch op {
	case store.AggSum:
		fn = "SUM"
	case store.AggAvg:
		fn = "AVG"
	case store.AggMin:
		fn = "MIN"
	case store.AggMax:
		fn = "MAX"
	default:
		return nil, fmt.Errorf("gormdb: unsupported aggregate %q", op)
	}

	var v *float64
	row := b.buildQuery(ctx, q).Select(fmt.Sprintf("%s(%s)", fn, quoteIdent(field))).Row()
	if err := row.Scan(&v); err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return *v, nil
}

func (b *Backend) buildQuery(ctx context.Context, q *store.Query) *gorm.DB {
	tx := b.db.WithContext(ctx).Table(q.TableName())
	for k, v := range q.Filters {
		if isSlice(v) {
			tx = tx.Where(quoteIdent(k)+" IN ?", v)
		} else {
			tx = tx.Where(quoteIdent(k)+" = ?", v)
		}
	}
	if q.OrderBy != "" {
		order := quoteIdent(q.OrderBy)
		if q.Descending {
			order += " DESC"
		}
		tx = tx.Order(order)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}
	return tx
}

// applyAssocOps executes a changeset's association ops against the
// owner id.
func (b *Backend) applyAssocOps(ctx context.Context, cs *change.Changeset, ownerID any) error {
	for _, ac := range cs.Assocs {
		assoc := ac.Assoc
		target, ok := b.registry.Target(assoc)
		if !ok {
			return fmt.Errorf("gormdb: association %s targets unregistered type %q", assoc.Field, assoc.Target)
		}
		for _, op := range ac.Ops {
			if err := b.applyAssocOp(ctx, assoc, target, op, ownerID); err != nil {
				return fmt.Errorf("association %s: %w", assoc.Field, err)
			}
		}
	}
	return nil
}

func (b *Backend) applyAssocOp(ctx context.Context, assoc schema.Association, target *schema.Type, op change.AssocOp, ownerID any) error {
	switch op.Kind {
	case change.AssocLink:
		res := b.db.WithContext(ctx).
			Table(op.Record.TableName()).
			Where(quoteIdent(target.IDField)+" = ?", op.Record.ID()).
			Update(assoc.ForeignKey, ownerID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &store.NotFoundError{Type: target.Name, Source: op.Record.TableName(), Filters: map[string]any{target.IDField: op.Record.ID()}}
		}
		return nil

	case change.AssocInsert:
		op.Changeset.SetChange(assoc.ForeignKey, ownerID)
		_, err := b.Insert(ctx, op.Changeset)
		return err

	case change.AssocUpdate:
		op.Changeset.SetChange(assoc.ForeignKey, ownerID)
		_, err := b.Update(ctx, op.Changeset)
		return err

	case change.AssocDelete:
		return b.Delete(ctx, op.Record)

	default:
		return fmt.Errorf("unknown association op %d", op.Kind)
	}
}

// mapConstraint translates driver constraint rejections.
func (b *Backend) mapConstraint(t *schema.Type, relation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) || errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "FOREIGN KEY constraint") ||
		strings.Contains(err.Error(), "violates foreign key constraint") {
		return &store.ConstraintViolationError{Type: t.Name, Relation: relation, Err: err}
	}
	return err
}

func toRecord(t *schema.Type, source string, row map[string]any) *schema.Record {
	rec := t.NewRecord()
	rec.Fields = normalizeRow(t, row)
	rec.Persisted = true
	if source != t.Table {
		rec.Source = source
	}
	return rec
}

// normalizeRow coerces driver scan types back to the declared kinds
// (sqlite hands back int64 for every integer column).
func normalizeRow(t *schema.Type, row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	for _, f := range t.Fields {
		v, ok := out[f.Name]
		if !ok || v == nil {
			continue
		}
		switch f.Kind {
		case schema.Int:
			if n, ok := v.(int64); ok {
				out[f.Name] = int(n)
			}
		case schema.Bool:
			if n, ok := v.(int64); ok {
				out[f.Name] = n != 0
			}
		case schema.String:
			if bs, ok := v.([]byte); ok {
				out[f.Name] = string(bs)
			}
		}
	}
	return out
}

func isSlice(v any) bool {
	switch v.(type) {
	case []any, []string, []int, []int64, []float64:
		return true
	default:
		return false
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, ``) + `"`
}
