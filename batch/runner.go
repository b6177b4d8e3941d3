package batch

import (
	"context"
	"log/slog"

	"github.com/jacentio/arbor/change"
	"github.com/jacentio/arbor/schema"
	"github.com/jacentio/arbor/store"
)

// Runner builds and executes batch units against a store.
type Runner struct {
	store *store.Store
	log   *slog.Logger
}

// NewRunner creates a new Runner.
func NewRunner(s *store.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{store: s, log: logger}
}

// UpdateStep pairs lookup filters with the update to apply.
type UpdateStep struct {
	Find   map[string]any
	Update map[string]any
}

// UpsertStep pairs lookup filters with the params to update or insert.
type UpsertStep struct {
	Find   map[string]any
	Upsert map[string]any
}

// FindOrCreateEach looks each element up by its params and inserts it
// when absent, all inside one transaction. Existing records are reused
// as-is.
func (r *Runner) FindOrCreateEach(ctx context.Context, q store.Queryable, items []map[string]any) (Results, error) {
	unit := NewUnit()
	for _, params := range items {
		params := params
		unit.Add(func(ctx context.Context, tx *store.Store) (*schema.Record, error) {
			rec, err := tx.Find(ctx, q, params)
			if err == nil {
				return rec, nil
			}
			if !store.IsNotFound(err) {
				return nil, err
			}
			return tx.Create(ctx, q, params, nil)
		})
	}
	return r.run(ctx, unit, "find-or-create")
}

// FindAndUpdateEach looks each element up by its find params and
// applies its update params. A missing record aborts the whole unit
// with the failing index; nothing from any step persists.
func (r *Runner) FindAndUpdateEach(ctx context.Context, q store.Queryable, steps []UpdateStep) (Results, error) {
	unit := NewUnit()
	for _, st := range steps {
		st := st
		unit.Add(func(ctx context.Context, tx *store.Store) (*schema.Record, error) {
			rec, err := tx.Find(ctx, q, st.Find)
			if err != nil {
				return nil, err
			}
			return tx.Update(ctx, change.Build(rec, st.Update, nil))
		})
	}
	return r.run(ctx, unit, "find-and-update")
}

// FindAndUpsertEach looks each element up by its find params, updating
// it with the upsert params when found and inserting the merged find
// and upsert params when absent.
func (r *Runner) FindAndUpsertEach(ctx context.Context, q store.Queryable, steps []UpsertStep) (Results, error) {
	unit := NewUnit()
	for _, st := range steps {
		st := st
		unit.Add(func(ctx context.Context, tx *store.Store) (*schema.Record, error) {
			rec, err := tx.Find(ctx, q, st.Find)
			if err == nil {
				return tx.Update(ctx, change.Build(rec, st.Upsert, nil))
			}
			if !store.IsNotFound(err) {
				return nil, err
			}
			return tx.Create(ctx, q, mergeParams(st.Find, st.Upsert), nil)
		})
	}
	return r.run(ctx, unit, "find-and-upsert")
}

func (r *Runner) run(ctx context.Context, unit *Unit, shape string) (Results, error) {
	r.log.Debug("running batch unit", "shape", shape, "steps", unit.Len())
	results, err := unit.Run(ctx, r.store)
	if err != nil {
		r.log.Error("batch unit rolled back", "shape", shape, "error", err)
		return nil, err
	}
	return results, nil
}

// mergeParams overlays b on a without mutating either.
func mergeParams(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
