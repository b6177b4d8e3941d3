package memdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jacentio/arbor/change"
	"github.com/jacentio/arbor/schema"
	"github.com/jacentio/arbor/store"
)

func testRegistry() *schema.Registry {
	r := schema.NewRegistry()
	r.Register(&schema.Type{
		Name:  "author",
		Table: "authors",
		Fields: []schema.Field{
			{Name: "id", Kind: schema.String},
			{Name: "name", Kind: schema.String, Required: true},
			{Name: "age", Kind: schema.Int},
		},
		Associations: []schema.Association{
			{Field: "books", Cardinality: schema.Many, Target: "book", ForeignKey: "author_id"},
		},
	})
	r.Register(&schema.Type{
		Name:  "book",
		Table: "books",
		Fields: []schema.Field{
			{Name: "id", Kind: schema.String},
			{Name: "title", Kind: schema.String},
			{Name: "author_id", Kind: schema.String},
		},
	})
	return r
}

func insertAuthor(t *testing.T, d *DB, registry *schema.Registry, name string, age int) *schema.Record {
	t.Helper()
	typ := registry.MustType("author")
	cs := change.Build(typ, map[string]any{"name": name, "age": age}, nil)
	rec, err := d.Insert(context.Background(), cs)
	if err != nil {
		t.Fatalf("insert %s: %v", name, err)
	}
	return rec
}

func TestInsertAndGetByID(t *testing.T) {
	registry := testRegistry()
	d := New(registry)
	ctx := context.Background()

	rec := insertAuthor(t, d, registry, "Ada", 36)
	if rec.ID() == nil || !rec.Persisted {
		t.Fatalf("unexpected inserted record %+v", rec)
	}

	got, err := d.GetByID(ctx, "authors", registry.MustType("author"), rec.ID())
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Get("name") != "Ada" || got.Get("age") != 36 {
		t.Errorf("unexpected record %v", got.Fields)
	}

	_, err = d.GetByID(ctx, "authors", registry.MustType("author"), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestInsertStampsTimestamps(t *testing.T) {
	registry := testRegistry()
	d := New(registry)
	frozen := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d.Now = func() time.Time { return frozen }

	rec := insertAuthor(t, d, registry, "Ada", 36)
	if rec.Get("created_at") != frozen || rec.Get("updated_at") != frozen {
		t.Errorf("expected frozen timestamps, got %v / %v", rec.Get("created_at"), rec.Get("updated_at"))
	}
}

func TestInsertDuplicateID(t *testing.T) {
	registry := testRegistry()
	d := New(registry)
	typ := registry.MustType("author")

	cs := change.Build(typ, map[string]any{"id": "a1", "name": "Ada"}, nil)
	if _, err := d.Insert(context.Background(), cs); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	dup := change.Build(typ, map[string]any{"id": "a1", "name": "Grace"}, nil)
	_, err := d.Insert(context.Background(), dup)
	if !errors.Is(err, store.ErrConstraintViolation) {
		t.Errorf("expected constraint violation, got %v", err)
	}
}

func TestAllFiltersSortsAndPaginates(t *testing.T) {
	registry := testRegistry()
	d := New(registry)
	ctx := context.Background()
	typ := registry.MustType("author")

	insertAuthor(t, d, registry, "Ada", 36)
	insertAuthor(t, d, registry, "Grace", 45)
	insertAuthor(t, d, registry, "Barbara", 36)

	recs, err := d.All(ctx, &store.Query{Type: typ, Filters: map[string]any{"age": 36}, OrderBy: "name"})
	if err != nil {
		t.Fatalf("all failed: %v", err)
	}
	if len(recs) != 2 || recs[0].Get("name") != "Ada" || recs[1].Get("name") != "Barbara" {
		t.Errorf("unexpected result %v", recs)
	}

	recs, err = d.All(ctx, &store.Query{Type: typ, OrderBy: "name", Descending: true, Limit: 1})
	if err != nil {
		t.Fatalf("all failed: %v", err)
	}
	if len(recs) != 1 || recs[0].Get("name") != "Grace" {
		t.Errorf("expected Grace first descending, got %v", recs)
	}

	recs, err = d.All(ctx, &store.Query{Type: typ, OrderBy: "name", Offset: 1, Limit: 1})
	if err != nil {
		t.Fatalf("all failed: %v", err)
	}
	if len(recs) != 1 || recs[0].Get("name") != "Barbara" {
		t.Errorf("expected Barbara at offset 1, got %v", recs)
	}
}

func TestAllWithMembershipFilter(t *testing.T) {
	registry := testRegistry()
	d := New(registry)
	typ := registry.MustType("author")

	a := insertAuthor(t, d, registry, "Ada", 36)
	insertAuthor(t, d, registry, "Grace", 45)
	b := insertAuthor(t, d, registry, "Barbara", 36)

	recs, err := d.All(context.Background(), &store.Query{
		Type:    typ,
		Filters: map[string]any{"id": []any{a.ID(), b.ID()}},
	})
	if err != nil {
		t.Fatalf("all failed: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("expected 2 records via IN filter, got %d", len(recs))
	}
}

func TestUpdate(t *testing.T) {
	registry := testRegistry()
	d := New(registry)
	ctx := context.Background()

	rec := insertAuthor(t, d, registry, "Ada", 36)

	cs := change.Build(rec, map[string]any{"age": 37}, nil)
	updated, err := d.Update(ctx, cs)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Get("age") != 37 {
		t.Errorf("expected age 37, got %v", updated.Get("age"))
	}

	ghost := registry.MustType("author").NewRecord()
	ghost.Set("id", "missing")
	ghost.Persisted = true
	_, err = d.Update(ctx, change.Build(ghost, map[string]any{"age": 1}, nil))
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestDeleteConstraint(t *testing.T) {
	registry := testRegistry()
	d := New(registry)
	ctx := context.Background()

	author := insertAuthor(t, d, registry, "Ada", 36)

	bookCS := change.Build(registry.MustType("book"), map[string]any{
		"title":     "SICP",
		"author_id": author.ID().(string),
	}, nil)
	book, err := d.Insert(ctx, bookCS)
	if err != nil {
		t.Fatalf("insert book: %v", err)
	}

	err = d.Delete(ctx, author)
	var cv *store.ConstraintViolationError
	if !errors.As(err, &cv) || cv.Relation != "books" {
		t.Fatalf("expected books constraint violation, got %v", err)
	}

	if err := d.Delete(ctx, book); err != nil {
		t.Fatalf("delete book: %v", err)
	}
	if err := d.Delete(ctx, author); err != nil {
		t.Errorf("expected unblocked delete, got %v", err)
	}
}

func TestPreload(t *testing.T) {
	registry := testRegistry()
	d := New(registry)
	ctx := context.Background()

	author := insertAuthor(t, d, registry, "Ada", 36)
	for _, title := range []string{"SICP", "TAPL"} {
		cs := change.Build(registry.MustType("book"), map[string]any{
			"title":     title,
			"author_id": author.ID().(string),
		}, nil)
		if _, err := d.Insert(ctx, cs); err != nil {
			t.Fatalf("insert %s: %v", title, err)
		}
	}

	assoc, _ := registry.MustType("author").Association("books")
	if err := d.Preload(ctx, author, assoc); err != nil {
		t.Fatalf("preload failed: %v", err)
	}
	if !author.AssocLoaded("books") {
		t.Fatal("expected books loaded")
	}
	if got := author.AssocMany("books"); len(got) != 2 {
		t.Errorf("expected 2 books, got %d", len(got))
	}
}

func TestTransactionSnapshot(t *testing.T) {
	registry := testRegistry()
	d := New(registry)
	ctx := context.Background()
	typ := registry.MustType("author")

	insertAuthor(t, d, registry, "Ada", 36)

	boom := errors.New("boom")
	err := d.Transaction(ctx, func(tx store.Backend) error {
		cs := change.Build(typ, map[string]any{"name": "Grace"}, nil)
		if _, err := tx.Insert(ctx, cs); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	recs, err := d.All(ctx, &store.Query{Type: typ})
	if err != nil {
		t.Fatalf("all failed: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("expected rollback to keep 1 author, got %d", len(recs))
	}

	err = d.Transaction(ctx, func(tx store.Backend) error {
		cs := change.Build(typ, map[string]any{"name": "Grace"}, nil)
		_, err := tx.Insert(ctx, cs)
		return err
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
	recs, _ = d.All(ctx, &store.Query{Type: typ})
	if len(recs) != 2 {
		t.Errorf("expected commit to add the author, got %d", len(recs))
	}
}

func TestStream(t *testing.T) {
	registry := testRegistry()
	d := New(registry)
	ctx := context.Background()
	typ := registry.MustType("author")

	insertAuthor(t, d, registry, "Ada", 36)
	insertAuthor(t, d, registry, "Grace", 45)

	var count int
	err := d.Stream(ctx, &store.Query{Type: typ}, func(rec *schema.Record) error {
		count++
		return nil
	})
	if err != nil || count != 2 {
		t.Errorf("expected 2 streamed records, got %d (%v)", count, err)
	}
}

func TestAggregate(t *testing.T) {
	registry := testRegistry()
	d := New(registry)
	ctx := context.Background()
	typ := registry.MustType("author")

	insertAuthor(t, d, registry, "Ada", 36)
	insertAuthor(t, d, registry, "Grace", 45)
	insertAuthor(t, d, registry, "Barbara", 39)

	tests := []struct {
		op   store.AggregateOp
		want any
	}{
		{store.AggCount, 3},
		{store.AggSum, 120.0},
		{store.AggAvg, 40.0},
		{store.AggMin, 36.0},
		{store.AggMax, 45.0},
	}
	for _, tt := range tests {
		got, err := d.Aggregate(ctx, &store.Query{Type: typ}, tt.op, "age")
		if err != nil {
			t.Fatalf("%s failed: %v", tt.op, err)
		}
		if got != tt.want {
			t.Errorf("expected %s = %v, got %v", tt.op, tt.want, got)
		}
	}
}

func TestAssocOps(t *testing.T) {
	registry := testRegistry()
	d := New(registry)
	ctx := context.Background()
	authorTyp := registry.MustType("author")
	bookTyp := registry.MustType("book")
	assoc, _ := authorTyp.Association("books")

	cs := change.Build(authorTyp, map[string]any{"name": "Ada"}, nil)
	cs.Assocs["books"] = &change.AssocChange{
		Assoc: assoc,
		Ops: []change.AssocOp{
			{Kind: change.AssocInsert, Changeset: change.Build(bookTyp, map[string]any{"title": "SICP"}, nil)},
		},
	}
	author, err := d.Insert(ctx, cs)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	recs, err := d.All(ctx, &store.Query{Type: bookTyp, Filters: map[string]any{"author_id": author.ID()}})
	if err != nil {
		t.Fatalf("all failed: %v", err)
	}
	if len(recs) != 1 || recs[0].Get("title") != "SICP" {
		t.Errorf("expected nested insert carrying the owner fk, got %v", recs)
	}
}
