package change

import (
	"testing"

	"github.com/jacentio/arbor/schema"
)

func authorType() *schema.Type {
	r := schema.NewRegistry()
	r.Register(&schema.Type{
		Name:  "author",
		Table: "authors",
		Fields: []schema.Field{
			{Name: "id", Kind: schema.String},
			{Name: "name", Kind: schema.String, Required: true},
			{Name: "age", Kind: schema.Int},
			{Name: "rating", Kind: schema.Float},
			{Name: "active", Kind: schema.Bool},
		},
	})
	return r.MustType("author")
}

func TestBuildInsertFromType(t *testing.T) {
	cs := Build(authorType(), map[string]any{
		"name":   "Ada",
		"age":    36,
		"extra":  "ignored",
		"rating": 4.5,
	}, nil)

	if cs.Op != OpInsert {
		t.Errorf("expected insert op, got %s", cs.Op)
	}
	if !cs.Valid() {
		t.Fatalf("expected valid changeset, got errors %v", cs.Errors())
	}
	if v, ok := cs.Change("name"); !ok || v != "Ada" {
		t.Errorf("expected name change Ada, got %v (%v)", v, ok)
	}
	if v, ok := cs.Change("age"); !ok || v != 36 {
		t.Errorf("expected age change 36, got %v (%v)", v, ok)
	}
	if _, ok := cs.Change("extra"); ok {
		t.Error("expected undeclared key to be ignored")
	}
}

func TestBuildUpdateFromRecord(t *testing.T) {
	typ := authorType()
	rec := typ.NewRecord()
	rec.Set("id", "a1")
	rec.Set("name", "Ada")
	rec.Set("age", 36)
	rec.Persisted = true

	cs := Build(rec, map[string]any{"name": "Ada", "age": 37}, nil)

	if cs.Op != OpUpdate {
		t.Errorf("expected update op, got %s", cs.Op)
	}
	if _, ok := cs.Change("name"); ok {
		t.Error("expected unchanged value to record no change")
	}
	if v, ok := cs.Change("age"); !ok || v != 37 {
		t.Errorf("expected age change 37, got %v (%v)", v, ok)
	}
	if cs.Value("name") != "Ada" {
		t.Errorf("expected effective name Ada, got %v", cs.Value("name"))
	}
	if cs.ID() != "a1" {
		t.Errorf("expected id a1, got %v", cs.ID())
	}
}

func TestBuildRequiredOnInsert(t *testing.T) {
	cs := Build(authorType(), map[string]any{"age": 30}, nil)

	if cs.Valid() {
		t.Fatal("expected changeset missing required field to be invalid")
	}
	errs := cs.Errors()
	if len(errs) != 1 || errs[0].Field != "name" || errs[0].Message != "is required" {
		t.Errorf("expected name is required, got %v", errs)
	}
}

func TestBuildKindMismatch(t *testing.T) {
	tests := []struct {
		field string
		value any
	}{
		{"name", 42},
		{"age", "old"},
		{"age", 3.5},
		{"active", "yes"},
		{"rating", "high"},
	}
	for _, tt := range tests {
		cs := Build(authorType(), map[string]any{tt.field: tt.value}, nil)
		found := false
		for _, e := range cs.Errors() {
			if e.Field == tt.field && e.Message == "is invalid" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected %s=%v to be invalid, got errors %v", tt.field, tt.value, cs.Errors())
		}
	}
}

func TestBuildNumericCoercion(t *testing.T) {
	cs := Build(authorType(), map[string]any{
		"name":   "Ada",
		"age":    float64(36), // decoded JSON numbers arrive as float64
		"rating": 4,
	}, nil)
	if !cs.Valid() {
		t.Fatalf("expected valid changeset, got %v", cs.Errors())
	}
	if v, _ := cs.Change("age"); v != 36 {
		t.Errorf("expected age 36, got %v", v)
	}
	if v, _ := cs.Change("rating"); v != 4.0 {
		t.Errorf("expected rating 4.0, got %v", v)
	}
}

func TestBuildDynamicFieldValues(t *testing.T) {
	r := schema.NewRegistry()
	r.Register(&schema.Type{
		Name:  "document",
		Table: "documents",
		Fields: []schema.Field{
			{Name: "id", Kind: schema.String},
			{Name: "meta", Kind: schema.Any},
		},
	})
	typ := r.MustType("document")

	rec := typ.NewRecord()
	rec.Set("id", "d1")
	rec.Set("meta", map[string]any{"tags": []any{"go"}, "rev": 3})
	rec.Persisted = true

	// An equal map value records no change.
	cs := Build(rec, map[string]any{
		"meta": map[string]any{"tags": []any{"go"}, "rev": 3},
	}, nil)
	if _, ok := cs.Change("meta"); ok {
		t.Error("expected equal map value to record no change")
	}

	// A differing map value records one.
	cs = Build(rec, map[string]any{
		"meta": map[string]any{"tags": []any{"go", "db"}, "rev": 4},
	}, nil)
	v, ok := cs.Change("meta")
	if !ok {
		t.Fatal("expected differing map value to record a change")
	}
	if m, _ := v.(map[string]any); m["rev"] != 4 {
		t.Errorf("unexpected change value %v", v)
	}
}

func TestBuildHookVariants(t *testing.T) {
	typ := authorType()
	base := map[string]any{"name": "Ada"}

	t.Run("nil", func(t *testing.T) {
		if cs := Build(typ, base, nil); !cs.Valid() {
			t.Errorf("expected valid changeset, got %v", cs.Errors())
		}
	})

	t.Run("changeset only", func(t *testing.T) {
		cs := Build(typ, base, func(c *Changeset) {
			c.AddError("name", "is taken")
		})
		if cs.Valid() {
			t.Error("expected hook error to invalidate changeset")
		}
	})

	t.Run("changeset and params", func(t *testing.T) {
		var got map[string]any
		Build(typ, base, func(c *Changeset, p map[string]any) {
			got = p
		})
		if got["name"] != "Ada" {
			t.Errorf("expected hook to receive params, got %v", got)
		}
	})

	t.Run("hook args", func(t *testing.T) {
		var got []any
		Build(typ, base, HookArgs{
			Fn:   func(c *Changeset, args ...any) { got = args },
			Args: []any{"x", 7},
		})
		if len(got) != 2 || got[0] != "x" || got[1] != 7 {
			t.Errorf("expected args [x 7], got %v", got)
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected panic for unsupported hook type")
			}
		}()
		Build(typ, base, "not a hook")
	})
}

func TestBuildHookRunsAfterDeclaredValidation(t *testing.T) {
	// Declared rules already ran when the hook fires, so the hook sees
	// and cannot erase their errors.
	cs := Build(authorType(), map[string]any{}, func(c *Changeset) {
		if c.Valid() {
			t.Error("expected hook to observe required-field error")
		}
	})
	if cs.Valid() {
		t.Error("expected changeset to stay invalid")
	}
}

func TestBuildPanicsOnBadBase(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unsupported base type")
		}
	}()
	Build("author", nil, nil)
}

func TestValidConsidersNestedChangesets(t *testing.T) {
	typ := authorType()
	cs := Build(typ, map[string]any{"name": "Ada"}, nil)

	bad := Build(typ, map[string]any{"name": "Grace"}, nil)
	bad.AddError("name", "is taken")

	cs.Assocs["books"] = &AssocChange{Ops: []AssocOp{{Kind: AssocInsert, Changeset: bad}}}
	if cs.Valid() {
		t.Error("expected invalid nested changeset to invalidate the parent")
	}
}
