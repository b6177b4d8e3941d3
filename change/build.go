package change

import (
	"fmt"
	"reflect"
	"time"

	"github.com/jacentio/arbor/schema"
)

// HookArgs invokes Fn as Fn(changeset, args...). It is the hook
// variant carrying extra arguments fixed at call-construction time.
type HookArgs struct {
	Fn   func(*Changeset, ...any)
	Args []any
}

// Build produces a changeset from a base and raw parameters.
//
// base is either a *schema.Record (the current state) or a
// *schema.Type (an insert against a fresh template). The base type's
// own field validation always runs first; hook runs after it, so
// declared invariants cannot be bypassed.
//
// hook is one of:
//   - nil: the result is exactly the declared validation output
//   - func(*Changeset)
//   - func(*Changeset, map[string]any): also receives params
//   - HookArgs: invoked as Fn(changeset, args...)
//
// Any other hook value is a programmer error and panics.
func Build(base any, params map[string]any, hook any) *Changeset {
	var rec *schema.Record
	switch b := base.(type) {
	case *schema.Record:
		rec = b
	case *schema.Type:
		rec = b.NewRecord()
	default:
		panic(fmt.Sprintf("change: base must be *schema.Record or *schema.Type, got %T", base))
	}

	op := OpInsert
	if rec.Persisted {
		op = OpUpdate
	}

	cs := &Changeset{
		Base:    rec,
		Op:      op,
		Params:  params,
		Changes: map[string]any{},
		Assocs:  map[string]*AssocChange{},
	}

	cast(cs, params)
	validateRequired(cs)
	applyHook(cs, params, hook)

	return cs
}

// cast moves declared fields from params into changes, checking kinds.
// Association fragments are left in params for the reconciler; unknown
// keys are ignored.
func cast(cs *Changeset, params map[string]any) {
	t := cs.Base.Type
	for _, f := range t.Fields {
		raw, ok := params[f.Name]
		if !ok {
			continue
		}
		if raw == nil {
			if !valueEqual(cs.Base.Get(f.Name), nil) {
				cs.SetChange(f.Name, nil)
			}
			continue
		}
		v, ok := castValue(raw, f.Kind)
		if !ok {
			cs.AddError(f.Name, "is invalid")
			continue
		}
		if !valueEqual(cs.Base.Get(f.Name), v) {
			cs.SetChange(f.Name, v)
		}
	}
}

// validateRequired checks required fields on inserts.
func validateRequired(cs *Changeset) {
	if cs.Op != OpInsert {
		return
	}
	t := cs.Base.Type
	for _, f := range t.Fields {
		if !f.Required || f.Name == t.IDField {
			continue
		}
		if cs.Value(f.Name) == nil {
			cs.AddError(f.Name, "is required")
		}
	}
}

func applyHook(cs *Changeset, params map[string]any, hook any) {
	switch h := hook.(type) {
	case nil:
	case func(*Changeset):
		h(cs)
	case func(*Changeset, map[string]any):
		h(cs, params)
	case HookArgs:
		h.Fn(cs, h.Args...)
	default:
		panic(fmt.Sprintf("change: unsupported hook type %T", hook))
	}
}

// castValue coerces raw into the declared kind. Numeric kinds accept
// the usual Go literal types.
func castValue(raw any, kind schema.FieldKind) (any, bool) {
	switch kind {
	case schema.String:
		s, ok := raw.(string)
		return s, ok
	case schema.Int:
		switch n := raw.(type) {
		case int:
			return n, true
		case int32:
			return int(n), true
		case int64:
			return int(n), true
		case float64:
			if n == float64(int(n)) {
				return int(n), true
			}
			return nil, false
		default:
			return nil, false
		}
	case schema.Float:
		switch n := raw.(type) {
		case float64:
			return n, true
		case float32:
			return float64(n), true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		default:
			return nil, false
		}
	case schema.Bool:
		b, ok := raw.(bool)
		return b, ok
	case schema.Time:
		ts, ok := raw.(time.Time)
		return ts, ok
	default:
		return raw, true
	}
}

// valueEqual compares via reflect.DeepEqual: dynamic fields may hold
// maps or slices, which panic under plain interface comparison.
func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
