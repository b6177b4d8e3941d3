// Package fragment classifies raw association parameter fragments into
// a closed set of shapes that drive reconciliation.
package fragment

import "github.com/jacentio/arbor/schema"

// Kind is the classified shape of a parameter fragment.
type Kind int

const (
	// Absent means the fragment is nil.
	Absent Kind = iota

	// Loaded means the fragment is one or more materialized records.
	Loaded

	// IdentityOnly means every element is a map whose only key is the
	// identity key.
	IdentityOnly

	// MixedIdentity means at least one element carries an identity key
	// (possibly alongside other fields or id-less elements), and they
	// are not all identity-only.
	MixedIdentity

	// PlainInsert means no element carries an identity key.
	PlainInsert

	// Invalid means the fragment (or one of its elements) is not a
	// recognized shape at all, e.g. a bare scalar where a map, record,
	// or list was expected. Reconciliation rejects it.
	Invalid
)

// String returns a short name for the kind.
func (k Kind) String() string {
	switch k {
	case Absent:
		return "absent"
	case Loaded:
		return "loaded"
	case IdentityOnly:
		return "identity-only"
	case MixedIdentity:
		return "mixed-identity"
	case PlainInsert:
		return "plain-insert"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Fragment is the classification result plus the normalized elements.
type Fragment struct {
	Kind Kind

	// Single reports that the raw fragment was a single object rather
	// than a list.
	Single bool

	// Records holds the elements when Kind is Loaded.
	Records []*schema.Record

	// Params holds the map elements for the remaining kinds.
	Params []map[string]any
}

// Classify inspects a raw parameter fragment for an association whose
// target uses idField as identity key. The classification is computed
// once per field per call; branches downstream switch on the result
// instead of re-checking shapes.
func Classify(raw any, idField string) Fragment {
	switch v := raw.(type) {
	case nil:
		return Fragment{Kind: Absent}
	case *schema.Record:
		return Fragment{Kind: Loaded, Single: true, Records: []*schema.Record{v}}
	case []*schema.Record:
		return Fragment{Kind: Loaded, Records: v}
	case map[string]any:
		if v == nil {
			return Fragment{Kind: Absent}
		}
		f := Fragment{Single: true, Params: []map[string]any{v}}
		f.Kind = classifyMaps(f.Params, idField)
		return f
	case []map[string]any:
		return classifyList(anyMaps(v), idField)
	case []any:
		return classifyElems(v, idField)
	default:
		// A bare scalar is never a legal fragment. Passing it through
		// as a nil-params insert would let a one-cardinality field read
		// it as a removal, silently deleting the current record.
		return Fragment{Kind: Invalid, Single: true}
	}
}

func anyMaps(in []map[string]any) []any {
	out := make([]any, len(in))
	for i, m := range in {
		out[i] = m
	}
	return out
}

func classifyList(elems []any, idField string) Fragment {
	return classifyElems(elems, idField)
}

// classifyElems handles heterogeneous lists. A list of records is
// Loaded; records mixed into a map list degrade to identity-only maps
// so they re-attach by id.
func classifyElems(elems []any, idField string) Fragment {
	allRecords := len(elems) > 0
	for _, e := range elems {
		if _, ok := e.(*schema.Record); !ok {
			allRecords = false
			break
		}
	}
	if allRecords {
		recs := make([]*schema.Record, len(elems))
		for i, e := range elems {
			recs[i] = e.(*schema.Record)
		}
		return Fragment{Kind: Loaded, Records: recs}
	}

	params := make([]map[string]any, 0, len(elems))
	for _, e := range elems {
		switch m := e.(type) {
		case map[string]any:
			params = append(params, m)
		case *schema.Record:
			params = append(params, map[string]any{idField: m.ID()})
		default:
			// A scalar element poisons the whole list.
			return Fragment{Kind: Invalid}
		}
	}
	return Fragment{Kind: classifyMaps(params, idField), Params: params}
}

// classifyMaps applies the identity-key rules to map elements. A nil
// map element has no shape to classify and poisons the list.
func classifyMaps(params []map[string]any, idField string) Kind {
	anyID := false
	allIdentityOnly := len(params) > 0
	for _, m := range params {
		if m == nil {
			return Invalid
		}
		hasID := m[idField] != nil
		if hasID {
			anyID = true
		}
		if !hasID || len(m) != 1 {
			allIdentityOnly = false
		}
	}
	switch {
	case allIdentityOnly:
		return IdentityOnly
	case anyID:
		return MixedIdentity
	default:
		return PlainInsert
	}
}
