package schema

// Record is a dynamic row of a registered type. Field values live in a
// plain map; loaded associations live in a separate map whose missing
// keys mean "not loaded" (the not-loaded sentinel).
type Record struct {
	// Type is the record's static descriptor.
	Type *Type

	// Source overrides the type's table when non-empty.
	Source string

	// Fields holds the column values.
	Fields map[string]any

	// Assocs holds loaded association values: *Record for one,
	// []*Record for many. A missing key means the association has not
	// been loaded from the backend.
	Assocs map[string]any

	// Persisted reports whether the record exists in the backend.
	Persisted bool
}

// NewRecord manufactures an empty template record for the type.
func (t *Type) NewRecord() *Record {
	return &Record{
		Type:   t,
		Fields: map[string]any{},
		Assocs: map[string]any{},
	}
}

// TableName returns the storage source: the override if set, else the
// type's table.
func (r *Record) TableName() string {
	if r.Source != "" {
		return r.Source
	}
	return r.Type.Table
}

// ID returns the identity key value, or nil when unset.
func (r *Record) ID() any {
	return r.Fields[r.Type.IDField]
}

// Get returns the value of a field.
func (r *Record) Get(name string) any {
	return r.Fields[name]
}

// Set assigns a field value.
func (r *Record) Set(name string, value any) {
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}
	r.Fields[name] = value
}

// AssocLoaded reports whether the association value is loaded.
func (r *Record) AssocLoaded(field string) bool {
	_, ok := r.Assocs[field]
	return ok
}

// AssocOne returns the loaded one-cardinality association value.
// Returns nil when unloaded or empty.
func (r *Record) AssocOne(field string) *Record {
	v, ok := r.Assocs[field]
	if !ok || v == nil {
		return nil
	}
	rec, _ := v.(*Record)
	return rec
}

// AssocMany returns the loaded many-cardinality association collection.
// Returns nil when unloaded.
func (r *Record) AssocMany(field string) []*Record {
	v, ok := r.Assocs[field]
	if !ok || v == nil {
		return nil
	}
	recs, _ := v.([]*Record)
	return recs
}

// PutAssoc stores a loaded association value.
func (r *Record) PutAssoc(field string, value any) {
	if r.Assocs == nil {
		r.Assocs = map[string]any{}
	}
	r.Assocs[field] = value
}

// Clone returns a copy of the record with copied field and association
// maps. Association values themselves are shared.
func (r *Record) Clone() *Record {
	out := &Record{
		Type:      r.Type,
		Source:    r.Source,
		Fields:    make(map[string]any, len(r.Fields)),
		Assocs:    make(map[string]any, len(r.Assocs)),
		Persisted: r.Persisted,
	}
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	for k, v := range r.Assocs {
		out.Assocs[k] = v
	}
	return out
}
