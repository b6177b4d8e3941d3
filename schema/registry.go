package schema

import "fmt"

// Registry holds all known type descriptors and resolves association
// targets between them.
type Registry struct {
	types map[string]*Type
	order []*Type
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*Type)}
}

// Register adds a type to the registry, applying defaults: IDField
// falls back to "id", and string-id types get uuid generation unless
// NewID is already set.
// This should be called during setup for each storable type.
func (r *Registry) Register(t *Type) {
	if t.Name == "" {
		panic("schema: type has no name")
	}
	if t.Table == "" {
		t.Table = t.Name
	}
	if t.IDField == "" {
		t.IDField = "id"
	}
	if t.NewID == nil {
		if f, ok := t.Field(t.IDField); !ok || f.Kind == String {
			t.NewID = defaultNewID
		}
	}
	if _, dup := r.types[t.Name]; !dup {
		r.order = append(r.order, t)
	}
	r.types[t.Name] = t
}

// Type returns the descriptor registered under name.
func (r *Registry) Type(name string) (*Type, bool) {
	t, ok := r.types[name]
	return t, ok
}

// MustType returns the descriptor registered under name, panicking if
// it is unknown. Unknown types are programmer errors.
func (r *Registry) MustType(name string) *Type {
	t, ok := r.types[name]
	if !ok {
		panic(fmt.Sprintf("schema: type %q is not registered", name))
	}
	return t
}

// Target resolves an association's target type.
func (r *Registry) Target(a Association) (*Type, bool) {
	return r.Type(a.Target)
}

// AllTypes returns all registered types in registration order.
func (r *Registry) AllTypes() []*Type {
	return r.order
}
