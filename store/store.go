package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jacentio/arbor/change"
	"github.com/jacentio/arbor/schema"
)

// Store orchestrates CRUD operations over one or more persistence
// backends. Single-record operations are stateless between calls and
// safe for concurrent use.
type Store struct {
	backends map[Role]Backend
	registry *schema.Registry
	filter   FilterEngine
	cache    Cache
	config   Config
	log      *slog.Logger
	inTx     bool
}

// New creates a new Store over a primary backend.
func New(primary Backend, config Config) *Store {
	config.validate()
	return &Store{
		backends: map[Role]Backend{RolePrimary: primary},
		filter:   MatchFilter{},
		config:   config,
		log:      slog.Default(),
	}
}

// NewWithRegistry creates a new Store with a type registry, required
// for association reconciliation.
func NewWithRegistry(primary Backend, config Config, registry *schema.Registry) *Store {
	s := New(primary, config)
	s.registry = registry
	return s
}

// SetRegistry sets the type registry used to resolve association
// targets.
func (s *Store) SetRegistry(registry *schema.Registry) { s.registry = registry }

// Registry returns the type registry, or nil if not set.
func (s *Store) Registry() *schema.Registry { return s.registry }

// SetReplica configures the read-replica backend.
func (s *Store) SetReplica(b Backend) { s.backends[RoleReplica] = b }

// SetFilterEngine replaces the built-in equality filter engine.
func (s *Store) SetFilterEngine(f FilterEngine) { s.filter = f }

// SetCache attaches an optional read-through record cache.
func (s *Store) SetCache(c Cache) { s.cache = c }

// SetLogger sets the logger. nil restores slog.Default().
func (s *Store) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	s.log = l
}

// CallOption adjusts a single call.
type CallOption func(*callSettings)

type callSettings struct {
	role Role
}

// OnRole directs the call at the backend configured for role.
func OnRole(r Role) CallOption {
	return func(cs *callSettings) { cs.role = r }
}

// OnReplica directs a read at the replica backend.
func OnReplica() CallOption {
	return OnRole(RoleReplica)
}

func (s *Store) settings(opts []CallOption) callSettings {
	cs := callSettings{role: RolePrimary}
	for _, o := range opts {
		o(&cs)
	}
	return cs
}

func (s *Store) backendFor(role Role) (Backend, error) {
	b, ok := s.backends[role]
	if !ok || b == nil {
		return nil, &ConfigurationMissingError{Role: role}
	}
	return b, nil
}

// Get fetches a record by identity key.
func (s *Store) Get(ctx context.Context, q Queryable, id any, opts ...CallOption) (*schema.Record, error) {
	source, t := q.Resolve()
	b, err := s.backendFor(s.settings(opts).role)
	if err != nil {
		return nil, err
	}

	if rec := s.cacheGet(ctx, source, t, id); rec != nil {
		return rec, nil
	}

	rec, err := b.GetByID(ctx, source, t, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, source, rec)
	return rec, nil
}

// Find fetches the single record matching filters. An empty filter map
// returns NotFound immediately without issuing any query: an
// unconditioned "return anything" query is never executed implicitly.
func (s *Store) Find(ctx context.Context, q Queryable, filters map[string]any, opts ...CallOption) (*schema.Record, error) {
	source, t := q.Resolve()
	if len(filters) == 0 {
		return nil, &NotFoundError{Type: t.Name, Source: source, Filters: filters}
	}

	b, err := s.backendFor(s.settings(opts).role)
	if err != nil {
		return nil, err
	}

	query, err := s.filter.Apply(q.Query(), filters)
	if err != nil {
		return nil, fmt.Errorf("apply filters: %w", err)
	}
	query.Limit = 1

	recs, err := b.All(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, &NotFoundError{Type: t.Name, Source: source, Filters: filters}
	}
	return recs[0], nil
}

// All returns every record the reference matches, optionally filtered.
func (s *Store) All(ctx context.Context, q Queryable, filters map[string]any, opts ...CallOption) ([]*schema.Record, error) {
	b, err := s.backendFor(s.settings(opts).role)
	if err != nil {
		return nil, err
	}

	query := q.Query()
	if len(filters) > 0 {
		if query, err = s.filter.Apply(query, filters); err != nil {
			return nil, fmt.Errorf("apply filters: %w", err)
		}
	}
	if query.Limit == 0 && s.config.DefaultLimit > 0 {
		query.Limit = s.config.DefaultLimit
	}
	return b.All(ctx, query)
}

// Stream invokes fn per matching record without materializing the
// full result set.
func (s *Store) Stream(ctx context.Context, q Queryable, filters map[string]any, fn func(*schema.Record) error, opts ...CallOption) error {
	b, err := s.backendFor(s.settings(opts).role)
	if err != nil {
		return err
	}

	query := q.Query()
	if len(filters) > 0 {
		if query, err = s.filter.Apply(query, filters); err != nil {
			return fmt.Errorf("apply filters: %w", err)
		}
	}
	return b.Stream(ctx, query, fn)
}

// Aggregate computes op over field for the matching rows.
func (s *Store) Aggregate(ctx context.Context, q Queryable, op AggregateOp, field string, filters map[string]any, opts ...CallOption) (any, error) {
	b, err := s.backendFor(s.settings(opts).role)
	if err != nil {
		return nil, err
	}

	query := q.Query()
	if len(filters) > 0 {
		if query, err = s.filter.Apply(query, filters); err != nil {
			return nil, fmt.Errorf("apply filters: %w", err)
		}
	}
	return b.Aggregate(ctx, query, op, field)
}

// Create builds a changeset from params against the reference's
// template and inserts it. An invalid changeset comes back as a
// ValidationError carrying the changeset, not a panic.
func (s *Store) Create(ctx context.Context, q Queryable, params map[string]any, hook any, opts ...CallOption) (*schema.Record, error) {
	cs := change.Build(q.Template(), params, hook)
	return s.Insert(ctx, cs, opts...)
}

// Insert persists a built changeset as a new record.
func (s *Store) Insert(ctx context.Context, cs *change.Changeset, opts ...CallOption) (*schema.Record, error) {
	if !cs.Valid() {
		return nil, &ValidationError{Changeset: cs}
	}

	b, err := s.backendFor(s.settings(opts).role)
	if err != nil {
		return nil, err
	}

	t := cs.Base.Type
	if cs.ID() == nil && t.NewID != nil {
		cs.SetChange(t.IDField, t.NewID())
	}

	rec, err := b.Insert(ctx, cs)
	if err != nil {
		return nil, err
	}
	s.log.Debug("inserted record", "type", t.Name, "id", rec.ID())
	return rec, nil
}

// Update applies a built changeset to its existing record.
func (s *Store) Update(ctx context.Context, cs *change.Changeset, opts ...CallOption) (*schema.Record, error) {
	if !cs.Valid() {
		return nil, &ValidationError{Changeset: cs}
	}

	b, err := s.backendFor(s.settings(opts).role)
	if err != nil {
		return nil, err
	}

	rec, err := b.Update(ctx, cs)
	if err != nil {
		return nil, err
	}
	s.cacheDelete(ctx, rec.TableName(), rec.ID())
	s.log.Debug("updated record", "type", cs.Base.Type.Name, "id", rec.ID())
	return rec, nil
}

// Delete removes a single record or changeset. Referential constraint
// rejections surface as a ConstraintViolationError and leave the
// record in place.
func (s *Store) Delete(ctx context.Context, item any, opts ...CallOption) (*schema.Record, error) {
	rec := recordOf(item)

	b, err := s.backendFor(s.settings(opts).role)
	if err != nil {
		return nil, err
	}

	if err := b.Delete(ctx, rec); err != nil {
		return nil, err
	}
	s.cacheDelete(ctx, rec.TableName(), rec.ID())
	s.log.Debug("deleted record", "type", rec.Type.Name, "id", rec.ID())

	out := rec.Clone()
	out.Persisted = false
	return out, nil
}

// DeleteMany removes a heterogeneous list of records and changesets.
// Every item is attempted independently; the call fails if any item
// failed, returning the deleted values alongside the per-item
// failures.
func (s *Store) DeleteMany(ctx context.Context, items []any, opts ...CallOption) ([]*schema.Record, []DeleteFailure, error) {
	var deleted []*schema.Record
	var failures []DeleteFailure
	for i, item := range items {
		rec, err := s.Delete(ctx, item, opts...)
		if err != nil {
			failures = append(failures, DeleteFailure{Index: i, Err: err})
			continue
		}
		deleted = append(deleted, rec)
	}
	if len(failures) > 0 {
		return deleted, failures, &DeleteManyError{Failures: failures, Total: len(items)}
	}
	return deleted, nil, nil
}

// Transaction runs fn with a store view bound to one backend
// transaction. A non-nil error from fn rolls everything back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error, opts ...CallOption) error {
	b, err := s.backendFor(s.settings(opts).role)
	if err != nil {
		return err
	}
	return b.Transaction(ctx, func(txB Backend) error {
		return fn(s.withBackend(txB))
	})
}

// withBackend returns a store view whose roles all resolve to b.
// Cache reads and writes are suspended inside transactions so
// uncommitted state never lands in the cache.
func (s *Store) withBackend(b Backend) *Store {
	return &Store{
		backends: map[Role]Backend{RolePrimary: b, RoleReplica: b},
		registry: s.registry,
		filter:   s.filter,
		cache:    s.cache,
		config:   s.config,
		log:      s.log,
		inTx:     true,
	}
}

func (s *Store) cacheGet(ctx context.Context, source string, t *schema.Type, id any) *schema.Record {
	if s.cache == nil || s.inTx {
		return nil
	}
	fields, err := s.cache.Get(ctx, cacheKey(source, id))
	if err != nil {
		s.log.Warn("record cache get failed", "source", source, "error", err)
		return nil
	}
	if fields == nil {
		return nil
	}
	rec := t.NewRecord()
	rec.Fields = fields
	rec.Persisted = true
	if source != t.Table {
		rec.Source = source
	}
	return rec
}

func (s *Store) cacheSet(ctx context.Context, source string, rec *schema.Record) {
	if s.cache == nil || s.inTx || rec == nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(source, rec.ID()), rec.Fields, s.config.CacheTTL); err != nil {
		s.log.Warn("record cache set failed", "source", source, "error", err)
	}
}

func (s *Store) cacheDelete(ctx context.Context, source string, id any) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cacheKey(source, id)); err != nil {
		s.log.Warn("record cache delete failed", "source", source, "error", err)
	}
}

// recordOf extracts the record a delete applies to. Anything but a
// record or changeset is a programmer error.
func recordOf(item any) *schema.Record {
	switch v := item.(type) {
	case *schema.Record:
		return v
	case *change.Changeset:
		return v.Base
	default:
		panic(fmt.Sprintf("store: cannot delete %T", item))
	}
}

// IsNotFound reports whether err is any not-found condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
