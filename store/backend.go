package store

import (
	"context"

	"github.com/jacentio/arbor/change"
	"github.com/jacentio/arbor/schema"
)

// Role selects which configured backend serves a call.
type Role string

const (
	// RolePrimary is the writable backend. Reads default to it.
	RolePrimary Role = "primary"

	// RoleReplica is a read-only backend selected per call.
	RoleReplica Role = "replica"
)

// AggregateOp is a backend aggregate function.
type AggregateOp string

const (
	AggCount AggregateOp = "count"
	AggSum   AggregateOp = "sum"
	AggAvg   AggregateOp = "avg"
	AggMin   AggregateOp = "min"
	AggMax   AggregateOp = "max"
)

// Backend is the persistence capability set the store orchestrates.
// Implementations translate records and changesets to their engine;
// Insert and Update also execute the changeset's association ops.
type Backend interface {
	// GetByID fetches one record by identity key from source.
	// Returns an error matching ErrNotFound when absent.
	GetByID(ctx context.Context, source string, t *schema.Type, id any) (*schema.Record, error)

	// All executes a query and returns the matching records.
	All(ctx context.Context, q *Query) ([]*schema.Record, error)

	// Insert persists a changeset as a new row and applies its
	// association ops. Returns the persisted record.
	Insert(ctx context.Context, cs *change.Changeset) (*schema.Record, error)

	// Update applies a changeset to an existing row and its
	// association ops. Returns the updated record.
	Update(ctx context.Context, cs *change.Changeset) (*schema.Record, error)

	// Delete removes a record. Referential constraint rejections
	// surface as errors matching ErrConstraintViolation.
	Delete(ctx context.Context, rec *schema.Record) error

	// Preload loads an association's current value onto the record.
	Preload(ctx context.Context, rec *schema.Record, assoc schema.Association) error

	// Transaction runs fn against a transactional view of the backend.
	// A non-nil error from fn rolls back everything fn did.
	Transaction(ctx context.Context, fn func(tx Backend) error) error

	// Stream invokes fn for each record matching the query, stopping
	// on the first error.
	Stream(ctx context.Context, q *Query, fn func(*schema.Record) error) error

	// Aggregate computes op over field for the matching rows.
	Aggregate(ctx context.Context, q *Query, op AggregateOp, field string) (any, error)
}
