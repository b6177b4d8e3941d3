// Package batch composes ordered lists of independent lookup and
// mutate operations into single all-or-nothing units of work, keyed by
// list position.
package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacentio/arbor/schema"
	"github.com/jacentio/arbor/store"
)

// Results maps a step's 0-based list position to its resulting record.
type Results map[int]*schema.Record

func (r Results) clone() Results {
	out := make(Results, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// StepError reports the first failing step of a unit. The whole
// transaction was rolled back; Partial holds the in-memory results of
// the steps before the failure purely as a diagnostic, never
// persisted.
type StepError struct {
	Index   int
	Cause   error
	Partial Results
}

func (e *StepError) Error() string {
	return fmt.Sprintf("batch: step %d failed: %v", e.Index, e.Cause)
}

func (e *StepError) Unwrap() error { return e.Cause }

// Step is one operation of a unit, run against the transactional store
// view.
type Step func(ctx context.Context, tx *store.Store) (*schema.Record, error)

// Unit is an ordered sequence of steps executed inside exactly one
// transaction. Either every step's effect commits, or none do.
type Unit struct {
	steps []Step
}

// NewUnit creates an empty unit of work.
func NewUnit() *Unit {
	return &Unit{}
}

// Add appends a step and returns its index key.
func (u *Unit) Add(step Step) int {
	u.steps = append(u.steps, step)
	return len(u.steps) - 1
}

// Len returns the number of steps.
func (u *Unit) Len() int {
	return len(u.steps)
}

// Run executes the steps strictly in order inside one transaction.
// Steps run sequentially because a step's read may need to observe an
// earlier step's write. The first failure short-circuits the rest and
// rolls back the whole unit, returning a StepError keyed with the
// failing index.
func (u *Unit) Run(ctx context.Context, s *store.Store) (Results, error) {
	results := Results{}
	err := s.Transaction(ctx, func(tx *store.Store) error {
		for i, step := range u.steps {
			rec, err := step(ctx, tx)
			if err != nil {
				return &StepError{Index: i, Cause: err, Partial: results.clone()}
			}
			results[i] = rec
		}
		return nil
	})
	if err != nil {
		var se *StepError
		if errors.As(err, &se) {
			return nil, se
		}
		return nil, err
	}
	return results, nil
}
