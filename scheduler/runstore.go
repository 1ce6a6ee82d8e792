package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/stateflow/types"
)

// Common errors
var (
	// ErrRunNotFound indicates the requested run record is absent.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunStoreClosed indicates the run store has been closed.
	ErrRunStoreClosed = errors.New("run store is closed")
)

// DefaultListLimit is applied when RunQuery.Limit is zero.
const DefaultListLimit = 10

// MaxListLimit bounds RunQuery.Limit.
const MaxListLimit = 1000

// RunQuery filters run listings.
type RunQuery struct {
	// ThreadID restricts results to one thread's runs.
	ThreadID string

	// Status restricts results to one run status.
	Status types.RunStatus

	// Limit caps the result size. Zero means DefaultListLimit.
	Limit int

	// Offset skips that many results.
	Offset int
}

// EffectiveLimit returns the bounded limit.
func (q RunQuery) EffectiveLimit() int {
	switch {
	case q.Limit <= 0:
		return DefaultListLimit
	case q.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return q.Limit
	}
}

// RunStore persists run records.
type RunStore interface {
	// Create inserts a new run record.
	Create(ctx context.Context, run *types.Run) error

	// Get retrieves a run. Fails with ErrRunNotFound.
	Get(ctx context.Context, id string) (*types.Run, error)

	// Update overwrites a run record. Fails with ErrRunNotFound.
	Update(ctx context.Context, run *types.Run) error

	// Delete removes a run record. Idempotent.
	Delete(ctx context.Context, id string) error

	// DeleteByThread removes every run record of a thread. Idempotent.
	DeleteByThread(ctx context.Context, threadID string) error

	// List returns runs matching the query, newest first.
	List(ctx context.Context, query RunQuery) ([]*types.Run, error)

	// Cleanup removes terminal runs last updated before the cutoff and
	// returns how many were removed.
	Cleanup(ctx context.Context, before time.Time) (int, error)

	// Close releases resources held by the store.
	Close() error
}
