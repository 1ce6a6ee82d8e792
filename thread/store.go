package thread

import (
	"context"
	"errors"

	"github.com/BaSui01/stateflow/types"
)

// Common errors
var (
	ErrNotFound      = errors.New("thread not found")
	ErrAlreadyExists = errors.New("thread already exists")
	ErrStoreClosed   = errors.New("thread store is closed")
)

// Search pagination bounds.
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 1000
)

// SearchQuery defines read-side filtering over thread records. Metadata
// matching is exact equality per key; substring matching is unsupported.
type SearchQuery struct {
	// Metadata filters threads whose metadata contains every given key
	// with an equal value.
	Metadata types.Document

	// Status filters by thread status. Empty means all.
	Status types.ThreadStatus

	// IDs is an explicit allow-list. Empty means all.
	IDs []string

	// Limit caps results (default DefaultSearchLimit, max MaxSearchLimit).
	Limit int

	// Offset skips results.
	Offset int

	// SortBy selects the sort key (default created_at).
	SortBy types.ThreadSortKey

	// SortDesc sorts descending.
	SortDesc bool
}

// EffectiveLimit returns the clamped limit.
func (q SearchQuery) EffectiveLimit() int {
	switch {
	case q.Limit <= 0:
		return DefaultSearchLimit
	case q.Limit > MaxSearchLimit:
		return MaxSearchLimit
	default:
		return q.Limit
	}
}

// EffectiveSort returns the sort key, defaulting to created_at.
func (q SearchQuery) EffectiveSort() types.ThreadSortKey {
	if q.SortBy == "" {
		return types.ThreadSortCreatedAt
	}
	return q.SortBy
}

// ThreadStore persists thread records.
type ThreadStore interface {
	// Create inserts a new record. Fails with ErrAlreadyExists.
	Create(ctx context.Context, thread *types.Thread) error

	// Get retrieves a record by id. Fails with ErrNotFound.
	Get(ctx context.Context, id string) (*types.Thread, error)

	// Update overwrites an existing record. Fails with ErrNotFound.
	Update(ctx context.Context, thread *types.Thread) error

	// Delete removes a record. Idempotent.
	Delete(ctx context.Context, id string) error

	// Search returns records matching the query.
	Search(ctx context.Context, query SearchQuery) ([]*types.Thread, error)

	// Close releases resources held by the store.
	Close() error
}
