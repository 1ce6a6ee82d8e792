package checkpoint

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/BaSui01/stateflow/types"
)

// Common errors
var (
	// ErrNotFound indicates the requested checkpoint or thread chain is absent.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrImmutable indicates an attempt to overwrite an existing checkpoint.
	ErrImmutable = errors.New("checkpoint already written")

	// ErrUnknownParent indicates a Put referencing a parent that was never
	// written. Requiring parents to exist makes cycles impossible by
	// construction.
	ErrUnknownParent = errors.New("parent checkpoint does not exist")

	// ErrLogClosed indicates the log has been closed.
	ErrLogClosed = errors.New("checkpoint log is closed")
)

// HistoryOptions controls history retrieval. History is always returned in
// reverse-chronological append order.
type HistoryOptions struct {
	// Namespace filters to one checkpoint namespace. The default namespace
	// is the empty string; NamespaceSet distinguishes "default" from "all".
	Namespace string

	// NamespaceSet enables namespace filtering.
	NamespaceSet bool

	// Limit caps the number of checkpoints returned. Zero means DefaultHistoryLimit.
	Limit int

	// Before is an exclusive cursor: only checkpoints appended strictly
	// before the one with this id are returned.
	Before string
}

// DefaultHistoryLimit is applied when HistoryOptions.Limit is zero.
const DefaultHistoryLimit = 10

// MaxHistoryLimit bounds HistoryOptions.Limit.
const MaxHistoryLimit = 1000

func (o HistoryOptions) effectiveLimit() int {
	switch {
	case o.Limit <= 0:
		return DefaultHistoryLimit
	case o.Limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return o.Limit
	}
}

// Log is the append-only checkpoint store. Writes are atomic: readers only
// ever observe fully-formed checkpoints.
type Log interface {
	// Put appends a checkpoint. The checkpoint id is generated when empty.
	// Putting an id that already exists fails with ErrImmutable; referencing
	// an unknown parent fails with ErrUnknownParent.
	Put(ctx context.Context, cp *types.Checkpoint) error

	// Get retrieves one checkpoint by (thread, id). Fails with ErrNotFound.
	Get(ctx context.Context, threadID, checkpointID string) (*types.Checkpoint, error)

	// History returns the thread's checkpoints in reverse-chronological
	// append order, honoring the limit and before-cursor.
	History(ctx context.Context, threadID string, opts HistoryOptions) ([]*types.Checkpoint, error)

	// DeleteThread removes every checkpoint of a thread. Idempotent.
	DeleteThread(ctx context.Context, threadID string) error

	// Close releases resources held by the log.
	Close() error
}

// NewID returns a fresh checkpoint id.
func NewID() string {
	return uuid.New().String()
}
