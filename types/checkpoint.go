package types

import "time"

// DefaultCheckpointNamespace is the namespace used when a caller does not
// specify one.
const DefaultCheckpointNamespace = ""

// CheckpointRef identifies a checkpoint within a thread.
type CheckpointRef struct {
	ID        string `json:"checkpoint_id"`
	Namespace string `json:"checkpoint_ns"`
}

// Checkpoint is an immutable snapshot of a thread's state plus the list of
// pending execution steps, linked to its predecessor. The parent chain per
// (thread, namespace) forms a tree: branches fork from non-latest ancestors,
// cycles never occur, and no checkpoint is mutated after it is written.
type Checkpoint struct {
	// ID is unique within the thread.
	ID string `json:"id"`

	// Namespace scopes the checkpoint chain.
	Namespace string `json:"namespace"`

	// ThreadID is the owning thread.
	ThreadID string `json:"thread_id"`

	// Values is the opaque state snapshot.
	Values Document `json:"values"`

	// Next lists the pending execution-node names. Empty means the
	// associated run finished.
	Next []string `json:"next"`

	// Metadata carries arbitrary checkpoint metadata (source, step, writes).
	Metadata Document `json:"metadata,omitempty"`

	// ParentID references the parent checkpoint. Empty only for a thread's
	// first checkpoint or a branch root forked from it.
	ParentID string `json:"parent_id,omitempty"`

	// CreatedAt is when the checkpoint was written.
	CreatedAt time.Time `json:"created_at"`
}

// Ref returns the checkpoint's identity pair.
func (c *Checkpoint) Ref() CheckpointRef {
	return CheckpointRef{ID: c.ID, Namespace: c.Namespace}
}

// ParentRef returns the parent's identity pair, or nil for a chain root.
func (c *Checkpoint) ParentRef() *CheckpointRef {
	if c.ParentID == "" {
		return nil
	}
	return &CheckpointRef{ID: c.ParentID, Namespace: c.Namespace}
}
