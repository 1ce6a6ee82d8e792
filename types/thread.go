package types

import "time"

// ThreadStatus represents the lifecycle state of a thread.
type ThreadStatus string

const (
	// ThreadStatusIdle indicates no run is active on the thread.
	ThreadStatusIdle ThreadStatus = "idle"

	// ThreadStatusBusy indicates a run is currently executing.
	ThreadStatusBusy ThreadStatus = "busy"

	// ThreadStatusInterrupted indicates the last run paused cooperatively
	// and is waiting for external input.
	ThreadStatusInterrupted ThreadStatus = "interrupted"

	// ThreadStatusError indicates the last run ended in a fatal failure.
	ThreadStatusError ThreadStatus = "error"
)

// Valid reports whether s is one of the defined thread statuses.
func (s ThreadStatus) Valid() bool {
	switch s {
	case ThreadStatusIdle, ThreadStatusBusy, ThreadStatusInterrupted, ThreadStatusError:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the status machine permits moving to next.
// Errors are not sticky: a fresh run attempt moves error back to busy.
func (s ThreadStatus) CanTransition(next ThreadStatus) bool {
	if next == ThreadStatusError {
		return true
	}
	switch s {
	case ThreadStatusIdle:
		return next == ThreadStatusBusy
	case ThreadStatusBusy:
		return next == ThreadStatusIdle || next == ThreadStatusInterrupted
	case ThreadStatusInterrupted, ThreadStatusError:
		return next == ThreadStatusBusy
	default:
		return false
	}
}

// IfExists governs duplicate-id handling on thread creation.
type IfExists string

const (
	// IfExistsRaise fails creation with a Conflict error when the id exists.
	IfExistsRaise IfExists = "raise"

	// IfExistsDoNothing returns the existing thread unchanged. Retry-safe.
	IfExistsDoNothing IfExists = "do_nothing"
)

// Valid reports whether v is a defined if_exists value.
func (v IfExists) Valid() bool {
	return v == IfExistsRaise || v == IfExistsDoNothing
}

// Thread is a durable, checkpointed execution context. It owns its checkpoint
// chain by reference: LatestCheckpointID points at the most recently completed
// branch tip, regardless of which branch it is.
type Thread struct {
	// ID is the globally unique thread identifier.
	ID string `json:"id"`

	// Metadata is the open metadata mapping. Patched field-wise.
	Metadata Document `json:"metadata"`

	// Status is the current lifecycle state.
	Status ThreadStatus `json:"status"`

	// Values is the state snapshot of the latest checkpoint. Populated on
	// read paths; not authoritative storage.
	Values Document `json:"values,omitempty"`

	// LatestCheckpointID is the thread's current checkpoint tip. Empty
	// until the first checkpoint is written.
	LatestCheckpointID string `json:"latest_checkpoint_id,omitempty"`

	// TTL is an optional time-to-live. Threads idle longer than this are
	// swept by the registry. Zero disables sweeping.
	TTL time.Duration `json:"ttl,omitempty"`

	// CreatedAt is when the thread was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the thread was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// ThreadState is the externally visible state of a thread: the latest
// checkpoint's values plus its position in the checkpoint chain.
type ThreadState struct {
	Values           Document       `json:"values"`
	Next             []string       `json:"next"`
	Checkpoint       CheckpointRef  `json:"checkpoint"`
	Metadata         Document       `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	ParentCheckpoint *CheckpointRef `json:"parent_checkpoint,omitempty"`
}

// ThreadSortKey enumerates the sortable thread fields.
type ThreadSortKey string

const (
	ThreadSortID        ThreadSortKey = "id"
	ThreadSortStatus    ThreadSortKey = "status"
	ThreadSortCreatedAt ThreadSortKey = "created_at"
	ThreadSortUpdatedAt ThreadSortKey = "updated_at"
)

// Valid reports whether k is a defined sort key.
func (k ThreadSortKey) Valid() bool {
	switch k {
	case ThreadSortID, ThreadSortStatus, ThreadSortCreatedAt, ThreadSortUpdatedAt:
		return true
	default:
		return false
	}
}
