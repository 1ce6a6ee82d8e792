package types

import "time"

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	// RunStatusPending indicates the run is accepted but not yet executing.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSuccess indicates the run completed successfully.
	RunStatusSuccess RunStatus = "success"

	// RunStatusError indicates the run failed fatally.
	RunStatusError RunStatus = "error"

	// RunStatusTimeout indicates the scheduler preempted the run at its
	// hard deadline.
	RunStatusTimeout RunStatus = "timeout"

	// RunStatusInterrupted indicates the run paused or was cancelled at a
	// cooperative boundary. Interrupted thread-bound runs are resumable by
	// a subsequent run on the same thread.
	RunStatusInterrupted RunStatus = "interrupted"
)

// IsTerminal reports whether the status is terminal. A terminal run never
// transitions again.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusError, RunStatusTimeout, RunStatusInterrupted:
		return true
	default:
		return false
	}
}

// ConflictPolicy resolves a new run request against an already-active run on
// the same thread.
type ConflictPolicy string

const (
	// ConflictReject fails the new run immediately with a Conflict error.
	ConflictReject ConflictPolicy = "reject"

	// ConflictInterrupt cancels the active run at its next cooperative
	// checkpoint boundary, keeps its partial state, and starts the new run
	// from the thread's latest checkpoint.
	ConflictInterrupt ConflictPolicy = "interrupt"

	// ConflictRollback cancels the active run and reverts the thread to the
	// checkpoint that existed before it began, discarding partial progress.
	ConflictRollback ConflictPolicy = "rollback"

	// ConflictEnqueue appends the new run to a per-thread FIFO queue. It is
	// dequeued and started the instant the active run reaches a terminal
	// status.
	ConflictEnqueue ConflictPolicy = "enqueue"
)

// Valid reports whether p is a defined conflict policy.
func (p ConflictPolicy) Valid() bool {
	switch p {
	case ConflictReject, ConflictInterrupt, ConflictRollback, ConflictEnqueue:
		return true
	default:
		return false
	}
}

// OnCompletion governs what happens to a stateless run's trace when it
// reaches a terminal status.
type OnCompletion string

const (
	// OnCompletionDelete discards all trace of the run. Default.
	OnCompletionDelete OnCompletion = "delete"

	// OnCompletionKeep materializes a throwaway thread holding the final
	// values for later inspection.
	OnCompletionKeep OnCompletion = "keep"
)

// Valid reports whether v is a defined on_completion value.
func (v OnCompletion) Valid() bool {
	return v == OnCompletionDelete || v == OnCompletionKeep
}

// Run is one execution attempt of an opaque computation, optionally bound to
// a thread. Once terminal it never transitions again; for thread-bound runs
// at most one run per thread is non-terminal, except queued enqueue runs.
type Run struct {
	// ID is the globally unique run identifier.
	ID string `json:"id"`

	// ThreadID is the owning thread. Empty for stateless runs.
	ThreadID string `json:"thread_id,omitempty"`

	// TargetID names the computation to execute.
	TargetID string `json:"target_id"`

	// Status is the current lifecycle state.
	Status RunStatus `json:"status"`

	// Policy is the chosen conflict resolution policy.
	Policy ConflictPolicy `json:"concurrency_policy"`

	// Input is the caller-supplied input payload.
	Input Document `json:"input,omitempty"`

	// WebhookURL, when set, receives an at-least-once completion callback.
	// Callers must de-duplicate by run id.
	WebhookURL string `json:"webhook_url,omitempty"`

	// OnCompletion applies to stateless runs only.
	OnCompletion OnCompletion `json:"on_completion,omitempty"`

	// CheckpointID, when set, forks execution from that ancestor instead of
	// the thread's latest checkpoint.
	CheckpointID string `json:"checkpoint_id,omitempty"`

	// Error holds the failure or cancellation message for terminal runs.
	Error string `json:"error,omitempty"`

	// CreatedAt is when the run was accepted.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the run was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTerminal reports whether the run is in a terminal state.
func (r *Run) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// Stateless reports whether the run has no owning thread.
func (r *Run) Stateless() bool {
	return r.ThreadID == ""
}
