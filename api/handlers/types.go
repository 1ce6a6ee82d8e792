package handlers

import (
	"time"

	"github.com/BaSui01/stateflow/types"
)

// Response is the envelope returned by every API endpoint.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo is the serialized error structure inside a Response.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	// HTTPStatus is carried for handler plumbing, not serialized.
	HTTPStatus int `json:"-"`
}

// CreateThreadRequest creates a thread, optionally with a caller-supplied id.
type CreateThreadRequest struct {
	ID       string         `json:"id,omitempty"`
	Metadata types.Document `json:"metadata,omitempty"`
	// IfExists is raise (default) or do_nothing.
	IfExists types.IfExists `json:"if_exists,omitempty"`
	// TTL is a Go duration string, e.g. "24h". Empty means no expiry.
	TTL string `json:"ttl,omitempty"`
}

// PatchThreadRequest merges metadata field-wise; a null value removes the key.
type PatchThreadRequest struct {
	Metadata types.Document `json:"metadata"`
}

// SearchThreadsRequest filters threads by exact metadata equality, status,
// and an id allow-list.
type SearchThreadsRequest struct {
	Metadata types.Document      `json:"metadata,omitempty"`
	Status   types.ThreadStatus  `json:"status,omitempty"`
	IDs      []string            `json:"ids,omitempty"`
	Limit    int                 `json:"limit,omitempty"`
	Offset   int                 `json:"offset,omitempty"`
	SortBy   types.ThreadSortKey `json:"sort_by,omitempty"`
	// SortOrder is asc (default) or desc.
	SortOrder string `json:"sort_order,omitempty"`
}

// UpdateStateRequest injects state directly, bypassing the scheduler. The
// write is merged, never replaced, and attributed to AsNode.
type UpdateStateRequest struct {
	Values types.Document `json:"values"`
	AsNode string         `json:"as_node,omitempty"`
}

// CreateRunRequest submits a run. ThreadID comes from the URL for
// thread-bound runs and stays empty for stateless ones.
type CreateRunRequest struct {
	TargetID string         `json:"target_id"`
	Input    types.Document `json:"input,omitempty"`
	// Policy is reject (default), interrupt, rollback, or enqueue.
	Policy types.ConflictPolicy `json:"concurrency_policy,omitempty"`
	// Timeout is a Go duration string. Empty uses the server default.
	Timeout    string `json:"timeout,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
	// OnCompletion applies to stateless runs: delete (default) or keep.
	OnCompletion types.OnCompletion `json:"on_completion,omitempty"`
	// CheckpointID forks execution from that ancestor checkpoint.
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// RunResult pairs a terminal run with its final values.
type RunResult struct {
	Run    *types.Run     `json:"run"`
	Values types.Document `json:"values,omitempty"`
}

// StorePutRequest upserts one item.
type StorePutRequest struct {
	Namespace []string       `json:"namespace"`
	Key       string         `json:"key"`
	Value     types.Document `json:"value"`
}

// StoreGetRequest addresses one item.
type StoreGetRequest struct {
	Namespace []string `json:"namespace"`
	Key       string   `json:"key"`
}

// StoreSearchRequest matches items whose namespace starts with Prefix,
// segment-wise.
type StoreSearchRequest struct {
	Prefix []string `json:"namespace_prefix,omitempty"`
	Limit  int      `json:"limit,omitempty"`
	Offset int      `json:"offset,omitempty"`
}

// NamespacesRequest lists distinct namespace paths under an optional prefix.
type NamespacesRequest struct {
	Prefix []string `json:"prefix,omitempty"`
	Limit  int      `json:"limit,omitempty"`
	Offset int      `json:"offset,omitempty"`
}
