package api

import (
	"github.com/BaSui01/stateflow/api/handlers"
)

// The canonical definitions live in api/handlers so the handlers can use
// them without importing the router package; these aliases keep the api
// package's surface unchanged.

// Response is the envelope returned by every API endpoint.
type Response = handlers.Response

// ErrorInfo is the serialized error structure inside a Response.
type ErrorInfo = handlers.ErrorInfo

// CreateThreadRequest creates a thread, optionally with a caller-supplied id.
type CreateThreadRequest = handlers.CreateThreadRequest

// PatchThreadRequest merges metadata field-wise; a null value removes the key.
type PatchThreadRequest = handlers.PatchThreadRequest

// SearchThreadsRequest filters threads by exact metadata equality, status,
// and an id allow-list.
type SearchThreadsRequest = handlers.SearchThreadsRequest

// UpdateStateRequest injects state directly, bypassing the scheduler.
type UpdateStateRequest = handlers.UpdateStateRequest

// CreateRunRequest submits a run.
type CreateRunRequest = handlers.CreateRunRequest

// RunResult pairs a terminal run with its final values.
type RunResult = handlers.RunResult

// StorePutRequest upserts one item.
type StorePutRequest = handlers.StorePutRequest

// StoreGetRequest addresses one item.
type StoreGetRequest = handlers.StoreGetRequest

// StoreSearchRequest matches items whose namespace starts with Prefix,
// segment-wise.
type StoreSearchRequest = handlers.StoreSearchRequest

// NamespacesRequest lists distinct namespace paths under an optional prefix.
type NamespacesRequest = handlers.NamespacesRequest
