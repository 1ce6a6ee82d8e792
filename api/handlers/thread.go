package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/checkpoint"
	"github.com/BaSui01/stateflow/thread"
	"github.com/BaSui01/stateflow/types"
)

// ThreadHandler serves thread identity, metadata, state, and history.
type ThreadHandler struct {
	registry *thread.Registry
	logger   *zap.Logger
}

// NewThreadHandler creates a thread handler.
func NewThreadHandler(registry *thread.Registry, logger *zap.Logger) *ThreadHandler {
	return &ThreadHandler{
		registry: registry,
		logger:   logger.With(zap.String("component", "thread_handler")),
	}
}

// RegisterRoutes registers the thread routes on mux.
func (h *ThreadHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/threads", h.HandleCreate)
	mux.HandleFunc("POST /api/v1/threads/search", h.HandleSearch)
	mux.HandleFunc("GET /api/v1/threads/{id}", h.HandleGet)
	mux.HandleFunc("PATCH /api/v1/threads/{id}", h.HandlePatch)
	mux.HandleFunc("DELETE /api/v1/threads/{id}", h.HandleDelete)
	mux.HandleFunc("GET /api/v1/threads/{id}/state", h.HandleGetState)
	mux.HandleFunc("POST /api/v1/threads/{id}/state", h.HandleUpdateState)
	mux.HandleFunc("GET /api/v1/threads/{id}/history", h.HandleHistory)
}

// HandleCreate creates a thread. if_exists governs duplicate ids: raise
// returns Conflict, do_nothing returns the existing thread unchanged.
func (h *ThreadHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateThreadRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	var ttl time.Duration
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil || parsed < 0 {
			WriteError(w, types.NewErrorf(types.ErrValidation, "invalid ttl %q", req.TTL), h.logger)
			return
		}
		ttl = parsed
	}

	th, err := h.registry.Create(r.Context(), thread.CreateOptions{
		ID:       req.ID,
		Metadata: req.Metadata,
		IfExists: req.IfExists,
		TTL:      ttl,
	})
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteCreated(w, th)
}

// HandleGet returns one thread with its latest values.
func (h *ThreadHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	th, err := h.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, th)
}

// HandlePatch merges metadata field-wise; null values remove keys.
func (h *ThreadHandler) HandlePatch(w http.ResponseWriter, r *http.Request) {
	var req PatchThreadRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	th, err := h.registry.Patch(r.Context(), r.PathValue("id"), req.Metadata)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, th)
}

// HandleDelete removes a thread, its checkpoints, and its run history.
func (h *ThreadHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(r.Context(), r.PathValue("id")); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}

// HandleSearch queries threads by metadata equality, status, and ids.
func (h *ThreadHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchThreadsRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	switch req.SortOrder {
	case "", "asc", "desc":
	default:
		WriteError(w, types.NewErrorf(types.ErrValidation, "invalid sort_order %q", req.SortOrder), h.logger)
		return
	}

	threads, err := h.registry.Search(r.Context(), thread.SearchQuery{
		Metadata: req.Metadata,
		Status:   req.Status,
		IDs:      req.IDs,
		Limit:    req.Limit,
		Offset:   req.Offset,
		SortBy:   req.SortBy,
		SortDesc: req.SortOrder == "desc",
	})
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, threads)
}

// HandleGetState returns the thread's current state snapshot.
func (h *ThreadHandler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	state, err := h.registry.State(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, state)
}

// HandleUpdateState injects state directly, writing a checkpoint attributed
// to the caller-specified node. Values merge into the latest snapshot.
func (h *ThreadHandler) HandleUpdateState(w http.ResponseWriter, r *http.Request) {
	var req UpdateStateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	ref, err := h.registry.UpdateState(r.Context(), r.PathValue("id"), req.Values, req.AsNode)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, ref)
}

// HandleHistory pages through checkpoints newest first. The before query
// parameter is an exclusive cursor.
func (h *ThreadHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	opts := checkpoint.HistoryOptions{
		Limit:  queryInt(r, "limit", 0),
		Before: r.URL.Query().Get("before"),
	}
	if ns, ok := r.URL.Query()["namespace"]; ok && len(ns) > 0 {
		opts.Namespace = ns[0]
		opts.NamespaceSet = true
	}

	history, err := h.registry.History(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, history)
}
