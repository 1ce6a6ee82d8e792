package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/scheduler"
	"github.com/BaSui01/stateflow/types"
)

// RunHandler serves run submission, inspection, waiting, and cancellation.
type RunHandler struct {
	scheduler *scheduler.Scheduler
	logger    *zap.Logger
}

// NewRunHandler creates a run handler.
func NewRunHandler(sched *scheduler.Scheduler, logger *zap.Logger) *RunHandler {
	return &RunHandler{
		scheduler: sched,
		logger:    logger.With(zap.String("component", "run_handler")),
	}
}

// RegisterRoutes registers the run routes on mux.
func (h *RunHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/threads/{id}/runs", h.HandleCreateThreadRun)
	mux.HandleFunc("POST /api/v1/threads/{id}/runs/wait", h.HandleCreateThreadRunAndWait)
	mux.HandleFunc("GET /api/v1/threads/{id}/runs", h.HandleListThreadRuns)
	mux.HandleFunc("POST /api/v1/runs", h.HandleCreateStatelessRun)
	mux.HandleFunc("POST /api/v1/runs/wait", h.HandleCreateStatelessRunAndWait)
	mux.HandleFunc("GET /api/v1/runs", h.HandleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.HandleGet)
	mux.HandleFunc("GET /api/v1/runs/{id}/wait", h.HandleWait)
	mux.HandleFunc("POST /api/v1/runs/{id}/cancel", h.HandleCancel)
}

func (h *RunHandler) submitRequest(w http.ResponseWriter, r *http.Request, threadID string) (scheduler.SubmitRequest, bool) {
	var req CreateRunRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return scheduler.SubmitRequest{}, false
	}

	var timeout time.Duration
	if req.Timeout != "" {
		parsed, err := time.ParseDuration(req.Timeout)
		if err != nil || parsed < 0 {
			WriteError(w, types.NewErrorf(types.ErrValidation, "invalid timeout %q", req.Timeout), h.logger)
			return scheduler.SubmitRequest{}, false
		}
		timeout = parsed
	}

	return scheduler.SubmitRequest{
		ThreadID:     threadID,
		TargetID:     req.TargetID,
		Input:        req.Input,
		Policy:       req.Policy,
		Timeout:      timeout,
		WebhookURL:   req.WebhookURL,
		OnCompletion: req.OnCompletion,
		CheckpointID: req.CheckpointID,
	}, true
}

// HandleCreateThreadRun submits a fire-and-forget run on a thread.
func (h *RunHandler) HandleCreateThreadRun(w http.ResponseWriter, r *http.Request) {
	req, ok := h.submitRequest(w, r, r.PathValue("id"))
	if !ok {
		return
	}

	run, err := h.scheduler.Submit(r.Context(), req)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteCreated(w, run)
}

// HandleCreateThreadRunAndWait submits a run and blocks until it reaches a
// terminal status, returning the run and its final values.
func (h *RunHandler) HandleCreateThreadRunAndWait(w http.ResponseWriter, r *http.Request) {
	req, ok := h.submitRequest(w, r, r.PathValue("id"))
	if !ok {
		return
	}

	run, values, err := h.scheduler.SubmitAndWait(r.Context(), req)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, RunResult{Run: run, Values: values})
}

// HandleCreateStatelessRun submits a run with no owning thread.
func (h *RunHandler) HandleCreateStatelessRun(w http.ResponseWriter, r *http.Request) {
	req, ok := h.submitRequest(w, r, "")
	if !ok {
		return
	}

	run, err := h.scheduler.Submit(r.Context(), req)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteCreated(w, run)
}

// HandleCreateStatelessRunAndWait submits a stateless run and blocks for the
// result.
func (h *RunHandler) HandleCreateStatelessRunAndWait(w http.ResponseWriter, r *http.Request) {
	req, ok := h.submitRequest(w, r, "")
	if !ok {
		return
	}

	run, values, err := h.scheduler.SubmitAndWait(r.Context(), req)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, RunResult{Run: run, Values: values})
}

// HandleListThreadRuns lists one thread's runs, newest first.
func (h *RunHandler) HandleListThreadRuns(w http.ResponseWriter, r *http.Request) {
	h.listRuns(w, r, r.PathValue("id"))
}

// HandleListRuns lists runs across threads, newest first.
func (h *RunHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	h.listRuns(w, r, r.URL.Query().Get("thread_id"))
}

func (h *RunHandler) listRuns(w http.ResponseWriter, r *http.Request, threadID string) {
	runs, err := h.scheduler.List(r.Context(), scheduler.RunQuery{
		ThreadID: threadID,
		Status:   types.RunStatus(r.URL.Query().Get("status")),
		Limit:    queryInt(r, "limit", 0),
		Offset:   queryInt(r, "offset", 0),
	})
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, runs)
}

// HandleGet returns one run.
func (h *RunHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	run, err := h.scheduler.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, run)
}

// HandleWait blocks until the run reaches a terminal status.
func (h *RunHandler) HandleWait(w http.ResponseWriter, r *http.Request) {
	run, values, err := h.scheduler.Wait(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, RunResult{Run: run, Values: values})
}

// HandleCancel cancels a run. Cancelling a terminal run is a no-op that
// returns the run unchanged.
func (h *RunHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	run, err := h.scheduler.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, run)
}
