package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/api"
	"github.com/BaSui01/stateflow/api/handlers"
	"github.com/BaSui01/stateflow/checkpoint"
	"github.com/BaSui01/stateflow/internal/metrics"
	"github.com/BaSui01/stateflow/scheduler"
	"github.com/BaSui01/stateflow/store"
	"github.com/BaSui01/stateflow/thread"
	"github.com/BaSui01/stateflow/types"
)

type apiEnv struct {
	server *httptest.Server
	reg    *prometheus.Registry
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	logger := zap.NewNop()
	registry := thread.NewRegistry(thread.NewMemoryStore(), checkpoint.NewMemoryLog(), logger)
	sched := scheduler.New(registry, scheduler.NewMemoryRunStore(), nil, logger, scheduler.Options{})
	kv := store.NewMemoryStore()

	sched.Register("echo", scheduler.ComputationFunc(func(ctx context.Context, rc *scheduler.RunContext) (types.Document, error) {
		return rc.Input(), nil
	}))
	sched.Register("boom", scheduler.ComputationFunc(func(ctx context.Context, rc *scheduler.RunContext) (types.Document, error) {
		return nil, fmt.Errorf("deliberate failure")
	}))

	promReg := prometheus.NewRegistry()
	router := api.NewRouter(api.RouterOptions{
		Registry:  registry,
		Scheduler: sched,
		Store:     kv,
		Metrics:   metrics.NewCollector("stateflow", promReg, logger),
		HealthChecks: []handlers.HealthCheck{
			handlers.HealthCheckFunc{CheckName: "store", Fn: func(ctx context.Context) error { return nil }},
		},
	}, logger)

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Shutdown(shutCtx)
	})
	return &apiEnv{server: server, reg: promReg}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) (*http.Response, api.Response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope api.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

// reencode round-trips an envelope's data field into a typed value.
func reencode(t *testing.T, data any, dst any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dst))
}

func TestThreadLifecycle(t *testing.T) {
	env := newAPIEnv(t)

	resp, envelope := env.do(t, http.MethodPost, "/api/v1/threads", api.CreateThreadRequest{
		ID:       "th-1",
		Metadata: types.Document{"tenant": "acme"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, envelope.Success)

	var th types.Thread
	reencode(t, envelope.Data, &th)
	assert.Equal(t, "th-1", th.ID)
	assert.Equal(t, types.ThreadStatusIdle, th.Status)

	// Duplicate with default if_exists raises Conflict.
	resp, envelope = env.do(t, http.MethodPost, "/api/v1/threads", api.CreateThreadRequest{ID: "th-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, string(types.ErrConflict), envelope.Error.Code)

	// do_nothing returns the existing thread unchanged.
	resp, envelope = env.do(t, http.MethodPost, "/api/v1/threads", api.CreateThreadRequest{
		ID:       "th-1",
		Metadata: types.Document{"tenant": "other"},
		IfExists: types.IfExistsDoNothing,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	reencode(t, envelope.Data, &th)
	assert.Equal(t, "acme", th.Metadata["tenant"])

	// Patch merges; null removes.
	resp, envelope = env.do(t, http.MethodPatch, "/api/v1/threads/th-1", api.PatchThreadRequest{
		Metadata: types.Document{"tenant": nil, "env": "prod"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reencode(t, envelope.Data, &th)
	assert.NotContains(t, th.Metadata, "tenant")
	assert.Equal(t, "prod", th.Metadata["env"])

	// Search by metadata.
	resp, envelope = env.do(t, http.MethodPost, "/api/v1/threads/search", api.SearchThreadsRequest{
		Metadata: types.Document{"env": "prod"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var found []types.Thread
	reencode(t, envelope.Data, &found)
	require.Len(t, found, 1)
	assert.Equal(t, "th-1", found[0].ID)

	// Delete, then get is NotFound.
	resp, _ = env.do(t, http.MethodDelete, "/api/v1/threads/th-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, envelope = env.do(t, http.MethodGet, "/api/v1/threads/th-1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, string(types.ErrNotFound), envelope.Error.Code)
}

func TestThreadStateAndHistory(t *testing.T) {
	env := newAPIEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/threads", api.CreateThreadRequest{ID: "th-state"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Inject state attributed to a node.
	resp, envelope := env.do(t, http.MethodPost, "/api/v1/threads/th-state/state", api.UpdateStateRequest{
		Values: types.Document{"counter": float64(1)},
		AsNode: "seed",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ref types.CheckpointRef
	reencode(t, envelope.Data, &ref)
	assert.NotEmpty(t, ref.ID)

	resp, envelope = env.do(t, http.MethodPost, "/api/v1/threads/th-state/state", api.UpdateStateRequest{
		Values: types.Document{"extra": "x"},
		AsNode: "seed",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// State reflects the merged snapshot.
	resp, envelope = env.do(t, http.MethodGet, "/api/v1/threads/th-state/state", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var state types.ThreadState
	reencode(t, envelope.Data, &state)
	assert.Equal(t, float64(1), state.Values["counter"])
	assert.Equal(t, "x", state.Values["extra"])

	// History pages newest first with the before cursor.
	resp, envelope = env.do(t, http.MethodGet, "/api/v1/threads/th-state/history?limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page []types.Checkpoint
	reencode(t, envelope.Data, &page)
	require.Len(t, page, 1)
	newest := page[0].ID

	resp, envelope = env.do(t, http.MethodGet, "/api/v1/threads/th-state/history?limit=1&before="+newest, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reencode(t, envelope.Data, &page)
	require.Len(t, page, 1)
	assert.NotEqual(t, newest, page[0].ID)
	assert.Equal(t, ref.ID, page[0].ID)
}

func TestRunEndpoints(t *testing.T) {
	env := newAPIEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/threads", api.CreateThreadRequest{ID: "th-run"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Blocking submission returns the final values.
	resp, envelope := env.do(t, http.MethodPost, "/api/v1/threads/th-run/runs/wait", api.CreateRunRequest{
		TargetID: "echo",
		Input:    types.Document{"msg": "hello"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result api.RunResult
	reencode(t, envelope.Data, &result)
	require.NotNil(t, result.Run)
	assert.Equal(t, types.RunStatusSuccess, result.Run.Status)
	assert.Equal(t, "hello", result.Values["msg"])

	// Fire-and-forget submission then wait by id.
	resp, envelope = env.do(t, http.MethodPost, "/api/v1/threads/th-run/runs", api.CreateRunRequest{
		TargetID: "echo",
		Input:    types.Document{"msg": "again"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var run types.Run
	reencode(t, envelope.Data, &run)
	require.NotEmpty(t, run.ID)

	resp, envelope = env.do(t, http.MethodGet, "/api/v1/runs/"+run.ID+"/wait", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reencode(t, envelope.Data, &result)
	assert.Equal(t, types.RunStatusSuccess, result.Run.Status)

	// Listing is newest first.
	resp, envelope = env.do(t, http.MethodGet, "/api/v1/threads/th-run/runs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var runs []types.Run
	reencode(t, envelope.Data, &runs)
	require.Len(t, runs, 2)

	// Execution failure surfaces on the run record, not as an HTTP error.
	resp, envelope = env.do(t, http.MethodPost, "/api/v1/threads/th-run/runs/wait", api.CreateRunRequest{
		TargetID: "boom",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reencode(t, envelope.Data, &result)
	assert.Equal(t, types.RunStatusError, result.Run.Status)
	assert.Contains(t, result.Run.Error, "deliberate failure")

	// Cancelling a terminal run is a no-op.
	resp, envelope = env.do(t, http.MethodPost, "/api/v1/runs/"+run.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reencode(t, envelope.Data, &run)
	assert.Equal(t, types.RunStatusSuccess, run.Status)

	// Unknown target is a validation error.
	resp, envelope = env.do(t, http.MethodPost, "/api/v1/threads/th-run/runs", api.CreateRunRequest{
		TargetID: "nope",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, string(types.ErrValidation), envelope.Error.Code)

	// Unknown thread is NotFound.
	resp, _ = env.do(t, http.MethodPost, "/api/v1/threads/ghost/runs", api.CreateRunRequest{TargetID: "echo"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatelessRunEndpoints(t *testing.T) {
	env := newAPIEnv(t)

	resp, envelope := env.do(t, http.MethodPost, "/api/v1/runs/wait", api.CreateRunRequest{
		TargetID: "echo",
		Input:    types.Document{"k": "v"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result api.RunResult
	reencode(t, envelope.Data, &result)
	assert.Empty(t, result.Run.ThreadID)
	assert.Equal(t, types.RunStatusSuccess, result.Run.Status)
	assert.Equal(t, "v", result.Values["k"])

	// Invalid on_completion rejected.
	resp, envelope = env.do(t, http.MethodPost, "/api/v1/runs", api.CreateRunRequest{
		TargetID:     "echo",
		OnCompletion: types.OnCompletion("archive"),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStoreEndpoints(t *testing.T) {
	env := newAPIEnv(t)

	ns := []string{"memories", "alice"}
	resp, _ := env.do(t, http.MethodPut, "/api/v1/store/items", api.StorePutRequest{
		Namespace: ns, Key: "pref", Value: types.Document{"color": "blue"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Last write wins.
	resp, _ = env.do(t, http.MethodPut, "/api/v1/store/items", api.StorePutRequest{
		Namespace: ns, Key: "pref", Value: types.Document{"color": "green"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, envelope := env.do(t, http.MethodPost, "/api/v1/store/items/get", api.StoreGetRequest{
		Namespace: ns, Key: "pref",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var item types.StoreItem
	reencode(t, envelope.Data, &item)
	assert.Equal(t, "green", item.Value["color"])

	// Prefix search matches segment-wise.
	resp, envelope = env.do(t, http.MethodPost, "/api/v1/store/items/search", api.StoreSearchRequest{
		Prefix: []string{"memories"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var items []types.StoreItem
	reencode(t, envelope.Data, &items)
	require.Len(t, items, 1)

	resp, envelope = env.do(t, http.MethodPost, "/api/v1/store/items/search", api.StoreSearchRequest{
		Prefix: []string{"memories", "bob"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reencode(t, envelope.Data, &items)
	assert.Empty(t, items)

	// Namespace listing.
	resp, envelope = env.do(t, http.MethodPost, "/api/v1/store/namespaces", api.NamespacesRequest{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var namespaces [][]string
	reencode(t, envelope.Data, &namespaces)
	require.Len(t, namespaces, 1)
	assert.Equal(t, ns, namespaces[0])

	// Delete is idempotent; get after delete is NotFound.
	resp, _ = env.do(t, http.MethodDelete, "/api/v1/store/items", api.StoreGetRequest{Namespace: ns, Key: "pref"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodDelete, "/api/v1/store/items", api.StoreGetRequest{Namespace: ns, Key: "pref"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, envelope = env.do(t, http.MethodPost, "/api/v1/store/items/get", api.StoreGetRequest{Namespace: ns, Key: "pref"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Empty namespace on put is invalid.
	resp, _ = env.do(t, http.MethodPut, "/api/v1/store/items", api.StorePutRequest{Key: "k", Value: types.Document{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndStats(t *testing.T) {
	env := newAPIEnv(t)

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(env.server.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	r, envelope := env.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, r.StatusCode)
	var stats scheduler.Stats
	reencode(t, envelope.Data, &stats)
	assert.Zero(t, stats.ActiveRuns)
}

func TestRequestMetricsRecorded(t *testing.T) {
	env := newAPIEnv(t)

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()

	families, err := env.reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["stateflow_http_requests_total"])
}
