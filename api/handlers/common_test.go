package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/types"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestWriteSuccessEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	resp := decodeEnvelope(t, rec)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteErrorStatusMapping(t *testing.T) {
	tests := []struct {
		code types.ErrorCode
		want int
	}{
		{types.ErrValidation, http.StatusBadRequest},
		{types.ErrNotFound, http.StatusNotFound},
		{types.ErrConflict, http.StatusConflict},
		{types.ErrCancelled, http.StatusConflict},
		{types.ErrTimeout, http.StatusGatewayTimeout},
		{types.ErrExecution, http.StatusUnprocessableEntity},
		{types.ErrInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, types.NewError(tt.code, "boom"), zap.NewNop())

			assert.Equal(t, tt.want, rec.Code)
			resp := decodeEnvelope(t, rec)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.code), resp.Error.Code)
			assert.Equal(t, "boom", resp.Error.Message)
		})
	}
}

func TestWriteErrorExplicitStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, types.NewError(types.ErrInternal, "teapot").WithHTTPStatus(http.StatusTeapot), zap.NewNop())
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestWriteAnyErrorWrapsPlainErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteAnyError(rec, assert.AnError, zap.NewNop())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeEnvelope(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrInternal), resp.Error.Code)
}

func TestDecodeJSONBodyStrict(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	t.Run("valid", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))

		var p payload
		require.NoError(t, DecodeJSONBody(rec, req, &p, zap.NewNop()))
		assert.Equal(t, "x", p.Name)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","bogus":1}`))

		var p payload
		require.Error(t, DecodeJSONBody(rec, req, &p, zap.NewNop()))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))

		var p payload
		require.Error(t, DecodeJSONBody(rec, req, &p, zap.NewNop()))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestResponseWriterCapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusAccepted)
	rw.WriteHeader(http.StatusTeapot) // second header write is ignored
	rw.Write([]byte("ok"))

	assert.Equal(t, http.StatusAccepted, rw.StatusCode)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestResponseWriterDefaultsTo200(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)
	rw.Write([]byte("hi"))
	assert.Equal(t, http.StatusOK, rw.StatusCode)
}

func TestHealthHandlerReady(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	h.RegisterCheck(HealthCheckFunc{CheckName: "ok", Fn: func(ctx context.Context) error { return nil }})

	rec := httptest.NewRecorder()
	h.HandleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h.RegisterCheck(HealthCheckFunc{CheckName: "down", Fn: func(ctx context.Context) error { return assert.AnError }})
	rec = httptest.NewRecorder()
	h.HandleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "fail", status.Checks["down"].Status)
	assert.Equal(t, "pass", status.Checks["ok"].Status)
}
