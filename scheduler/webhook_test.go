package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/checkpoint"
	"github.com/BaSui01/stateflow/thread"
	"github.com/BaSui01/stateflow/types"
)

func TestWebhookNotifier_Delivers(t *testing.T) {
	received := make(chan types.Run, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var run types.Run
		require.NoError(t, json.NewDecoder(r.Body).Decode(&run))
		received <- run
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(zap.NewNop(), WebhookOptions{RatePerSecond: 100})
	defer n.Close()

	n.Notify(&types.Run{
		ID:         "r1",
		Status:     types.RunStatusSuccess,
		WebhookURL: srv.URL,
	})

	select {
	case run := <-received:
		assert.Equal(t, "r1", run.ID)
		assert.Equal(t, types.RunStatusSuccess, run.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestWebhookNotifier_RetriesUntilSuccess(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	delivered := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		failing := attempts < 3
		mu.Unlock()
		if failing {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		delivered <- struct{}{}
	}))
	defer srv.Close()

	n := NewWebhookNotifier(zap.NewNop(), WebhookOptions{
		MaxRetries:    5,
		RetryInterval: 5 * time.Millisecond,
		RatePerSecond: 1000,
	})
	defer n.Close()

	n.Notify(&types.Run{ID: "r1", Status: types.RunStatusError, WebhookURL: srv.URL})

	select {
	case <-delivered:
		mu.Lock()
		assert.Equal(t, 3, attempts)
		mu.Unlock()
	case <-time.After(5 * time.Second):
		t.Fatal("webhook never succeeded")
	}
}

func TestScheduler_WebhookOnCompletion(t *testing.T) {
	received := make(chan types.Run, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var run types.Run
		_ = json.NewDecoder(r.Body).Decode(&run)
		received <- run
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	registry := thread.NewRegistry(thread.NewMemoryStore(), checkpoint.NewMemoryLog(), zap.NewNop())
	notifier := NewWebhookNotifier(zap.NewNop(), WebhookOptions{RatePerSecond: 100})
	sched := New(registry, NewMemoryRunStore(), notifier, zap.NewNop(), Options{})
	sched.Register("echo", ComputationFunc(func(ctx context.Context, rc *RunContext) (types.Document, error) {
		return rc.Input(), nil
	}))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Shutdown(ctx)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := registry.Create(ctx, thread.CreateOptions{ID: "t1"})
	require.NoError(t, err)

	run, _, err := sched.SubmitAndWait(ctx, SubmitRequest{
		ThreadID:   "t1",
		TargetID:   "echo",
		WebhookURL: srv.URL,
	})
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, types.RunStatusSuccess, got.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("completion webhook was not delivered")
	}
}
