package scheduler

import (
	"context"
	"errors"
	"fmt"
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

type schedEnv struct {
	registry *thread.Registry
	runs     *MemoryRunStore
	sched    *Scheduler
}

func newTestScheduler(t *testing.T, opts Options) *schedEnv {
	t.Helper()

	registry := thread.NewRegistry(thread.NewMemoryStore(), checkpoint.NewMemoryLog(), zap.NewNop())
	runs := NewMemoryRunStore()
	sched := New(registry, runs, nil, zap.NewNop(), opts)

	// echo completes immediately with its input.
	sched.Register("echo", ComputationFunc(func(ctx context.Context, rc *RunContext) (types.Document, error) {
		return rc.Input(), nil
	}))

	t.Cleanup(func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Shutdown(shutCtx)
	})
	return &schedEnv{registry: registry, runs: runs, sched: sched}
}

func (e *schedEnv) newThread(t *testing.T, id string) *types.Thread {
	t.Helper()
	th, err := e.registry.Create(context.Background(), thread.CreateOptions{ID: id})
	require.NoError(t, err)
	return th
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// looper checkpoints in a tight loop until cancelled.
func looper(started chan<- string) ComputationFunc {
	return func(ctx context.Context, rc *RunContext) (types.Document, error) {
		if started != nil {
			started <- rc.RunID()
		}
		for i := 0; ; i++ {
			err := rc.Checkpoint(ctx, types.Document{"tick": float64(i), "partial": true}, []string{"loop"})
			if err != nil {
				return nil, err
			}
			time.Sleep(2 * time.Millisecond)
		}
	}
}

// gated blocks until released, then completes.
func gated(started chan<- string, release <-chan struct{}) ComputationFunc {
	return func(ctx context.Context, rc *RunContext) (types.Document, error) {
		if started != nil {
			started <- rc.RunID()
		}
		select {
		case <-release:
			return types.Document{"done": true}, nil
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}
}

func TestScheduler_SubmitAndWaitSuccess(t *testing.T) {
	env := newTestScheduler(t, Options{})
	ctx := waitCtx(t)
	env.newThread(t, "t1")

	env.sched.Register("counter", ComputationFunc(func(ctx context.Context, rc *RunContext) (types.Document, error) {
		for i := 1; i <= 3; i++ {
			if err := rc.Checkpoint(ctx, types.Document{"count": float64(i)}, []string{"step"}); err != nil {
				return nil, err
			}
		}
		return types.Document{"result": "ok"}, nil
	}))

	run, values, err := env.sched.SubmitAndWait(ctx, SubmitRequest{ThreadID: "t1", TargetID: "counter"})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusSuccess, run.Status)
	assert.Equal(t, float64(3), values["count"])
	assert.Equal(t, "ok", values["result"])

	th, err := env.registry.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.ThreadStatusIdle, th.Status)
	assert.Equal(t, "ok", th.Values["result"])

	hist, err := env.registry.History(ctx, "t1", checkpoint.HistoryOptions{})
	require.NoError(t, err)
	assert.Len(t, hist, 3)
	assert.Equal(t, "loop", hist[0].Metadata["source"])
	assert.Equal(t, run.ID, hist[0].Metadata["run_id"])
}

func TestScheduler_UnknownTargetAndThread(t *testing.T) {
	env := newTestScheduler(t, Options{})
	ctx := waitCtx(t)
	env.newThread(t, "t1")

	_, err := env.sched.Submit(ctx, SubmitRequest{ThreadID: "t1", TargetID: "nope"})
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))

	_, err = env.sched.Submit(ctx, SubmitRequest{ThreadID: "ghost", TargetID: "echo"})
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))

	_, err = env.sched.Submit(ctx, SubmitRequest{ThreadID: "t1", TargetID: "echo", Policy: "sometimes"})
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}

func TestScheduler_RejectPolicy(t *testing.T) {
	env := newTestScheduler(t, Options{})
	ctx := waitCtx(t)
	env.newThread(t, "t1")

	started := make(chan string, 1)
	release := make(chan struct{})
	env.sched.Register("gated", gated(started, release))

	r1, err := env.sched.Submit(ctx, SubmitRequest{ThreadID: "t1", TargetID: "gated"})
	require.NoError(t, err)
	<-started

	// second submission fails, active run untouched
	_, err = env.sched.Submit(ctx, SubmitRequest{ThreadID: "t1", TargetID: "echo", Policy: types.ConflictReject})
	require.Error(t, err)
	assert.Equal(t, types.ErrConflict, types.GetErrorCode(err))

	got, err := env.sched.Get(ctx, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusRunning, got.Status)

	close(release)
	final, _, err := env.sched.Wait(ctx, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusSuccess, final.Status)
}

func TestScheduler_EnqueueFIFO(t *testing.T) {
	env := newTestScheduler(t, Options{})
	ctx := waitCtx(t)
	env.newThread(t, "t1")

	var mu sync.Mutex
	var order []string
	env.sched.Register("record", ComputationFunc(func(ctx context.Context, rc *RunContext) (types.Document, error) {
		mu.Lock()
		order = append(order, rc.RunID())
		mu.Unlock()
		return nil, nil
	}))

	var ids []string
	var last *types.Run
	for i := 0; i < 3; i++ {
		run, err := env.sched.Submit(ctx, SubmitRequest{
			ThreadID: "t1",
			TargetID: "record",
			Policy:   types.ConflictEnqueue,
		})
		require.NoError(t, err)
		ids = append(ids, run.ID)
		last = run
	}

	_, _, err := env.sched.Wait(ctx, last.ID)
	require.NoError(t, err)
	for _, id := range ids {
		run, _, err := env.sched.Wait(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.RunStatusSuccess, run.Status)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ids, order)
}

func TestScheduler_EnqueueQueueFull(t *testing.T) {
	env := newTestScheduler(t, Options{MaxQueueDepth: 1})
	ctx := waitCtx(t)
	env.newThread(t, "t1")

	started := make(chan string, 1)
	release := make(chan struct{})
	env.sched.Register("gated", gated(started, release))

	_, err := env.sched.Submit(ctx, SubmitRequest{ThreadID: "t1", TargetID: "gated"})
	require.NoError(t, err)
	<-started

	_, err = env.sched.Submit(ctx, SubmitRequest{ThreadID: "t1", TargetID: "echo", Policy: types.ConflictEnqueue})
	require.NoError(t, err)

	_, err = env.sched.Submit(ctx, SubmitRequest{ThreadID: "t1", TargetID: "echo", Policy: types.ConflictEnqueue})
	require.Error(t, err)
	assert.Equal(t, types.ErrConflict, types.GetErrorCode(err))

	close(release)
}

func TestScheduler_InterruptPolicy(t *testing.T) {
	env := newTestScheduler(t, Options{})
	ctx := waitCtx(t)
	env.newThread(t, "t1")

	started := make(chan string, 1)
	env.sched.Register("looper", looper(started))

	r1, err := env.sched.Submit(ctx, SubmitRequest{ThreadID: "t1", TargetID: "looper"})
	require.NoError(t, err)
	<-started
	time.Sleep(10 * time.Millisecond) // let some checkpoints land

	r2, values, err := env.sched.SubmitAndWait(ctx, SubmitRequest{
		ThreadID: "t1",
		TargetID: "echo",
		Input:    types.Document{"second": true},
		Policy:   types.ConflictInterrupt,
	})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusSuccess, r2.Status)

	// the new run started from the interrupted run's partial progress
	assert.Equal(t, true, values["partial"])
	assert.Equal(t, true, values["second"])

	final, _, err := env.sched.Wait(ctx, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusInterrupted, final.Status)
	assert.Contains(t, final.Error, "interrupt")

	th, err := env.registry.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.ThreadStatusIdle, th.Status)
}

func TestScheduler_RollbackPolicy(t *testing.T) {
	env := newTestScheduler(t, Options{})
	ctx := waitCtx(t)
	env.newThread(t, "t1")

	// seed a pre-run checkpoint
	baseRef, err := env.registry.UpdateState(ctx, "t1", types.Document{"base": true}, "seed")
	require.NoError(t, err)

	started := make(chan string, 1)
	env.sched.Register("looper", looper(started))

	r1, err := env.sched.Submit(ctx, SubmitRequest{ThreadID: "t1", TargetID: "looper"})
	require.NoError(t, err)
	<-started

	// wait for the run to advance past the base checkpoint
	require.Eventually(t, func() bool {
		cp, err := env.registry.Latest(ctx, "t1")
		return err == nil && cp != nil && cp.ID != baseRef.ID
	}, 2*time.Second, 2*time.Millisecond)

	r2, values, err := env.sched.SubmitAndWait(ctx, SubmitRequest{
		ThreadID: "t1",
		TargetID: "echo",
		Input:    types.Document{"second": true},
		Policy:   types.ConflictRollback,
	})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusSuccess, r2.Status)

	// rolled back: the new run saw the base state, not the partial progress
	assert.Equal(t, true, values["base"])
	assert.Equal(t, true, values["second"])
	_, hasPartial := values["partial"]
	assert.False(t, hasPartial)

	final, _, err := env.sched.Wait(ctx, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusInterrupted, final.Status)
	assert.Contains(t, final.Error, "rollback")

	// the cancelled run's partial checkpoints remain in history
	hist, err := env.registry.History(ctx, "t1", checkpoint.HistoryOptions{Limit: MaxListLimit})
	require.NoError(t, err)
	var partials int
	for _, cp := range hist {
		if cp.Values["partial"] == true {
			partials++
		}
	}
	assert.Greater(t, partials, 0)
}

func TestScheduler_HardTimeout(t *testing.T) {
	env := newTestScheduler(t, Options{})
	ctx := waitCtx(t)
	env.newThread(t, "t1")

	// ignores cancellation entirely
	env.sched.Register("stubborn", ComputationFunc(func(ctx context.Context, rc *RunContext) (types.Document, error) {
		time.Sleep(500 * time.Millisecond)
		return types.Document{"late": true}, nil
	}))

	begin := time.Now()
	run, _, err := env.sched.SubmitAndWait(ctx, SubmitRequest{
		ThreadID: "t1",
		TargetID: "stubborn",
		Timeout:  30 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusTimeout, run.Status)
	assert.Less(t, time.Since(begin), 400*time.Millisecond, "timeout must preempt without waiting for cooperation")

	th, err := env.registry.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.ThreadStatusError, th.Status)
}

func TestScheduler_ExecutionError(t *testing.T) {
	env := newTestScheduler(t, Options{})
	ctx := waitCtx(t)
	env.newThread(t, "t1")

	env.sched.Register("broken", ComputationFunc(func(ctx context.Context, rc *RunContext) (types.Document, error) {
		return nil, errors.New("node exploded")
	}))

	run, _, err := env.sched.SubmitAndWait(ctx, SubmitRequest{ThreadID: "t1", TargetID: "broken"})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusError, run.Status)
	assert.Equal(t, "node exploded", run.Error)

	th, err := env.registry.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.ThreadStatusError, th.Status)

	// errors are not sticky: a fresh run succeeds
	run2, _, err := env.sched.SubmitAndWait(ctx, SubmitRequest{ThreadID: "t1", TargetID: "echo"})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusSuccess, run2.Status)
}

func TestScheduler_CooperativeInterruptPause(t *testing.T) {
	env := newTestScheduler(t, Options{})
	ctx := waitCtx(t)
	env.newThread(t, "t1")

	env.sched.Register("pauser", ComputationFunc(func(ctx context.Context, rc *RunContext) (types.Document, error) {
		if err := rc.Checkpoint(ctx, types.Document{"stage": "half"}, []string{"resume_here"}); err != nil {
			return nil, err
		}
		return nil, ErrInterrupt
	}))

	run, _, err := env.sched.SubmitAndWait(ctx, SubmitRequest{ThreadID: "t1", TargetID: "pauser"})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusInterrupted, run.Status)
	assert.Empty(t, run.Error)

	th, err := env.registry.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.ThreadStatusInterrupted, th.Status)

	// a later run resumes the paused thread from the persisted state
	run2, values, err := env.sched.SubmitAndWait(ctx, SubmitRequest{ThreadID: "t1", TargetID: "echo"})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusSuccess, run2.Status)
	assert.Equal(t, "half", values["stage"])
}

func TestScheduler_CancelActiveRun(t *testing.T) {
	env := newTestScheduler(t, Options{})
	ctx := waitCtx(t)
	env.newThread(t, "t1")

	started := make(chan string, 1)
	env.sched.Register("looper", looper(started))

	r1, err := env.sched.Submit(ctx, SubmitRequest{ThreadID: "t1", TargetID: "looper"})
	require.NoError(t, err)
	<-started

	got, err := env.sched.Cancel(ctx, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusInterrupted, got.Status)
	assert.Equal(t, "cancelled by caller", got.Error)

	// a deliberate cancellation is not a failure
	th, err := env.registry.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.ThreadStatusIdle, th.Status)
}

func TestScheduler_CancelTerminalIsNoop(t *testing.T) {
	env := newTestScheduler(t, Options{})
	ctx := waitCtx(t)
	env.newThread(t, "t1")

	run, _, err := env.sched.SubmitAndWait(ctx, SubmitRequest{ThreadID: "t1", TargetID: "echo"})
	require.NoError(t, err)
	require.Equal(t, types.RunStatusSuccess, run.Status)

	got, err := env.sched.Cancel(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusSuccess, got.Status)
}

func TestScheduler_CancelQueuedRun(t *testing.T) {
	env := newTestScheduler(t, Options{})
	ctx := waitCtx(t)
	env.newThread(t, "t1")

	started := make(chan string, 1)
	release := make(chan struct{})
	env.sched.Register("gated", gated(started, release))

	_, err := env.sched.Submit(ctx, SubmitRequest{ThreadID: "t1", TargetID: "gated"})
	require.NoError(t, err)
	<-started

	queued, err := env.sched.Submit(ctx, SubmitRequest{ThreadID: "t1", TargetID: "echo", Policy: types.ConflictEnqueue})
	require.NoError(t, err)

	got, err := env.sched.Cancel(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusInterrupted, got.Status)

	close(release)
}

func TestScheduler_BranchingFork(t *testing.T) {
	env := newTestScheduler(t, Options{})
	ctx := waitCtx(t)
	env.newThread(t, "t1")

	ref1, err := env.registry.UpdateState(ctx, "t1", types.Document{"v": float64(1)}, "seed")
	require.NoError(t, err)
	_, err = env.registry.UpdateState(ctx, "t1", types.Document{"v": float64(2)}, "seed")
	require.NoError(t, err)

	// fork from the older checkpoint
	run, values, err := env.sched.SubmitAndWait(ctx, SubmitRequest{
		ThreadID:     "t1",
		TargetID:     "forker",
		CheckpointID: ref1.ID,
	})
	require.Error(t, err) // unknown target rejected before anything persists
	assert.Nil(t, run)
	assert.Nil(t, values)

	env.sched.Register("forker", ComputationFunc(func(ctx context.Context, rc *RunContext) (types.Document, error) {
		if err := rc.Checkpoint(ctx, types.Document{"branch": true}, []string{}); err != nil {
			return nil, err
		}
		return nil, nil
	}))

	run, values, err = env.sched.SubmitAndWait(ctx, SubmitRequest{
		ThreadID:     "t1",
		TargetID:     "forker",
		CheckpointID: ref1.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusSuccess, run.Status)

	// the fork saw the ancestor's state, not the later one
	assert.Equal(t, float64(1), values["v"])

	// the new tip is a sibling branch rooted at the fork point
	tip, err := env.registry.Latest(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, tip)
	assert.Equal(t, true, tip.Values["branch"])
	assert.Equal(t, ref1.ID, tip.ParentID)

	// submitting against a nonexistent fork point fails up front
	_, err = env.sched.Submit(ctx, SubmitRequest{ThreadID: "t1", TargetID: "forker", CheckpointID: "ghost"})
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestScheduler_StatelessRunDelete(t *testing.T) {
	env := newTestScheduler(t, Options{})
	ctx := waitCtx(t)

	run, values, err := env.sched.SubmitAndWait(ctx, SubmitRequest{
		TargetID: "echo",
		Input:    types.Document{"payload": "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusSuccess, run.Status)
	assert.Equal(t, "x", values["payload"])

	// default on_completion discards all trace of the run
	_, err = env.sched.Get(ctx, run.ID)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestScheduler_StatelessRunKeep(t *testing.T) {
	env := newTestScheduler(t, Options{})
	ctx := waitCtx(t)

	run, _, err := env.sched.SubmitAndWait(ctx, SubmitRequest{
		TargetID:     "echo",
		Input:        types.Document{"payload": "kept"},
		OnCompletion: types.OnCompletionKeep,
	})
	require.NoError(t, err)
	require.Equal(t, types.RunStatusSuccess, run.Status)

	threads, err := env.registry.Search(ctx, thread.SearchQuery{
		Metadata: types.Document{"stateless_run_id": run.ID},
	})
	require.NoError(t, err)
	require.Len(t, threads, 1)

	st, err := env.registry.State(ctx, threads[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "kept", st.Values["payload"])
}

func TestScheduler_ThreadDeleteCancelsQueuedRuns(t *testing.T) {
	env := newTestScheduler(t, Options{})
	ctx := waitCtx(t)
	env.newThread(t, "t1")

	started := make(chan string, 1)
	release := make(chan struct{})
	defer close(release)
	env.sched.Register("gated", gated(started, release))

	active, err := env.sched.Submit(ctx, SubmitRequest{ThreadID: "t1", TargetID: "gated"})
	require.NoError(t, err)
	<-started

	queued, err := env.sched.Submit(ctx, SubmitRequest{ThreadID: "t1", TargetID: "echo", Policy: types.ConflictEnqueue})
	require.NoError(t, err)

	require.NoError(t, env.registry.Delete(ctx, "t1"))

	qFinal, _, err := env.sched.Wait(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusError, qFinal.Status)
	assert.Contains(t, qFinal.Error, "deleted")

	aFinal, _, err := env.sched.Wait(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusInterrupted, aFinal.Status)

	// run records are purged with the thread
	runs, err := env.sched.List(ctx, RunQuery{ThreadID: "t1"})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestScheduler_ListRuns(t *testing.T) {
	env := newTestScheduler(t, Options{})
	ctx := waitCtx(t)
	env.newThread(t, "t1")
	env.newThread(t, "t2")

	for i := 0; i < 3; i++ {
		_, _, err := env.sched.SubmitAndWait(ctx, SubmitRequest{ThreadID: "t1", TargetID: "echo"})
		require.NoError(t, err)
	}
	_, _, err := env.sched.SubmitAndWait(ctx, SubmitRequest{ThreadID: "t2", TargetID: "echo"})
	require.NoError(t, err)

	runs, err := env.sched.List(ctx, RunQuery{ThreadID: "t1", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	runs, err = env.sched.List(ctx, RunQuery{ThreadID: "t1", Status: types.RunStatusSuccess, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	_, err = env.sched.List(ctx, RunQuery{Status: "weird"})
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}

func TestScheduler_SerialLaneInvariant(t *testing.T) {
	env := newTestScheduler(t, Options{})
	ctx := waitCtx(t)
	env.newThread(t, "t1")

	var concurrent, peak int
	var mu sync.Mutex
	env.sched.Register("tracker", ComputationFunc(func(ctx context.Context, rc *RunContext) (types.Document, error) {
		mu.Lock()
		concurrent++
		if concurrent > peak {
			peak = concurrent
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		concurrent--
		mu.Unlock()
		return nil, nil
	}))

	var ids []string
	for i := 0; i < 5; i++ {
		run, err := env.sched.Submit(ctx, SubmitRequest{ThreadID: "t1", TargetID: "tracker", Policy: types.ConflictEnqueue})
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}
	for _, id := range ids {
		_, _, err := env.sched.Wait(ctx, id)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, peak, "runs on one thread must never overlap")
}

func TestScheduler_ParallelThreads(t *testing.T) {
	env := newTestScheduler(t, Options{})
	ctx := waitCtx(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("t%d", i)
		env.newThread(t, id)
		wg.Add(1)
		go func() {
			defer wg.Done()
			run, _, err := env.sched.SubmitAndWait(ctx, SubmitRequest{ThreadID: id, TargetID: "echo"})
			if err != nil {
				errs <- err
				return
			}
			if run.Status != types.RunStatusSuccess {
				errs <- fmt.Errorf("run on %s finished %s", id, run.Status)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestScheduler_RetentionSweep(t *testing.T) {
	env := newTestScheduler(t, Options{})
	ctx := waitCtx(t)
	env.newThread(t, "t1")

	run, _, err := env.sched.SubmitAndWait(ctx, SubmitRequest{ThreadID: "t1", TargetID: "echo"})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	env.sched.sweepRetention(ctx, time.Nanosecond)

	_, err = env.sched.Get(ctx, run.ID)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestScheduler_Stats(t *testing.T) {
	env := newTestScheduler(t, Options{})
	ctx := waitCtx(t)
	env.newThread(t, "t1")

	started := make(chan string, 1)
	release := make(chan struct{})
	env.sched.Register("gated", gated(started, release))

	_, err := env.sched.Submit(ctx, SubmitRequest{ThreadID: "t1", TargetID: "gated"})
	require.NoError(t, err)
	<-started
	_, err = env.sched.Submit(ctx, SubmitRequest{ThreadID: "t1", TargetID: "echo", Policy: types.ConflictEnqueue})
	require.NoError(t, err)

	st := env.sched.Stats()
	assert.Equal(t, 1, st.ActiveRuns)
	assert.Equal(t, 1, st.QueuedRuns)

	close(release)
}

func TestScheduler_EnqueuedRunKeepsTimeout(t *testing.T) {
	env := newTestScheduler(t, Options{})
	ctx := waitCtx(t)
	env.newThread(t, "t1")

	started := make(chan string, 1)
	release := make(chan struct{})
	env.sched.Register("gated", gated(started, release))

	// ignores cancellation entirely
	env.sched.Register("stubborn", ComputationFunc(func(ctx context.Context, rc *RunContext) (types.Document, error) {
		time.Sleep(500 * time.Millisecond)
		return types.Document{"late": true}, nil
	}))

	_, err := env.sched.Submit(ctx, SubmitRequest{ThreadID: "t1", TargetID: "gated"})
	require.NoError(t, err)
	<-started

	queued, err := env.sched.Submit(ctx, SubmitRequest{
		ThreadID: "t1",
		TargetID: "stubborn",
		Policy:   types.ConflictEnqueue,
		Timeout:  30 * time.Millisecond,
	})
	require.NoError(t, err)

	close(release)

	run, _, err := env.sched.Wait(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusTimeout, run.Status, "the submission's deadline must survive the queue")
}

func TestScheduler_WaitContextErrorCodes(t *testing.T) {
	env := newTestScheduler(t, Options{})
	ctx := waitCtx(t)
	env.newThread(t, "t1")

	started := make(chan string, 1)
	release := make(chan struct{})
	env.sched.Register("gated", gated(started, release))

	run, err := env.sched.Submit(ctx, SubmitRequest{ThreadID: "t1", TargetID: "gated"})
	require.NoError(t, err)
	<-started

	// A caller abandoning its own wait is a cancellation, not a deadline.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = env.sched.Wait(cancelled, run.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrCancelled, types.GetErrorCode(err))

	expired, cancelExpired := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancelExpired()
	_, _, err = env.sched.Wait(expired, run.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))

	// Neither failed wait disturbed the run.
	close(release)
	final, _, err := env.sched.Wait(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusSuccess, final.Status)
}
