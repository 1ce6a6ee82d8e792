package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/checkpoint"
	"github.com/BaSui01/stateflow/thread"
	"github.com/BaSui01/stateflow/types"
)

// DefaultRunTimeout is the hard deadline applied when a submission does not
// specify one.
const DefaultRunTimeout = 5 * time.Minute

// DefaultMaxQueueDepth bounds the per-thread enqueue queue.
const DefaultMaxQueueDepth = 64

// Options configures a Scheduler.
type Options struct {
	// DefaultTimeout is the hard run deadline when the submission carries
	// none. Zero means DefaultRunTimeout.
	DefaultTimeout time.Duration

	// MaxQueueDepth bounds each thread's enqueue queue. Zero means
	// DefaultMaxQueueDepth; negative means unbounded.
	MaxQueueDepth int
}

// SubmitRequest describes one run submission.
type SubmitRequest struct {
	// ThreadID is the target thread. Empty submits a stateless run.
	ThreadID string

	// TargetID names the registered computation to execute.
	TargetID string

	// Input is the caller-supplied input payload.
	Input types.Document

	// Policy resolves a collision with an active run. Default reject.
	Policy types.ConflictPolicy

	// Timeout is the hard deadline for this run. Zero uses the default.
	Timeout time.Duration

	// WebhookURL, when set, receives an at-least-once completion callback.
	WebhookURL string

	// OnCompletion applies to stateless runs only. Default delete.
	OnCompletion types.OnCompletion

	// CheckpointID forks execution from that ancestor checkpoint instead of
	// the thread's latest.
	CheckpointID string
}

// Stats is a point-in-time snapshot of scheduler load.
type Stats struct {
	ActiveRuns int
	QueuedRuns int
	Lanes      int
}

// cancelError is the cancellation cause delivered to a run's context. It
// distinguishes cooperative cancellation from the hard deadline.
type cancelError struct {
	policy   types.ConflictPolicy
	explicit bool
}

func (e *cancelError) Error() string {
	if e.explicit {
		return "cancelled by caller"
	}
	return fmt.Sprintf("cancelled by %s policy", e.policy)
}

// activeRun holds the execution slot of one run.
type activeRun struct {
	run    *types.Run
	base   string // thread's latest checkpoint id when the run started
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// queuedRun is one waiting lane entry. The submission's timeout travels with
// the run so the hard deadline survives the queue.
type queuedRun struct {
	run     *types.Run
	timeout time.Duration
}

// lane is one thread's serial execution lane. All lane state is guarded by
// the scheduler's laneMu.
type lane struct {
	slot  *activeRun
	queue []queuedRun
}

// completion tracks a run's terminal outcome for waiters.
type completion struct {
	ch     chan struct{}
	mu     sync.Mutex
	run    *types.Run
	values types.Document
	doneAt time.Time
}

// Scheduler enforces at most one actively executing run per thread and
// resolves conflicting submissions by policy.
type Scheduler struct {
	registry *thread.Registry
	runs     RunStore
	targets  *TargetRegistry
	webhooks *WebhookNotifier
	logger   *zap.Logger

	defaultTimeout time.Duration
	maxQueueDepth  int

	laneMu sync.Mutex
	lanes  map[string]*lane

	statelessMu sync.Mutex
	stateless   map[string]*activeRun

	compMu      sync.Mutex
	completions map[string]*completion

	retainStop chan struct{}
	retainOnce sync.Once

	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates a scheduler. The webhook notifier may be nil when callbacks are
// not needed.
func New(registry *thread.Registry, runs RunStore, webhooks *WebhookNotifier, logger *zap.Logger, opts Options) *Scheduler {
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	depth := opts.MaxQueueDepth
	if depth == 0 {
		depth = DefaultMaxQueueDepth
	}

	s := &Scheduler{
		registry:       registry,
		runs:           runs,
		targets:        NewTargetRegistry(),
		webhooks:       webhooks,
		logger:         logger.With(zap.String("component", "scheduler")),
		defaultTimeout: timeout,
		maxQueueDepth:  depth,
		lanes:          make(map[string]*lane),
		stateless:      make(map[string]*activeRun),
		completions:    make(map[string]*completion),
		retainStop:     make(chan struct{}),
	}
	registry.AddDeleteHook(s.onThreadDelete)
	return s
}

// Register binds a computation to a target id.
func (s *Scheduler) Register(targetID string, comp Computation) {
	s.targets.Register(targetID, comp)
}

// Submit accepts a run and returns its record immediately. Completion is
// observable via Wait, Get, or the submission's webhook.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (*types.Run, error) {
	if s.closed.Load() {
		return nil, types.NewError(types.ErrInternal, "scheduler is shut down")
	}

	policy := req.Policy
	if policy == "" {
		policy = types.ConflictReject
	}
	if !policy.Valid() {
		return nil, types.NewErrorf(types.ErrValidation, "invalid concurrency policy %q", req.Policy).
			WithHTTPStatus(http.StatusUnprocessableEntity)
	}
	if _, ok := s.targets.Get(req.TargetID); !ok {
		return nil, types.NewErrorf(types.ErrValidation, "unknown target %q", req.TargetID).
			WithHTTPStatus(http.StatusUnprocessableEntity)
	}

	if req.ThreadID == "" {
		return s.submitStateless(ctx, req)
	}
	return s.submitThreadBound(ctx, req, policy)
}

// SubmitAndWait submits a run and blocks until it reaches a terminal status,
// returning the final run record and state values.
func (s *Scheduler) SubmitAndWait(ctx context.Context, req SubmitRequest) (*types.Run, types.Document, error) {
	run, err := s.Submit(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return s.Wait(ctx, run.ID)
}

// Wait blocks until the run reaches a terminal status and returns the final
// record with its final state values.
func (s *Scheduler) Wait(ctx context.Context, runID string) (*types.Run, types.Document, error) {
	s.compMu.Lock()
	comp, ok := s.completions[runID]
	s.compMu.Unlock()

	if !ok {
		// Not tracked in this process: only terminal records can answer.
		run, err := s.Get(ctx, runID)
		if err != nil {
			return nil, nil, err
		}
		if !run.IsTerminal() {
			return nil, nil, types.NewErrorf(types.ErrInternal, "run %q is not tracked by this scheduler", runID)
		}
		return run, nil, nil
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, nil, types.NewError(types.ErrTimeout, "wait deadline exceeded").WithCause(ctx.Err())
		}
		return nil, nil, types.NewError(types.ErrCancelled, "wait cancelled by caller").WithCause(ctx.Err())
	case <-comp.ch:
	}

	comp.mu.Lock()
	defer comp.mu.Unlock()
	return copyRun(comp.run), comp.values.Clone(), nil
}

// Get returns a run record.
func (s *Scheduler) Get(ctx context.Context, runID string) (*types.Run, error) {
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			return nil, types.NewErrorf(types.ErrNotFound, "run %q not found", runID).
				WithHTTPStatus(http.StatusNotFound)
		}
		return nil, types.NewError(types.ErrInternal, "run store failure").WithCause(err)
	}
	return run, nil
}

// List returns run records matching the query, newest first.
func (s *Scheduler) List(ctx context.Context, query RunQuery) ([]*types.Run, error) {
	if query.Status != "" && !query.Status.IsTerminal() &&
		query.Status != types.RunStatusPending && query.Status != types.RunStatusRunning {
		return nil, types.NewErrorf(types.ErrValidation, "invalid run status %q", query.Status).
			WithHTTPStatus(http.StatusUnprocessableEntity)
	}
	runs, err := s.runs.List(ctx, query)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "run listing failed").WithCause(err)
	}
	return runs, nil
}

// Cancel cancels a run cooperatively and blocks until its slot is released.
// Cancelling an already-terminal run returns the run unchanged, never an
// error.
func (s *Scheduler) Cancel(ctx context.Context, runID string) (*types.Run, error) {
	run, err := s.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.IsTerminal() {
		return run, nil
	}

	cause := &cancelError{explicit: true}

	if run.Stateless() {
		s.statelessMu.Lock()
		act, active := s.stateless[runID]
		s.statelessMu.Unlock()
		if active {
			act.cancel(cause)
			<-act.done
		}
		return s.finalRun(ctx, runID)
	}

	s.laneMu.Lock()
	ln := s.lanes[run.ThreadID]
	var act *activeRun
	var dequeued *types.Run
	if ln != nil {
		dequeued = removeQueued(ln, runID)
		if dequeued == nil && ln.slot != nil && ln.slot.run.ID == runID {
			act = ln.slot
		}
	}
	s.laneMu.Unlock()

	if dequeued != nil {
		s.finishDetached(dequeued, types.RunStatusInterrupted, cause.Error())
	} else if act != nil {
		act.cancel(cause)
		<-act.done
	}
	return s.finalRun(ctx, runID)
}

// Stats returns a snapshot of scheduler load.
func (s *Scheduler) Stats() Stats {
	var st Stats

	s.laneMu.Lock()
	st.Lanes = len(s.lanes)
	for _, ln := range s.lanes {
		if ln.slot != nil {
			st.ActiveRuns++
		}
		st.QueuedRuns += len(ln.queue)
	}
	s.laneMu.Unlock()

	s.statelessMu.Lock()
	st.ActiveRuns += len(s.stateless)
	s.statelessMu.Unlock()
	return st
}

// StartRetention launches the background sweep that removes terminal run
// records and completion entries older than age.
func (s *Scheduler) StartRetention(interval, age time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweepRetention(context.Background(), age)
			case <-s.retainStop:
				return
			}
		}
	}()
}

func (s *Scheduler) sweepRetention(ctx context.Context, age time.Duration) {
	cutoff := time.Now().Add(-age)

	removed, err := s.runs.Cleanup(ctx, cutoff)
	if err != nil {
		s.logger.Warn("run retention sweep failed", zap.Error(err))
	} else if removed > 0 {
		s.logger.Info("run records cleaned up", zap.Int("removed", removed))
	}

	s.compMu.Lock()
	for id, comp := range s.completions {
		comp.mu.Lock()
		expired := !comp.doneAt.IsZero() && comp.doneAt.Before(cutoff)
		comp.mu.Unlock()
		if expired {
			delete(s.completions, id)
		}
	}
	s.compMu.Unlock()
}

// Shutdown cancels every active run cooperatively and waits for lanes to
// drain, bounded by ctx.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.closed.Store(true)
	s.retainOnce.Do(func() { close(s.retainStop) })

	cause := &cancelError{explicit: true}
	var queued []queuedRun

	s.laneMu.Lock()
	for _, ln := range s.lanes {
		queued = append(queued, ln.queue...)
		ln.queue = nil
		if ln.slot != nil {
			ln.slot.cancel(cause)
		}
	}
	s.laneMu.Unlock()

	for _, entry := range queued {
		s.finishDetached(entry.run, types.RunStatusInterrupted, "scheduler shut down")
	}

	s.statelessMu.Lock()
	for _, act := range s.stateless {
		act.cancel(cause)
	}
	s.statelessMu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		return ctx.Err()
	}

	if s.webhooks != nil {
		s.webhooks.Close()
	}
	return nil
}

func (s *Scheduler) submitThreadBound(ctx context.Context, req SubmitRequest, policy types.ConflictPolicy) (*types.Run, error) {
	th, err := s.registry.Get(ctx, req.ThreadID)
	if err != nil {
		return nil, err
	}
	if req.CheckpointID != "" {
		if _, err := s.registry.Log().Get(ctx, req.ThreadID, req.CheckpointID); err != nil {
			if errors.Is(err, checkpoint.ErrNotFound) {
				return nil, types.NewErrorf(types.ErrNotFound, "checkpoint %q not found", req.CheckpointID).
					WithHTTPStatus(http.StatusNotFound)
			}
			return nil, types.NewError(types.ErrInternal, "checkpoint lookup failed").WithCause(err)
		}
	}

	s.laneMu.Lock()
	ln, ok := s.lanes[th.ID]
	if !ok {
		ln = &lane{}
		s.lanes[th.ID] = ln
	}

	if ln.slot == nil {
		run, err := s.newRun(ctx, req, policy)
		if err != nil {
			s.laneMu.Unlock()
			return nil, err
		}
		s.startLocked(ln, run, req.Timeout)
		s.laneMu.Unlock()
		return run, nil
	}

	switch policy {
	case types.ConflictReject:
		activeID := ln.slot.run.ID
		s.laneMu.Unlock()
		return nil, types.NewErrorf(types.ErrConflict, "run %q is already active on thread %q", activeID, req.ThreadID).
			WithHTTPStatus(http.StatusConflict)

	case types.ConflictEnqueue:
		if s.maxQueueDepth > 0 && len(ln.queue) >= s.maxQueueDepth {
			s.laneMu.Unlock()
			return nil, types.NewErrorf(types.ErrConflict, "thread %q run queue is full", req.ThreadID).
				WithHTTPStatus(http.StatusConflict)
		}
		run, err := s.newRun(ctx, req, policy)
		if err != nil {
			s.laneMu.Unlock()
			return nil, err
		}
		ln.queue = append(ln.queue, queuedRun{run: run, timeout: req.Timeout})
		s.laneMu.Unlock()
		return run, nil

	default: // interrupt, rollback
		run, err := s.newRun(ctx, req, policy)
		if err != nil {
			s.laneMu.Unlock()
			return nil, err
		}
		// The preempting run jumps the queue: it must start the instant
		// the cancelled run yields its slot.
		ln.queue = append([]queuedRun{{run: run, timeout: req.Timeout}}, ln.queue...)
		act := ln.slot
		s.laneMu.Unlock()

		act.cancel(&cancelError{policy: policy})
		return run, nil
	}
}

func (s *Scheduler) submitStateless(ctx context.Context, req SubmitRequest) (*types.Run, error) {
	onCompletion := req.OnCompletion
	if onCompletion == "" {
		onCompletion = types.OnCompletionDelete
	}
	if !onCompletion.Valid() {
		return nil, types.NewErrorf(types.ErrValidation, "invalid on_completion value %q", req.OnCompletion).
			WithHTTPStatus(http.StatusUnprocessableEntity)
	}

	run := &types.Run{
		ID:           uuid.New().String(),
		TargetID:     req.TargetID,
		Status:       types.RunStatusPending,
		Policy:       types.ConflictReject,
		Input:        req.Input.Clone(),
		WebhookURL:   req.WebhookURL,
		OnCompletion: onCompletion,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to record run").WithCause(err)
	}
	s.trackCompletion(run.ID)

	act := s.newActive(run, req.Timeout)
	s.statelessMu.Lock()
	s.stateless[run.ID] = act
	s.statelessMu.Unlock()

	return run, nil
}

func (s *Scheduler) newRun(ctx context.Context, req SubmitRequest, policy types.ConflictPolicy) (*types.Run, error) {
	run := &types.Run{
		ID:           uuid.New().String(),
		ThreadID:     req.ThreadID,
		TargetID:     req.TargetID,
		Status:       types.RunStatusPending,
		Policy:       policy,
		Input:        req.Input.Clone(),
		WebhookURL:   req.WebhookURL,
		CheckpointID: req.CheckpointID,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to record run").WithCause(err)
	}
	s.trackCompletion(run.ID)
	return run, nil
}

// startLocked claims the lane's slot for the run. Caller holds laneMu.
func (s *Scheduler) startLocked(ln *lane, run *types.Run, timeout time.Duration) {
	ln.slot = s.newActive(run, timeout)
}

// newActive builds the run's execution slot with its contexts wired, then
// launches the run. The cancel func is set before the goroutine starts so a
// preempting submission can never observe a nil cancel.
func (s *Scheduler) newActive(run *types.Run, timeout time.Duration) *activeRun {
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}

	baseCtx, cancelTimeout := context.WithTimeout(context.Background(), timeout)
	ctx, cancel := context.WithCancelCause(baseCtx)

	act := &activeRun{
		run:    copyRun(run),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancelTimeout()
		defer cancel(nil)
		s.execute(ctx, act, timeout)
	}()
	return act
}

// execute drives one run to a terminal status and releases its slot.
func (s *Scheduler) execute(ctx context.Context, act *activeRun, timeout time.Duration) {
	run := act.run

	startValues, parentID, err := s.prepare(ctx, run)
	if err != nil {
		s.finish(act, types.RunStatusError, err.Error(), nil, nil)
		return
	}
	act.base = parentID
	if run.CheckpointID != "" {
		// Forked runs branch from the chosen ancestor; rollback still
		// reverts to the thread's pre-run tip.
		if th, gerr := s.registry.Get(ctx, run.ThreadID); gerr == nil {
			act.base = th.LatestCheckpointID
		}
	}

	run.Status = types.RunStatusRunning
	if err := s.runs.Update(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Warn("failed to mark run running", zap.String("run_id", run.ID), zap.Error(err))
	}
	if !run.Stateless() {
		if err := s.registry.SetStatus(ctx, run.ThreadID, types.ThreadStatusBusy); err != nil {
			s.finish(act, types.RunStatusError, err.Error(), nil, nil)
			return
		}
	}

	comp, ok := s.targets.Get(run.TargetID)
	if !ok {
		s.finish(act, types.RunStatusError, fmt.Sprintf("unknown target %q", run.TargetID), nil, nil)
		return
	}

	rc := &RunContext{run: run, values: startValues}
	if !run.Stateless() {
		step := 0
		parent := parentID
		rc.persist = func(pctx context.Context, values types.Document, next []string) error {
			step++
			cp := &types.Checkpoint{
				ThreadID: run.ThreadID,
				Values:   values,
				Next:     next,
				ParentID: parent,
				Metadata: types.Document{
					"source": "loop",
					"step":   step,
					"run_id": run.ID,
				},
			}
			if err := s.registry.AppendCheckpoint(pctx, cp); err != nil {
				return err
			}
			parent = cp.ID
			return nil
		}
	}

	s.logger.Info("run started",
		zap.String("run_id", run.ID),
		zap.String("thread_id", run.ThreadID),
		zap.String("target_id", run.TargetID),
		zap.Duration("timeout", timeout),
	)

	type execResult struct {
		values types.Document
		err    error
	}
	resCh := make(chan execResult, 1)
	go func() {
		values, execErr := comp.Execute(ctx, rc)
		resCh <- execResult{values: values, err: execErr}
	}()

	var res execResult
	select {
	case res = <-resCh:
	case <-ctx.Done():
		var ce *cancelError
		if !errors.As(context.Cause(ctx), &ce) {
			// Hard deadline: preempt the slot regardless of cooperation.
			s.finish(act, types.RunStatusTimeout, "run deadline exceeded", rc.Values(), nil)
			return
		}
		// Cooperative: wait for the computation to yield at its next
		// checkpoint boundary.
		res = <-resCh
	}

	var ce *cancelError
	if errors.As(context.Cause(ctx), &ce) || errors.As(res.err, &ce) {
		s.finish(act, types.RunStatusInterrupted, ce.Error(), rc.Values(), ce)
		return
	}

	switch {
	case res.err == nil:
		final := rc.Values().Merge(res.values)
		s.finish(act, types.RunStatusSuccess, "", final, nil)
	case errors.Is(res.err, ErrInterrupt):
		s.finish(act, types.RunStatusInterrupted, "", rc.Values(), nil)
	case errors.Is(res.err, context.DeadlineExceeded):
		s.finish(act, types.RunStatusTimeout, "run deadline exceeded", rc.Values(), nil)
	default:
		s.finish(act, types.RunStatusError, res.err.Error(), rc.Values(), nil)
	}
}

// prepare resolves the run's starting values and parent checkpoint.
func (s *Scheduler) prepare(ctx context.Context, run *types.Run) (types.Document, string, error) {
	if run.Stateless() {
		return run.Input.Clone(), "", nil
	}

	if run.CheckpointID != "" {
		cp, err := s.registry.Log().Get(ctx, run.ThreadID, run.CheckpointID)
		if err != nil {
			return nil, "", fmt.Errorf("fork checkpoint lookup failed: %w", err)
		}
		return cp.Values.Clone(), cp.ID, nil
	}

	latest, err := s.registry.Latest(ctx, run.ThreadID)
	if err != nil {
		return nil, "", err
	}
	if latest == nil {
		return types.Document{}, "", nil
	}
	return latest.Values.Clone(), latest.ID, nil
}

// finish records the run's terminal status, updates thread status, notifies
// waiters and webhooks, and releases the lane slot.
func (s *Scheduler) finish(act *activeRun, status types.RunStatus, message string, finalValues types.Document, cause *cancelError) {
	run := act.run
	ctx := context.Background()

	run.Status = status
	run.Error = message
	if err := s.runs.Update(ctx, run); err != nil && !errors.Is(err, ErrRunNotFound) {
		s.logger.Warn("failed to record terminal run status", zap.String("run_id", run.ID), zap.Error(err))
	}

	if run.Stateless() {
		s.finishStateless(ctx, run, status, finalValues)
	} else {
		s.finishThreadBound(ctx, act, status, cause)
	}

	s.logger.Info("run finished",
		zap.String("run_id", run.ID),
		zap.String("thread_id", run.ThreadID),
		zap.String("status", string(status)),
		zap.String("error", message),
	)

	s.resolveCompletion(run, finalValues)
	close(act.done)

	if run.WebhookURL != "" && s.webhooks != nil {
		s.webhooks.Notify(copyRun(run))
	}

	if !run.Stateless() {
		s.release(run.ThreadID)
	}
}

func (s *Scheduler) finishThreadBound(ctx context.Context, act *activeRun, status types.RunStatus, cause *cancelError) {
	run := act.run

	if cause != nil && cause.policy == types.ConflictRollback {
		// Revert the tip to the pre-run checkpoint. The cancelled run's
		// partial checkpoints stay in history.
		if err := s.registry.SetLatest(ctx, run.ThreadID, act.base); err != nil {
			if types.GetErrorCode(err) != types.ErrNotFound {
				s.logger.Warn("rollback pointer reversion failed",
					zap.String("thread_id", run.ThreadID),
					zap.Error(err),
				)
			}
		}
	}

	var threadStatus types.ThreadStatus
	switch status {
	case types.RunStatusSuccess:
		threadStatus = types.ThreadStatusIdle
	case types.RunStatusInterrupted:
		if cause == nil && run.Error == "" {
			// Computation-initiated pause awaiting external input.
			threadStatus = types.ThreadStatusInterrupted
		} else {
			// A deliberate cancellation is not a failure.
			threadStatus = types.ThreadStatusIdle
		}
	default: // timeout, error
		threadStatus = types.ThreadStatusError
	}

	if err := s.registry.SetStatus(ctx, run.ThreadID, threadStatus); err != nil {
		if types.GetErrorCode(err) != types.ErrNotFound {
			s.logger.Warn("thread status update failed",
				zap.String("thread_id", run.ThreadID),
				zap.Error(err),
			)
		}
	}
}

func (s *Scheduler) finishStateless(ctx context.Context, run *types.Run, status types.RunStatus, finalValues types.Document) {
	s.statelessMu.Lock()
	delete(s.stateless, run.ID)
	s.statelessMu.Unlock()

	switch {
	case run.OnCompletion == types.OnCompletionKeep && status == types.RunStatusSuccess:
		th, err := s.registry.Create(ctx, thread.CreateOptions{
			Metadata: types.Document{"stateless_run_id": run.ID},
		})
		if err != nil {
			s.logger.Warn("failed to materialize stateless run thread", zap.String("run_id", run.ID), zap.Error(err))
			return
		}
		cp := &types.Checkpoint{ThreadID: th.ID, Values: finalValues, Next: []string{}}
		if err := s.registry.AppendCheckpoint(ctx, cp); err != nil {
			s.logger.Warn("failed to persist stateless run values", zap.String("run_id", run.ID), zap.Error(err))
		}
	case run.OnCompletion == types.OnCompletionKeep:
		// Failed keep runs leave only the run record.
	default:
		if err := s.runs.Delete(ctx, run.ID); err != nil {
			s.logger.Warn("failed to discard stateless run record", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
}

// release frees the lane's slot and starts the queue head, if any.
func (s *Scheduler) release(threadID string) {
	s.laneMu.Lock()
	defer s.laneMu.Unlock()

	ln, ok := s.lanes[threadID]
	if !ok {
		return
	}
	ln.slot = nil

	if s.closed.Load() || len(ln.queue) == 0 {
		return
	}
	next := ln.queue[0]
	ln.queue = ln.queue[1:]
	s.startLocked(ln, next.run, next.timeout)
}

// finishDetached terminates a run that never claimed an execution slot.
func (s *Scheduler) finishDetached(run *types.Run, status types.RunStatus, message string) {
	ctx := context.Background()
	run.Status = status
	run.Error = message
	if err := s.runs.Update(ctx, run); err != nil && !errors.Is(err, ErrRunNotFound) {
		s.logger.Warn("failed to record cancelled queued run", zap.String("run_id", run.ID), zap.Error(err))
	}
	s.resolveCompletion(run, nil)
	if run.WebhookURL != "" && s.webhooks != nil {
		s.webhooks.Notify(copyRun(run))
	}
}

// onThreadDelete is the registry delete hook: it cancels the thread's queued
// and active runs, then purges its run records.
func (s *Scheduler) onThreadDelete(ctx context.Context, threadID string) error {
	s.laneMu.Lock()
	ln, ok := s.lanes[threadID]
	var queued []queuedRun
	var act *activeRun
	if ok {
		queued = ln.queue
		ln.queue = nil
		act = ln.slot
		delete(s.lanes, threadID)
	}
	s.laneMu.Unlock()

	for _, entry := range queued {
		s.finishDetached(entry.run, types.RunStatusError, fmt.Sprintf("thread %q deleted", threadID))
	}
	if act != nil {
		act.cancel(&cancelError{explicit: true})
		<-act.done
	}

	return s.runs.DeleteByThread(ctx, threadID)
}

func (s *Scheduler) trackCompletion(runID string) {
	s.compMu.Lock()
	s.completions[runID] = &completion{ch: make(chan struct{})}
	s.compMu.Unlock()
}

func (s *Scheduler) resolveCompletion(run *types.Run, values types.Document) {
	s.compMu.Lock()
	comp, ok := s.completions[run.ID]
	s.compMu.Unlock()
	if !ok {
		return
	}
	comp.mu.Lock()
	comp.run = copyRun(run)
	comp.values = values.Clone()
	comp.doneAt = time.Now()
	comp.mu.Unlock()
	close(comp.ch)
}

// finalRun returns the terminal snapshot of a run, preferring the in-process
// completion record over the store so stateless delete runs stay observable.
func (s *Scheduler) finalRun(ctx context.Context, runID string) (*types.Run, error) {
	s.compMu.Lock()
	comp, ok := s.completions[runID]
	s.compMu.Unlock()
	if ok {
		select {
		case <-comp.ch:
			comp.mu.Lock()
			defer comp.mu.Unlock()
			return copyRun(comp.run), nil
		default:
		}
	}
	return s.Get(ctx, runID)
}

func removeQueued(ln *lane, runID string) *types.Run {
	for i, entry := range ln.queue {
		if entry.run.ID == runID {
			ln.queue = append(ln.queue[:i], ln.queue[i+1:]...)
			return entry.run
		}
	}
	return nil
}
