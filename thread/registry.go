package thread

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/checkpoint"
	"github.com/BaSui01/stateflow/types"
)

// DeleteHook runs before a thread's records are removed. The scheduler
// registers one to cancel queued runs and purge run records.
type DeleteHook func(ctx context.Context, threadID string) error

// CreateOptions configures thread creation.
type CreateOptions struct {
	// ID is the caller-supplied thread id. Generated when empty.
	ID string

	// Metadata is the initial metadata mapping.
	Metadata types.Document

	// IfExists governs duplicate-id handling. Default raise.
	IfExists types.IfExists

	// TTL is an optional time-to-live for the sweeper.
	TTL time.Duration
}

// Registry owns thread identity, metadata, status, and the pointer to the
// latest checkpoint.
type Registry struct {
	store  ThreadStore
	log    checkpoint.Log
	logger *zap.Logger

	hookMu      sync.RWMutex
	deleteHooks []DeleteHook

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// NewRegistry creates a thread registry over a record store and checkpoint log.
func NewRegistry(store ThreadStore, log checkpoint.Log, logger *zap.Logger) *Registry {
	return &Registry{
		store:     store,
		log:       log,
		logger:    logger.With(zap.String("component", "thread_registry")),
		sweepStop: make(chan struct{}),
	}
}

// AddDeleteHook registers a hook invoked on every thread deletion.
func (r *Registry) AddDeleteHook(hook DeleteHook) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.deleteHooks = append(r.deleteHooks, hook)
}

// Log exposes the underlying checkpoint log for history reads.
func (r *Registry) Log() checkpoint.Log { return r.log }

// Create creates a thread. With if_exists=do_nothing an existing thread is
// returned unchanged, making creation retry-safe.
func (r *Registry) Create(ctx context.Context, opts CreateOptions) (*types.Thread, error) {
	ifExists := opts.IfExists
	if ifExists == "" {
		ifExists = types.IfExistsRaise
	}
	if !ifExists.Valid() {
		return nil, types.NewErrorf(types.ErrValidation, "invalid if_exists value %q", opts.IfExists).
			WithHTTPStatus(http.StatusUnprocessableEntity)
	}

	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}

	t := &types.Thread{
		ID:       id,
		Metadata: opts.Metadata.Clone(),
		Status:   types.ThreadStatusIdle,
		TTL:      opts.TTL,
	}

	if err := r.store.Create(ctx, t); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			if ifExists == types.IfExistsDoNothing {
				return r.Get(ctx, id)
			}
			return nil, types.NewErrorf(types.ErrConflict, "thread %q already exists", id).
				WithHTTPStatus(http.StatusConflict)
		}
		return nil, types.NewError(types.ErrInternal, "failed to create thread").WithCause(err)
	}

	r.logger.Info("thread created",
		zap.String("thread_id", t.ID),
		zap.Duration("ttl", t.TTL),
	)
	return t, nil
}

// Get returns a thread with its latest values populated.
func (r *Registry) Get(ctx context.Context, id string) (*types.Thread, error) {
	t, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, r.wrapStoreErr(id, err)
	}
	if t.LatestCheckpointID != "" {
		cp, err := r.log.Get(ctx, id, t.LatestCheckpointID)
		if err == nil {
			t.Values = cp.Values
		} else if !errors.Is(err, checkpoint.ErrNotFound) {
			return nil, types.NewError(types.ErrInternal, "failed to load thread values").WithCause(err)
		}
	}
	return t, nil
}

// Patch merges metadata field-wise onto the thread. A null value for a key
// deletes that key; all other keys are preserved.
func (r *Registry) Patch(ctx context.Context, id string, metadata types.Document) (*types.Thread, error) {
	t, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, r.wrapStoreErr(id, err)
	}

	t.Metadata = t.Metadata.Merge(metadata)
	if err := r.store.Update(ctx, t); err != nil {
		return nil, r.wrapStoreErr(id, err)
	}
	return t, nil
}

// Delete removes a thread, cascading its checkpoints and run records.
// Irreversible.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if _, err := r.store.Get(ctx, id); err != nil {
		return r.wrapStoreErr(id, err)
	}

	r.hookMu.RLock()
	hooks := append([]DeleteHook(nil), r.deleteHooks...)
	r.hookMu.RUnlock()
	for _, hook := range hooks {
		if err := hook(ctx, id); err != nil {
			return types.NewError(types.ErrInternal, "thread delete hook failed").WithCause(err)
		}
	}

	if err := r.log.DeleteThread(ctx, id); err != nil {
		return types.NewError(types.ErrInternal, "failed to delete thread checkpoints").WithCause(err)
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return types.NewError(types.ErrInternal, "failed to delete thread").WithCause(err)
	}

	r.logger.Info("thread deleted", zap.String("thread_id", id))
	return nil
}

// Search returns threads matching the query.
func (r *Registry) Search(ctx context.Context, query SearchQuery) ([]*types.Thread, error) {
	if query.Status != "" && !query.Status.Valid() {
		return nil, types.NewErrorf(types.ErrValidation, "invalid status %q", query.Status).
			WithHTTPStatus(http.StatusUnprocessableEntity)
	}
	if query.SortBy != "" && !query.SortBy.Valid() {
		return nil, types.NewErrorf(types.ErrValidation, "invalid sort key %q", query.SortBy).
			WithHTTPStatus(http.StatusUnprocessableEntity)
	}

	threads, err := r.store.Search(ctx, query)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "thread search failed").WithCause(err)
	}
	return threads, nil
}

// SetStatus transitions the thread's status. Same-status writes are no-ops.
func (r *Registry) SetStatus(ctx context.Context, id string, status types.ThreadStatus) error {
	if !status.Valid() {
		return types.NewErrorf(types.ErrValidation, "invalid thread status %q", status)
	}

	t, err := r.store.Get(ctx, id)
	if err != nil {
		return r.wrapStoreErr(id, err)
	}
	if t.Status == status {
		return nil
	}
	if !t.Status.CanTransition(status) {
		return types.NewErrorf(types.ErrValidation, "invalid status transition %s -> %s", t.Status, status)
	}

	r.logger.Debug("thread status transition",
		zap.String("thread_id", id),
		zap.String("from", string(t.Status)),
		zap.String("to", string(status)),
	)

	t.Status = status
	if err := r.store.Update(ctx, t); err != nil {
		return r.wrapStoreErr(id, err)
	}
	return nil
}

// Latest returns the thread's current checkpoint tip, or nil when no
// checkpoint has been written yet.
func (r *Registry) Latest(ctx context.Context, id string) (*types.Checkpoint, error) {
	t, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, r.wrapStoreErr(id, err)
	}
	if t.LatestCheckpointID == "" {
		return nil, nil
	}
	cp, err := r.log.Get(ctx, id, t.LatestCheckpointID)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to load latest checkpoint").WithCause(err)
	}
	return cp, nil
}

// SetLatest moves the thread's latest-checkpoint pointer. An empty id resets
// the thread to its pre-first-checkpoint state; rollback uses this to discard
// an interrupted run's partial progress from the tip (the checkpoints stay in
// history).
func (r *Registry) SetLatest(ctx context.Context, id, checkpointID string) error {
	t, err := r.store.Get(ctx, id)
	if err != nil {
		return r.wrapStoreErr(id, err)
	}
	t.LatestCheckpointID = checkpointID
	if err := r.store.Update(ctx, t); err != nil {
		return r.wrapStoreErr(id, err)
	}
	return nil
}

// State returns the thread's externally visible state: latest checkpoint
// values, pending nodes, and chain position.
func (r *Registry) State(ctx context.Context, id string) (*types.ThreadState, error) {
	cp, err := r.Latest(ctx, id)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return &types.ThreadState{Values: types.Document{}, Next: []string{}}, nil
	}
	return &types.ThreadState{
		Values:           cp.Values,
		Next:             cp.Next,
		Checkpoint:       cp.Ref(),
		Metadata:         cp.Metadata,
		CreatedAt:        cp.CreatedAt,
		ParentCheckpoint: cp.ParentRef(),
	}, nil
}

// UpdateState injects state directly, bypassing the scheduler. The update is
// merged onto the latest values (never a replacement) and written as a new
// checkpoint attributed to asNode. Returns the new checkpoint reference.
func (r *Registry) UpdateState(ctx context.Context, id string, values types.Document, asNode string) (*types.CheckpointRef, error) {
	latest, err := r.Latest(ctx, id)
	if err != nil {
		return nil, err
	}

	merged := values.Clone()
	parentID := ""
	if latest != nil {
		merged = latest.Values.Merge(values)
		parentID = latest.ID
	}

	writes := types.Document{}
	if asNode != "" {
		writes[asNode] = values
	}
	cp := &types.Checkpoint{
		ThreadID: id,
		Values:   merged,
		Next:     []string{},
		ParentID: parentID,
		Metadata: types.Document{
			"source": "update",
			"writes": writes,
		},
	}
	if err := r.log.Put(ctx, cp); err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to write state checkpoint").WithCause(err)
	}
	if err := r.SetLatest(ctx, id, cp.ID); err != nil {
		return nil, err
	}

	r.logger.Debug("state injected",
		zap.String("thread_id", id),
		zap.String("checkpoint_id", cp.ID),
		zap.String("as_node", asNode),
	)
	ref := cp.Ref()
	return &ref, nil
}

// AppendCheckpoint writes a checkpoint and advances the latest pointer. The
// scheduler calls this at every step boundary.
func (r *Registry) AppendCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	if err := r.log.Put(ctx, cp); err != nil {
		return err
	}
	return r.SetLatest(ctx, cp.ThreadID, cp.ID)
}

// History returns the thread's checkpoint history.
func (r *Registry) History(ctx context.Context, id string, opts checkpoint.HistoryOptions) ([]*types.Checkpoint, error) {
	if _, err := r.store.Get(ctx, id); err != nil {
		return nil, r.wrapStoreErr(id, err)
	}
	history, err := r.log.History(ctx, id, opts)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return nil, types.NewErrorf(types.ErrNotFound, "checkpoint %q not found", opts.Before).
				WithHTTPStatus(http.StatusNotFound)
		}
		return nil, types.NewError(types.ErrInternal, "failed to load history").WithCause(err)
	}
	return history, nil
}

// StartTTLSweeper launches the background sweeper that deletes threads whose
// TTL elapsed since their last update. Busy threads are never swept.
func (r *Registry) StartTTLSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweepExpired(context.Background())
			case <-r.sweepStop:
				return
			}
		}
	}()
}

// StopTTLSweeper stops the background sweeper.
func (r *Registry) StopTTLSweeper() {
	r.sweepOnce.Do(func() { close(r.sweepStop) })
}

func (r *Registry) sweepExpired(ctx context.Context) {
	threads, err := r.store.Search(ctx, SearchQuery{Limit: MaxSearchLimit})
	if err != nil {
		r.logger.Warn("ttl sweep scan failed", zap.Error(err))
		return
	}

	now := time.Now()
	for _, t := range threads {
		if t.TTL <= 0 || t.Status == types.ThreadStatusBusy {
			continue
		}
		if now.Sub(t.UpdatedAt) < t.TTL {
			continue
		}
		if err := r.Delete(ctx, t.ID); err != nil {
			r.logger.Warn("ttl sweep delete failed",
				zap.String("thread_id", t.ID),
				zap.Error(err),
			)
			continue
		}
		r.logger.Info("thread expired", zap.String("thread_id", t.ID))
	}
}

func (r *Registry) wrapStoreErr(id string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return types.NewErrorf(types.ErrNotFound, "thread %q not found", id).
			WithHTTPStatus(http.StatusNotFound)
	}
	return types.NewError(types.ErrInternal, "thread store failure").WithCause(err)
}
