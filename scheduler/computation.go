package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/BaSui01/stateflow/types"
)

// ErrInterrupt is returned by a computation to pause cooperatively and wait
// for external input. The run ends interrupted and the thread, if any, is
// marked interrupted; a later run on the same thread resumes from the last
// checkpoint the computation wrote.
var ErrInterrupt = errors.New("computation interrupted for external input")

// Computation is an opaque unit of execution. Execute receives the run's
// context and must honor ctx cancellation at its step boundaries; the
// scheduler additionally enforces a hard deadline regardless of cooperation.
//
// Execute returns the final state values on success. Intermediate progress is
// persisted by calling RunContext.Checkpoint at each step boundary.
type Computation interface {
	Execute(ctx context.Context, rc *RunContext) (types.Document, error)
}

// ComputationFunc adapts a function to the Computation interface.
type ComputationFunc func(ctx context.Context, rc *RunContext) (types.Document, error)

// Execute calls f.
func (f ComputationFunc) Execute(ctx context.Context, rc *RunContext) (types.Document, error) {
	return f(ctx, rc)
}

// RunContext is the execution-side view of one run: the input payload, the
// state the run started from, and the checkpoint boundary.
type RunContext struct {
	run     *types.Run
	persist func(ctx context.Context, values types.Document, next []string) error
	mu      sync.Mutex
	values  types.Document
}

// RunID returns the executing run's id.
func (rc *RunContext) RunID() string { return rc.run.ID }

// ThreadID returns the owning thread's id, empty for stateless runs.
func (rc *RunContext) ThreadID() string { return rc.run.ThreadID }

// Input returns the caller-supplied input payload.
func (rc *RunContext) Input() types.Document { return rc.run.Input.Clone() }

// Values returns the state the run is currently at: the base checkpoint's
// values, overlaid with every Checkpoint call made so far.
func (rc *RunContext) Values() types.Document {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.values.Clone()
}

// Checkpoint persists a step boundary. values are merged onto the current
// state; next names the execution nodes still pending. This is also the
// cooperative cancellation point: a cancelled run persists the boundary
// snapshot one last time, then receives the cancellation cause and must
// yield. A run past its hard deadline persists nothing further.
func (rc *RunContext) Checkpoint(ctx context.Context, values types.Document, next []string) error {
	cause := context.Cause(ctx)
	var ce *cancelError
	if cause != nil && !errors.As(cause, &ce) {
		return ctx.Err()
	}

	rc.mu.Lock()
	rc.values = rc.values.Merge(values)
	merged := rc.values.Clone()
	rc.mu.Unlock()

	if rc.persist != nil {
		if err := rc.persist(context.WithoutCancel(ctx), merged, next); err != nil {
			return err
		}
	}
	if ce != nil {
		return cause
	}
	return nil
}

// TargetRegistry maps computation ids to their implementations.
type TargetRegistry struct {
	mu      sync.RWMutex
	targets map[string]Computation
}

// NewTargetRegistry creates an empty target registry.
func NewTargetRegistry() *TargetRegistry {
	return &TargetRegistry{targets: make(map[string]Computation)}
}

// Register binds a computation to an id, replacing any previous binding.
func (r *TargetRegistry) Register(id string, comp Computation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[id] = comp
}

// Get returns the computation bound to id.
func (r *TargetRegistry) Get(id string) (Computation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	comp, ok := r.targets[id]
	return comp, ok
}
