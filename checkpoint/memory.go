package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/stateflow/types"
)

// MemoryLog is an in-memory implementation of Log. Suitable for development
// and testing. Data is lost on restart.
//
// Checkpoints are held arena-style: one map per thread keyed by checkpoint id,
// plus the append order. Parents are back-references into the arena, so old
// branches remain readable after new writes.
type MemoryLog struct {
	arenas map[string]*threadArena
	mu     sync.RWMutex
	closed bool
}

type threadArena struct {
	byID  map[string]*types.Checkpoint
	order []string
}

// NewMemoryLog creates a new in-memory checkpoint log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{arenas: make(map[string]*threadArena)}
}

// Put appends a checkpoint.
func (l *MemoryLog) Put(ctx context.Context, cp *types.Checkpoint) error {
	if cp.ID == "" {
		cp.ID = NewID()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLogClosed
	}

	arena, ok := l.arenas[cp.ThreadID]
	if !ok {
		arena = &threadArena{byID: make(map[string]*types.Checkpoint)}
		l.arenas[cp.ThreadID] = arena
	}

	if _, exists := arena.byID[cp.ID]; exists {
		return ErrImmutable
	}
	if cp.ParentID != "" {
		if _, exists := arena.byID[cp.ParentID]; !exists {
			return ErrUnknownParent
		}
	}

	stored := *cp
	stored.Values = cp.Values.Clone()
	stored.Metadata = cp.Metadata.Clone()
	stored.Next = append([]string(nil), cp.Next...)

	arena.byID[stored.ID] = &stored
	arena.order = append(arena.order, stored.ID)
	return nil
}

// Get retrieves one checkpoint.
func (l *MemoryLog) Get(ctx context.Context, threadID, checkpointID string) (*types.Checkpoint, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, ErrLogClosed
	}

	arena, ok := l.arenas[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	cp, ok := arena.byID[checkpointID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyCheckpoint(cp), nil
}

// History returns checkpoints in reverse-chronological append order.
func (l *MemoryLog) History(ctx context.Context, threadID string, opts HistoryOptions) ([]*types.Checkpoint, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, ErrLogClosed
	}

	arena, ok := l.arenas[threadID]
	if !ok {
		return nil, nil
	}

	limit := opts.effectiveLimit()
	result := make([]*types.Checkpoint, 0, limit)
	skipping := opts.Before != ""
	if skipping {
		if _, ok := arena.byID[opts.Before]; !ok {
			return nil, ErrNotFound
		}
	}

	for i := len(arena.order) - 1; i >= 0 && len(result) < limit; i-- {
		id := arena.order[i]
		if skipping {
			if id == opts.Before {
				skipping = false
			}
			continue
		}
		cp := arena.byID[id]
		if opts.NamespaceSet && cp.Namespace != opts.Namespace {
			continue
		}
		result = append(result, copyCheckpoint(cp))
	}
	return result, nil
}

// DeleteThread removes every checkpoint of a thread.
func (l *MemoryLog) DeleteThread(ctx context.Context, threadID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLogClosed
	}
	delete(l.arenas, threadID)
	return nil
}

// Close closes the log.
func (l *MemoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func copyCheckpoint(cp *types.Checkpoint) *types.Checkpoint {
	out := *cp
	out.Values = cp.Values.Clone()
	out.Metadata = cp.Metadata.Clone()
	out.Next = append([]string(nil), cp.Next...)
	return &out
}
