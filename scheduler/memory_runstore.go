package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/stateflow/types"
)

// MemoryRunStore is an in-memory implementation of RunStore. Suitable for
// development and testing. Data is lost on restart.
type MemoryRunStore struct {
	runs   map[string]*types.Run
	mu     sync.RWMutex
	closed bool
}

// NewMemoryRunStore creates a new in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*types.Run)}
}

// Create inserts a new record.
func (s *MemoryRunStore) Create(ctx context.Context, run *types.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrRunStoreClosed
	}

	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	s.runs[run.ID] = copyRun(run)
	return nil
}

// Get retrieves a record.
func (s *MemoryRunStore) Get(ctx context.Context, id string) (*types.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrRunStoreClosed
	}
	r, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return copyRun(r), nil
}

// Update overwrites a record.
func (s *MemoryRunStore) Update(ctx context.Context, run *types.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrRunStoreClosed
	}
	if _, ok := s.runs[run.ID]; !ok {
		return ErrRunNotFound
	}
	run.UpdatedAt = time.Now()
	s.runs[run.ID] = copyRun(run)
	return nil
}

// Delete removes a record.
func (s *MemoryRunStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrRunStoreClosed
	}
	delete(s.runs, id)
	return nil
}

// DeleteByThread removes every record of a thread.
func (s *MemoryRunStore) DeleteByThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrRunStoreClosed
	}
	for id, r := range s.runs {
		if r.ThreadID == threadID {
			delete(s.runs, id)
		}
	}
	return nil
}

// List returns matching runs, newest first.
func (s *MemoryRunStore) List(ctx context.Context, query RunQuery) ([]*types.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrRunStoreClosed
	}

	matched := make([]*types.Run, 0)
	for _, r := range s.runs {
		if query.ThreadID != "" && r.ThreadID != query.ThreadID {
			continue
		}
		if query.Status != "" && r.Status != query.Status {
			continue
		}
		matched = append(matched, copyRun(r))
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if query.Offset >= len(matched) {
		return []*types.Run{}, nil
	}
	matched = matched[query.Offset:]
	if limit := query.EffectiveLimit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Cleanup removes terminal runs last updated before the cutoff.
func (s *MemoryRunStore) Cleanup(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrRunStoreClosed
	}

	removed := 0
	for id, r := range s.runs {
		if r.IsTerminal() && r.UpdatedAt.Before(before) {
			delete(s.runs, id)
			removed++
		}
	}
	return removed, nil
}

// Close marks the store closed.
func (s *MemoryRunStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func copyRun(r *types.Run) *types.Run {
	out := *r
	out.Input = r.Input.Clone()
	return &out
}
