package thread

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/stateflow/types"
)

// MemoryStore is an in-memory implementation of ThreadStore. Suitable for
// development and testing. Data is lost on restart.
type MemoryStore struct {
	threads map[string]*types.Thread
	mu      sync.RWMutex
	closed  bool
}

// NewMemoryStore creates a new in-memory thread store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string]*types.Thread)}
}

// Create inserts a new record.
func (s *MemoryStore) Create(ctx context.Context, thread *types.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.threads[thread.ID]; exists {
		return ErrAlreadyExists
	}

	now := time.Now()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = now

	s.threads[thread.ID] = copyThread(thread)
	return nil
}

// Get retrieves a record.
func (s *MemoryStore) Get(ctx context.Context, id string) (*types.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	t, ok := s.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyThread(t), nil
}

// Update overwrites an existing record.
func (s *MemoryStore) Update(ctx context.Context, thread *types.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.threads[thread.ID]; !exists {
		return ErrNotFound
	}
	thread.UpdatedAt = time.Now()
	s.threads[thread.ID] = copyThread(thread)
	return nil
}

// Delete removes a record. Idempotent.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	delete(s.threads, id)
	return nil
}

// Search returns records matching the query.
func (s *MemoryStore) Search(ctx context.Context, query SearchQuery) ([]*types.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var allowed map[string]bool
	if len(query.IDs) > 0 {
		allowed = make(map[string]bool, len(query.IDs))
		for _, id := range query.IDs {
			allowed[id] = true
		}
	}

	matched := make([]*types.Thread, 0)
	for _, t := range s.threads {
		if allowed != nil && !allowed[t.ID] {
			continue
		}
		if query.Status != "" && t.Status != query.Status {
			continue
		}
		if len(query.Metadata) > 0 && !t.Metadata.Contains(query.Metadata) {
			continue
		}
		matched = append(matched, copyThread(t))
	}

	sortThreads(matched, query.EffectiveSort(), query.SortDesc)

	offset := query.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + query.EffectiveLimit()
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func sortThreads(threads []*types.Thread, key types.ThreadSortKey, desc bool) {
	sort.SliceStable(threads, func(i, j int) bool {
		var less bool
		switch key {
		case types.ThreadSortID:
			less = threads[i].ID < threads[j].ID
		case types.ThreadSortStatus:
			less = threads[i].Status < threads[j].Status
		case types.ThreadSortUpdatedAt:
			less = threads[i].UpdatedAt.Before(threads[j].UpdatedAt)
		default:
			less = threads[i].CreatedAt.Before(threads[j].CreatedAt)
		}
		if desc {
			return !less
		}
		return less
	})
}

func copyThread(t *types.Thread) *types.Thread {
	out := *t
	out.Metadata = t.Metadata.Clone()
	out.Values = t.Values.Clone()
	return &out
}
