package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/stateflow/types"
)

// MemoryStore is an in-memory implementation of Store. Suitable for
// development and testing. Data is lost on restart.
type MemoryStore struct {
	items  map[string]*types.StoreItem // keyed by joined path + sep + key
	mu     sync.RWMutex
	closed bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*types.StoreItem)}
}

func itemKey(namespace []string, key string) string {
	return joinPath(namespace) + pathSep + key
}

// Put upserts an item.
func (s *MemoryStore) Put(ctx context.Context, namespace []string, key string, value types.Document) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	now := time.Now()
	id := itemKey(namespace, key)
	if existing, ok := s.items[id]; ok {
		existing.Value = value.Clone()
		existing.UpdatedAt = now
		return nil
	}

	s.items[id] = &types.StoreItem{
		Namespace: append([]string(nil), namespace...),
		Key:       key,
		Value:     value.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// Get returns an item.
func (s *MemoryStore) Get(ctx context.Context, namespace []string, key string) (*types.StoreItem, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	item, ok := s.items[itemKey(namespace, key)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyItem(item), nil
}

// Delete removes an item. Idempotent.
func (s *MemoryStore) Delete(ctx context.Context, namespace []string, key string) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	delete(s.items, itemKey(namespace, key))
	return nil
}

// Search returns items under a namespace prefix.
func (s *MemoryStore) Search(ctx context.Context, prefix []string, limit, offset int) ([]*types.StoreItem, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	matched := make([]*types.StoreItem, 0)
	for _, item := range s.items {
		if hasPrefix(item.Namespace, prefix) {
			matched = append(matched, copyItem(item))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a := itemKey(matched[i].Namespace, matched[i].Key)
		b := itemKey(matched[j].Namespace, matched[j].Key)
		return a < b
	})
	return paginate(matched, limit, offset), nil
}

// ListNamespaces enumerates distinct namespace paths under a prefix.
func (s *MemoryStore) ListNamespaces(ctx context.Context, prefix []string, limit, offset int) ([][]string, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	distinct := make(map[string][]string)
	for _, item := range s.items {
		if hasPrefix(item.Namespace, prefix) {
			distinct[joinPath(item.Namespace)] = item.Namespace
		}
	}

	paths := make([]string, 0, len(distinct))
	for p := range distinct {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	out := make([][]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, append([]string(nil), distinct[p]...))
	}
	return paginate(out, limit, offset), nil
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func copyItem(item *types.StoreItem) *types.StoreItem {
	out := *item
	out.Namespace = append([]string(nil), item.Namespace...)
	out.Value = item.Value.Clone()
	return &out
}
