package store

import (
	"context"
	"errors"
	"strings"

	"github.com/BaSui01/stateflow/types"
)

// Common errors
var (
	// ErrNotFound indicates the requested item is absent.
	ErrNotFound = errors.New("store item not found")

	// ErrInvalidNamespace indicates an empty path, an empty segment, or a
	// segment containing the reserved separator.
	ErrInvalidNamespace = errors.New("invalid namespace path")

	// ErrInvalidKey indicates an empty key or a key containing the reserved
	// separator.
	ErrInvalidKey = errors.New("invalid key")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("store is closed")
)

// pathSep joins namespace segments in backend representations. It is
// reserved: segments and keys containing it are rejected.
const pathSep = "\x1f"

// Pagination bounds for Search and ListNamespaces.
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 1000
)

// Store is the namespaced key-value store.
type Store interface {
	// Put is an idempotent upsert: create-or-overwrite, advancing
	// updated_at. Returns no payload.
	Put(ctx context.Context, namespace []string, key string, value types.Document) error

	// Get returns the item or ErrNotFound.
	Get(ctx context.Context, namespace []string, key string) (*types.StoreItem, error)

	// Delete removes the item. Deleting an absent item is not an error.
	Delete(ctx context.Context, namespace []string, key string) error

	// Search returns all items whose namespace path starts with prefix,
	// segment-wise, paginated by limit/offset. An empty prefix matches
	// everything.
	Search(ctx context.Context, prefix []string, limit, offset int) ([]*types.StoreItem, error)

	// ListNamespaces enumerates distinct namespace paths under an optional
	// prefix, without values.
	ListNamespaces(ctx context.Context, prefix []string, limit, offset int) ([][]string, error)

	// Close releases resources held by the store.
	Close() error
}

// ValidateNamespace checks a namespace path for use as an item identity.
func ValidateNamespace(namespace []string) error {
	if len(namespace) == 0 {
		return ErrInvalidNamespace
	}
	return validateSegments(namespace)
}

// ValidatePrefix checks a namespace prefix for search. Unlike item
// namespaces, an empty prefix is allowed.
func ValidatePrefix(prefix []string) error {
	return validateSegments(prefix)
}

func validateSegments(segments []string) error {
	for _, seg := range segments {
		if seg == "" || strings.Contains(seg, pathSep) {
			return ErrInvalidNamespace
		}
	}
	return nil
}

// ValidateKey checks an item key.
func ValidateKey(key string) error {
	if key == "" || strings.Contains(key, pathSep) {
		return ErrInvalidKey
	}
	return nil
}

func joinPath(segments []string) string {
	return strings.Join(segments, pathSep)
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, pathSep)
}

// hasPrefix reports whether path starts with prefix, segment-wise.
func hasPrefix(path, prefix []string) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i, seg := range prefix {
		if path[i] != seg {
			return false
		}
	}
	return true
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultSearchLimit
	case limit > MaxSearchLimit:
		return MaxSearchLimit
	default:
		return limit
	}
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := offset + clampLimit(limit)
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
