package types

import "time"

// StoreItem is a value in the namespaced store, identified by its
// (namespace path, key) tuple. Store items have no relationship to threads
// or runs; their lifecycle is independent.
type StoreItem struct {
	// Namespace is the ordered sequence of path segments.
	Namespace []string `json:"namespace"`

	// Key identifies the item within its namespace.
	Key string `json:"key"`

	// Value is the stored structured value.
	Value Document `json:"value"`

	// CreatedAt is when the item was first written.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the item was last overwritten.
	UpdatedAt time.Time `json:"updated_at"`
}
