// Package store implements the namespaced key-value store: hierarchical
// persistence for cross-thread, long-lived memory, independent of thread and
// run lifecycle.
//
// Items are identified by (namespace path, key) where the namespace path is
// an ordered sequence of segments. Search matches namespace prefixes
// segment-wise: prefix ["a"] matches ["a","b"] but not ["ax"]. Writes are
// last-write-wins per key, with per-key atomicity and no cross-key
// transactions.
//
// Backends: MemoryStore (development/testing), GormStore (SQL), RedisStore.
package store
