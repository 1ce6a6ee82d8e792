// Package checkpoint implements the append-only checkpoint log: per-thread
// chains of immutable state snapshots with parent back-references.
//
// Chains form a tree per (thread, namespace). Branching happens when a run
// starts from a non-latest ancestor; newly written checkpoints then share the
// common prefix with the old branch. Old branches stay valid because
// checkpoints are stored arena-style keyed by (thread id, checkpoint id) and
// never mutated.
//
// Three backends are provided:
//   - MemoryLog: for development and testing
//   - GormLog: SQL persistence via GORM (SQLite or PostgreSQL)
//   - RedisLog: Redis persistence with a per-thread ZSET chain index
package checkpoint
