// Package thread implements the thread registry: thread identity, open
// metadata, the status state machine, the latest-checkpoint pointer, direct
// state access, and read-side search.
//
// The registry composes a ThreadStore (record persistence, memory or SQL)
// with a checkpoint.Log (state history). Deleting a thread cascades its
// checkpoints and, through registered delete hooks, its run records.
package thread
