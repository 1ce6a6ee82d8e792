// Package scheduler drives run execution. Each thread is an independent
// serial lane: at most one run executes on a thread at any instant, and a
// conflicting submission is resolved by the caller-chosen policy (reject,
// interrupt, rollback, enqueue). Runs on different threads execute fully in
// parallel.
//
// The scheduler owns run records, enforces hard deadlines, delivers
// cooperative cancellation at checkpoint boundaries, and notifies webhooks
// when runs reach a terminal status.
package scheduler
