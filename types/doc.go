// Package types contains the shared value types of the StateFlow engine:
// threads, runs, checkpoints, store items, their status enumerations, and
// the structured error model used across packages.
package types
