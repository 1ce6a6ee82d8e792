// Package metrics provides Prometheus instrumentation for the HTTP surface,
// run execution, checkpoint writes, and the KV store. This package is
// internal and should not be imported by external projects.
package metrics
