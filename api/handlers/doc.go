// Package handlers implements the JSON endpoint handlers: threads, thread
// state, runs, the KV store, and health probes. Handlers stay thin; all
// semantics live in the engine packages.
package handlers
