// Package server manages HTTP listener lifecycle: non-blocking start,
// graceful shutdown, and signal-driven termination. The service runs two
// listeners through it, the API server and the metrics endpoint.
package server
