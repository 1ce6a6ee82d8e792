// Package api defines the HTTP surface: the response envelope shared by
// every endpoint, the request payloads, and the router assembling the
// versioned routes over the engine.
package api
