// Package cache owns the Redis client used by the Redis-backed checkpoint
// log and KV store. It manages connection pooling, health checks, and
// shutdown. This package is internal and should not be imported by external
// projects.
package cache
