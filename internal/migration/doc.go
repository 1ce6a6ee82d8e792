// Package migration manages the SQL backend schema with versioned,
// embedded migration files. Separate migration sets are kept per driver
// because PostgreSQL and SQLite disagree on types and index syntax.
package migration
