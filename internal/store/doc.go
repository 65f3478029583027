// Package store defines the persistence contract for worker runs.
// Implementations live in internal/storage; this package must not import
// database drivers or concrete clients.
package store
