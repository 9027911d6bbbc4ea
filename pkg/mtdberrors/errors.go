// Package mtdberrors defines the sentinel error taxonomy shared by every
// layer of the storage engine (backing, btree, codec, ttlindex, query,
// worker, mtdb). Components wrap these with fmt.Errorf("...: %w", ...)
// rather than inventing per-package errors, so callers can rely on
// errors.Is checks regardless of which layer raised the failure.
package mtdberrors

import "errors"

var (
	// ErrTooLarge is returned when an encoded document exceeds the 8 KiB ceiling.
	ErrTooLarge = errors.New("mtdb: document exceeds size ceiling")

	// ErrInvalidKey is returned for an empty key or one that collides with the
	// reserved TTL side-entry prefix.
	ErrInvalidKey = errors.New("mtdb: invalid key")

	// ErrNotFound is for APIs that surface a missing key as an error rather
	// than an ok-bool. The store's own Get, Delete and batch operations
	// report a missing key through an ok-bool or a count and never return it.
	ErrNotFound = errors.New("mtdb: key not found")

	// ErrIO is returned for an unrecoverable Block Backing read/write failure.
	ErrIO = errors.New("mtdb: backing io failure")

	// ErrTimeout is returned when the Worker dequeues an Operation past its deadline.
	ErrTimeout = errors.New("mtdb: operation deadline exceeded")

	// ErrLockTimeout is returned when the Worker waits longer than lock_timeout
	// for an iterator lease to drain before applying a mutation.
	ErrLockTimeout = errors.New("mtdb: timed out waiting for lock")

	// ErrClosed is returned for any operation enqueued after Close().
	ErrClosed = errors.New("mtdb: store is closed")

	// ErrEncoding is returned when a value is not JSON-serialisable.
	ErrEncoding = errors.New("mtdb: value is not encodable")

	// ErrCorrupt is returned on Open when the backing contains a structurally
	// invalid btree page or TTL side entry. It is fatal for that store instance.
	ErrCorrupt = errors.New("mtdb: backing is corrupt")
)
