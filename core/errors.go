package core

import "errors"

var (
	// ErrStoreUnavailable is returned when the underlying storage cannot be reached or written
	ErrStoreUnavailable = errors.New("event store unavailable")

	// ErrDuplicateKey is returned when a record with the same unique key already exists
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrNotFound is returned when no record exists for the requested key
	ErrNotFound = errors.New("record not found")
)
