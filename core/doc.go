// Package core defines the record types, severities and event tags shared by
// every bastion module, together with the EventStore interface all producers
// write through.
//
// # Ownership
//
// The EventStore owns every persisted row. Modules hold no state of their own
// beyond loop variables; the integrity monitor re-reads baseline records from
// the store on every scan so the store stays the single source of truth.
//
// # Errors
//
// Store implementations wrap failures with the sentinels in errors.go so that
// callers can branch with errors.Is:
//   - ErrStoreUnavailable: storage unreachable or unwritable, fatal to the caller
//   - ErrDuplicateKey: a unique key (file_path) already has a row
//   - ErrNotFound: no row for the requested key
package core
