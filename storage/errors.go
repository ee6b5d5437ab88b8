package storage

import (
	"bastion/core"
	"context"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// defaultOpTimeout bounds a single store statement
const defaultOpTimeout = 5 * time.Second

// classifyError wraps a driver error with the matching core sentinel.
// Context cancellation is passed through unchanged so shutdown is not
// mistaken for an unreachable store.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("failed to %s: %w", op, core.ErrDuplicateKey)
	}
	return fmt.Errorf("failed to %s: %w: %w", op, core.ErrStoreUnavailable, err)
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint failure
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
