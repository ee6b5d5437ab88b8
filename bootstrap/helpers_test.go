package bootstrap

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySQLiteError(t *testing.T) {
	const dbPath = "/var/lib/bastion/bastion.db"
	tests := []struct {
		name     string
		err      error
		contains []string
	}{
		{
			name:     "permission denied by message",
			err:      errors.New("open /var/lib/bastion/bastion.db: Permission Denied"),
			contains: []string{"Permission denied opening the event store at " + dbPath, "chmod 640 " + dbPath},
		},
		{
			name:     "permission denied by errno",
			err:      fmt.Errorf("failed to create database directory: %w", &fs.PathError{Op: "mkdir", Path: "/var/lib/bastion", Err: syscall.EACCES}),
			contains: []string{"Permission denied", "ls -la /var/lib/bastion"},
		},
		{
			name:     "locked",
			err:      errors.New("database is locked (5) (SQLITE_BUSY)"),
			contains: []string{"locked by another process", "pgrep -a bastion"},
		},
		{
			name:     "disk full by errno",
			err:      fmt.Errorf("write: %w", syscall.ENOSPC),
			contains: []string{"No disk space left", "df -h /var/lib/bastion"},
		},
		{
			name:     "corrupt",
			err:      errors.New("database disk image is malformed"),
			contains: []string{"is corrupted", ".recover"},
		},
		{
			name:     "missing directory",
			err:      fmt.Errorf("open: %w", fs.ErrNotExist),
			contains: []string{"does not exist", "mkdir -p /var/lib/bastion"},
		},
		{
			name:     "read-only",
			err:      errors.New("attempt to write a read-only database"),
			contains: []string{"read-only file system"},
		},
		{
			name:     "fallback keeps the cause",
			err:      errors.New("something odd"),
			contains: []string{"Failed to open the event store", "something odd", "Remediation:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ClassifySQLiteError(tt.err, dbPath)
			for _, want := range tt.contains {
				assert.Contains(t, result, want)
			}
		})
	}

	assert.Empty(t, ClassifySQLiteError(nil, dbPath))
}
