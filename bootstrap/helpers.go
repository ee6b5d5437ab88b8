package bootstrap

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"syscall"
)

// storeFailure describes one class of event store startup failure and what
// an operator can do about it
type storeFailure struct {
	summary  string
	errnos   []error
	markers  []string
	remedies func(dbPath, dir string) []string
}

var storeFailures = []storeFailure{
	{
		summary: "Permission denied opening the event store at %s",
		errnos:  []error{fs.ErrPermission},
		markers: []string{"permission denied", "access denied"},
		remedies: func(dbPath, dir string) []string {
			return []string{
				"ls -la " + dir,
				fmt.Sprintf("chown root:root %s && chmod 640 %s", dbPath, dbPath),
			}
		},
	},
	{
		summary: "Event store at %s is locked by another process",
		markers: []string{"database is locked", "sqlite_busy"},
		remedies: func(dbPath, _ string) []string {
			return []string{
				"make sure only one bastion daemon runs: pgrep -a bastion",
				"stale -wal/-shm files next to " + dbPath + " may be removed once no process holds them",
			}
		},
	},
	{
		summary: "No disk space left for the event store at %s",
		errnos:  []error{syscall.ENOSPC},
		markers: []string{"disk full", "no space", "sqlite_full"},
		remedies: func(_, dir string) []string {
			return []string{
				"df -h " + dir,
				"free space or move datastore.path to a larger volume",
			}
		},
	},
	{
		summary: "Event store at %s is corrupted",
		markers: []string{"corrupt", "malformed"},
		remedies: func(dbPath, _ string) []string {
			return []string{
				"back up the file before touching it",
				fmt.Sprintf("sqlite3 %s \".recover\" | sqlite3 %s.recovered", dbPath, dbPath),
				"as a last resort delete it; baselines and indicators are rebuilt on the next run",
			}
		},
	},
	{
		summary: "Event store directory for %s does not exist",
		errnos:  []error{fs.ErrNotExist},
		markers: []string{"no such file or directory"},
		remedies: func(_, dir string) []string {
			return []string{
				"mkdir -p " + dir,
				"check datastore.path or BASTION_DATASTORE_PATH",
			}
		},
	},
	{
		summary: "Event store at %s is on a read-only file system",
		errnos:  []error{syscall.EROFS},
		markers: []string{"read-only"},
		remedies: func(_, _ string) []string {
			return []string{"point datastore.path at a writable location"}
		},
	},
}

// ClassifySQLiteError turns an event store open failure into an operator
// message with remediation steps. Returns "" for a nil error.
func ClassifySQLiteError(err error, dbPath string) string {
	if err == nil {
		return ""
	}

	absPath, _ := filepath.Abs(dbPath)
	dir := filepath.Dir(absPath)
	for _, f := range storeFailures {
		if f.matches(err) {
			return formatStoreFailure(fmt.Sprintf(f.summary, absPath), f.remedies(absPath, dir))
		}
	}
	return formatStoreFailure(fmt.Sprintf("Failed to open the event store at %s: %v", absPath, err), []string{
		"make sure " + dir + " exists and is writable",
		"check disk space and permissions",
	})
}

func (f storeFailure) matches(err error) bool {
	for _, target := range f.errnos {
		if errors.Is(err, target) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, m := range f.markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func formatStoreFailure(summary string, remedies []string) string {
	var b strings.Builder
	b.WriteString(summary)
	b.WriteString(".\n  Remediation:")
	for _, r := range remedies {
		b.WriteString("\n  - ")
		b.WriteString(r)
	}
	return b.String()
}
