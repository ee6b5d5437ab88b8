package storage

import (
	"bastion/core"
	"bastion/metrics"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite is the EventStore backed by a single SQLite file.
// Writes go through a one-connection pool so there is exactly one writer;
// reads use a separate query-only pool that WAL mode never blocks.
type SQLite struct {
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Path    string
	Logger  *zap.SugaredLogger

	prevWriteWaitCount int64
	prevReadWaitCount  int64
}

var _ core.EventStore = (*SQLite)(nil)

// sqliteDSN builds a DSN whose pragmas run on every connection the pool opens
func sqliteDSN(path string, readOnly bool) string {
	pragmas := []string{
		"journal_mode(WAL)",
		"busy_timeout(5000)",
		"synchronous(NORMAL)",
		"foreign_keys(1)",
	}
	if readOnly {
		pragmas = append(pragmas, "query_only(1)")
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(path)
	for _, p := range pragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// verifySQLiteConnection checks the pool is reachable and in WAL mode
func verifySQLiteConnection(db *sql.DB, logger *zap.SugaredLogger, dbPath string, poolType string) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	// in-memory databases report "memory"
	if dbPath != ":memory:" && journalMode != "wal" {
		return fmt.Errorf("WAL mode not enabled (got: %s, expected: wal)", journalMode)
	}
	logger.Debugf("SQLite %s pool: journal mode %s", poolType, journalMode)
	return nil
}

// NewSQLite opens (creating if needed) the store at dbPath and ensures the schema exists
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	if err := validateDatabasePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("%w: failed to create database directory: %w", core.ErrStoreUnavailable, err)
		}
	}

	// both pools must see the same in-memory database
	actualPath := dbPath
	if dbPath == ":memory:" {
		actualPath = "file::memory:?cache=shared"
	}

	writeDB, err := sql.Open("sqlite", sqliteDSN(actualPath, false))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open SQLite write database: %w", core.ErrStoreUnavailable, err)
	}
	if err := verifySQLiteConnection(writeDB, logger, dbPath, "write"); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("%w: failed to configure write connection: %w", core.ErrStoreUnavailable, err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)

	readDB, err := sql.Open("sqlite", sqliteDSN(actualPath, true))
	if err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("%w: failed to open SQLite read database: %w", core.ErrStoreUnavailable, err)
	}
	if err := verifySQLiteConnection(readDB, logger, dbPath, "read"); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("%w: failed to configure read connection: %w", core.ErrStoreUnavailable, err)
	}
	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	readDB.SetConnMaxIdleTime(10 * time.Minute)

	s := &SQLite{
		WriteDB: writeDB,
		ReadDB:  readDB,
		Path:    dbPath,
		Logger:  logger,
	}

	if err := s.createTables(); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("%w: failed to create tables: %w", core.ErrStoreUnavailable, err)
	}

	logger.Infow("Event store opened", "path", dbPath)
	return s, nil
}

// createTables creates the four tables and their indices if they are missing
func (s *SQLite) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS system_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		event_data TEXT NOT NULL,
		severity TEXT NOT NULL DEFAULT 'INFO',
		timestamp TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_system_events_severity ON system_events(severity);

	CREATE TABLE IF NOT EXISTS attack_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		attacker_ip TEXT NOT NULL,
		attack_type TEXT NOT NULL,
		target_service TEXT NOT NULL,
		payload TEXT NOT NULL,
		risk_score INTEGER NOT NULL,
		response_action TEXT NOT NULL DEFAULT 'logged',
		timestamp TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_attack_events_ip ON attack_events(attacker_ip);

	CREATE TABLE IF NOT EXISTS threat_intel (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ip_address TEXT NOT NULL UNIQUE,
		threat_type TEXT NOT NULL,
		risk_score INTEGER NOT NULL,
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL,
		attack_count INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_threat_intel_risk ON threat_intel(risk_score);

	CREATE TABLE IF NOT EXISTS file_integrity (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_path TEXT NOT NULL UNIQUE,
		file_hash TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		permissions TEXT NOT NULL,
		last_modified TEXT NOT NULL,
		baseline_hash TEXT NOT NULL
	);
	`
	if _, err := s.WriteDB.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Close closes both pools
func (s *SQLite) Close() error {
	var writeErr, readErr error
	if s.WriteDB != nil {
		writeErr = s.WriteDB.Close()
	}
	if s.ReadDB != nil {
		readErr = s.ReadDB.Close()
	}
	if writeErr != nil {
		return fmt.Errorf("failed to close write pool: %w", writeErr)
	}
	if readErr != nil {
		return fmt.Errorf("failed to close read pool: %w", readErr)
	}
	return nil
}

// HealthCheck verifies both pools are alive
func (s *SQLite) HealthCheck(ctx context.Context) error {
	if err := s.WriteDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: write pool: %w", core.ErrStoreUnavailable, err)
	}
	if err := s.ReadDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: read pool: %w", core.ErrStoreUnavailable, err)
	}
	return nil
}

// StartMetricsCollection exports pool statistics every interval until ctx is done
func (s *SQLite) StartMetricsCollection(ctx context.Context, interval time.Duration) {
	s.updatePoolMetrics()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.updatePoolMetrics()
			}
		}
	}()
}

func (s *SQLite) updatePoolMetrics() {
	s.updatePoolMetricsForType("write", s.WriteDB.Stats(), &s.prevWriteWaitCount)
	s.updatePoolMetricsForType("read", s.ReadDB.Stats(), &s.prevReadWaitCount)
}

// updatePoolMetricsForType sets the gauges and adds the wait-count delta since the last tick
func (s *SQLite) updatePoolMetricsForType(poolType string, stats sql.DBStats, prevWaitCount *int64) {
	metrics.SQLitePoolOpenConnections.WithLabelValues(poolType).Set(float64(stats.OpenConnections))
	metrics.SQLitePoolInUse.WithLabelValues(poolType).Set(float64(stats.InUse))
	metrics.SQLitePoolIdle.WithLabelValues(poolType).Set(float64(stats.Idle))
	metrics.SQLitePoolMaxOpenConnections.WithLabelValues(poolType).Set(float64(stats.MaxOpenConnections))

	if delta := stats.WaitCount - *prevWaitCount; delta > 0 {
		metrics.SQLitePoolWaitCount.WithLabelValues(poolType).Add(float64(delta))
		*prevWaitCount = stats.WaitCount
	}
}

// validateDatabasePath rejects paths that are empty, traverse upward,
// embed null bytes or name a reserved device
func validateDatabasePath(dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if dbPath == ":memory:" {
		return nil
	}
	if len(dbPath) > 512 {
		return fmt.Errorf("database path exceeds maximum length of 512 characters")
	}
	if strings.Contains(dbPath, "\x00") {
		return fmt.Errorf("null bytes not allowed in path")
	}
	if strings.ContainsAny(dbPath, "?#") {
		return fmt.Errorf("query characters not allowed in path: %s", dbPath)
	}
	for _, part := range strings.Split(filepath.ToSlash(dbPath), "/") {
		if part == ".." {
			return fmt.Errorf("path traversal not allowed (..): %s", dbPath)
		}
	}
	if strings.HasPrefix(dbPath, "/dev/") || strings.HasPrefix(dbPath, "/proc/") {
		return fmt.Errorf("device paths not allowed: %s", dbPath)
	}

	base := strings.ToUpper(filepath.Base(dbPath))
	reserved := []string{"CON", "PRN", "AUX", "NUL", "COM1", "COM2", "COM3", "COM4",
		"COM5", "COM6", "COM7", "COM8", "COM9", "LPT1", "LPT2", "LPT3", "LPT4",
		"LPT5", "LPT6", "LPT7", "LPT8", "LPT9"}
	for _, r := range reserved {
		if base == r || strings.HasPrefix(base, r+".") {
			return fmt.Errorf("reserved name not allowed: %s", filepath.Base(dbPath))
		}
	}
	return nil
}
