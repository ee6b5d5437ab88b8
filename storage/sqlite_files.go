package storage

import (
	"bastion/core"
	"bastion/metrics"
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// FetchFileBaseline returns the baseline and current digests for path
func (s *SQLite) FetchFileBaseline(ctx context.Context, path string) (core.FileBaseline, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	var fb core.FileBaseline
	err := s.ReadDB.QueryRowContext(ctx,
		`SELECT baseline_hash, file_hash FROM file_integrity WHERE file_path = ?`, path).
		Scan(&fb.Baseline, &fb.Current)
	if errors.Is(err, sql.ErrNoRows) {
		return core.FileBaseline{}, fmt.Errorf("%s: %w", path, core.ErrNotFound)
	}
	if err != nil {
		return core.FileBaseline{}, classifyError("fetch file baseline", err)
	}
	return fb, nil
}

// CreateFileRecord inserts a new record with baseline and current digest set to state.Hash.
// A second call for the same path fails with core.ErrDuplicateKey and changes nothing.
func (s *SQLite) CreateFileRecord(ctx context.Context, state core.FileState) error {
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	_, err := s.WriteDB.ExecContext(ctx, `
		INSERT INTO file_integrity (file_path, file_hash, file_size, permissions, last_modified, baseline_hash)
		VALUES (?, ?, ?, ?, ?, ?)`,
		state.Path, state.Hash, state.Size, state.Permissions, formatTime(state.LastModified), state.Hash)
	if err != nil {
		err = classifyError("create file record", err)
		if !errors.Is(err, core.ErrDuplicateKey) {
			metrics.StoreErrors.WithLabelValues("create_file_record").Inc()
		}
		return err
	}
	metrics.EventsRecorded.WithLabelValues("file_integrity").Inc()
	return nil
}

// UpdateFileHash records a new current digest and metadata; baseline_hash is never written
func (s *SQLite) UpdateFileHash(ctx context.Context, state core.FileState) error {
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	res, err := s.WriteDB.ExecContext(ctx, `
		UPDATE file_integrity
		SET file_hash = ?, file_size = ?, permissions = ?, last_modified = ?
		WHERE file_path = ?`,
		state.Hash, state.Size, state.Permissions, formatTime(state.LastModified), state.Path)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("update_file_hash").Inc()
		return classifyError("update file hash", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifyError("update file hash", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", state.Path, core.ErrNotFound)
	}
	return nil
}
