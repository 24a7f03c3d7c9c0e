// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/vidgrab/internal/jobs"
	"github.com/ManuGH/vidgrab/internal/log"
	"github.com/ManuGH/vidgrab/internal/persistence/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS job_history (
	job_id     TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	format     TEXT NOT NULL,
	resolution TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	file       TEXT NOT NULL DEFAULT '',
	size       INTEGER NOT NULL DEFAULT 0,
	error      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_history_updated ON job_history(updated_at DESC);
`

// Older states never overwrite newer ones.
const upsertEntry = `
INSERT INTO job_history (job_id, status, format, resolution, source, title, file, size, error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(job_id) DO UPDATE SET
	status = excluded.status,
	title = excluded.title,
	file = excluded.file,
	size = excluded.size,
	error = excluded.error,
	updated_at = excluded.updated_at
WHERE excluded.updated_at >= job_history.updated_at`

// SQLiteStore persists entries in a WAL-mode SQLite database.
type SQLiteStore struct {
	db        *sql.DB
	retention time.Duration
	now       func() time.Time
}

// OpenSQLiteStore opens (or creates) the database at path and checks its integrity.
func OpenSQLiteStore(ctx context.Context, path string, retention time.Duration) (*SQLiteStore, error) {
	db, err := sqlite.Open(ctx, path, sqlite.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	issues, err := sqlite.VerifyIntegrity(ctx, db, false)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: %w", err)
	}
	if len(issues) > 0 {
		_ = db.Close()
		return nil, fmt.Errorf("history: database %s is corrupt: %s", path, strings.Join(issues, "; "))
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}

	logger := log.WithComponent("history")
	logger.Info().Str(log.FieldPath, path).Str("backend", BackendSQLite).Msg("history store opened")
	return &SQLiteStore{db: db, retention: retention, now: time.Now}, nil
}

// Record upserts the job's latest state.
func (s *SQLiteStore) Record(ctx context.Context, j jobs.Job) error {
	e := FromJob(j)
	_, err := s.db.ExecContext(ctx, upsertEntry,
		e.JobID, e.Status, e.Format, e.Resolution, e.Source, e.Title, e.File, e.Size, e.Error,
		e.CreatedAt.UnixMilli(), e.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("history: record %s: %w", e.JobID, err)
	}
	return nil
}

// List returns the newest entries first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT job_id, status, format, resolution, source, title, file, size, error, created_at, updated_at
FROM job_history ORDER BY updated_at DESC, job_id ASC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created, updated int64
		if err := rows.Scan(&e.JobID, &e.Status, &e.Format, &e.Resolution, &e.Source,
			&e.Title, &e.File, &e.Size, &e.Error, &created, &updated); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created).UTC()
		e.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries older than the retention window.
func (s *SQLiteStore) Prune(ctx context.Context) (int, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.retention).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_history WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
