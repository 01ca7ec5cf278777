package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"batchctl/internal/apperrors"
	"batchctl/internal/job"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps snapshots in a local database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.Internal("snapshot.OpenSQLite", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.Internal("snapshot.OpenSQLite", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS job_snapshots (
  job_id TEXT PRIMARY KEY,
  job_name TEXT NOT NULL,
  status TEXT NOT NULL,
  status_reason TEXT,
  log_stream TEXT,
  saved_at INTEGER NOT NULL
);
`); err != nil {
		db.Close()
		return nil, apperrors.Internal("snapshot.OpenSQLite", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save inserts or replaces the snapshot for snap.JobID.
func (s *SQLiteStore) Save(ctx context.Context, snap *job.Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_snapshots (job_id, job_name, status, status_reason, log_stream, saved_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(job_id) DO UPDATE SET
           job_name = excluded.job_name,
           status = excluded.status,
           status_reason = excluded.status_reason,
           log_stream = excluded.log_stream,
           saved_at = excluded.saved_at`,
		snap.JobID,
		snap.JobName,
		string(snap.Status),
		snap.StatusReason,
		snap.LogStream,
		snap.SavedAt.UnixMilli(),
	)
	if err != nil {
		return apperrors.Internal("snapshot.Save", err)
	}
	return nil
}

// Load returns the snapshot of jobID.
func (s *SQLiteStore) Load(ctx context.Context, jobID string) (*job.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, job_name, status, status_reason, log_stream, saved_at
       FROM job_snapshots WHERE job_id = ?`, jobID,
	)
	var (
		id, name, status  string
		reason, logStream sql.NullString
		savedMs           int64
	)
	if err := row.Scan(&id, &name, &status, &reason, &logStream, &savedMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("snapshot", jobID)
		}
		return nil, apperrors.Internal("snapshot.Load", err)
	}
	return &job.Snapshot{
		JobID:        id,
		JobName:      name,
		Status:       job.Status(status),
		StatusReason: reason.String,
		LogStream:    logStream.String,
		SavedAt:      time.UnixMilli(savedMs).UTC(),
	}, nil
}

var _ job.SnapshotStore = (*SQLiteStore)(nil)
