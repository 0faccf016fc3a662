// Package queue is the durable FIFO of device operations. Jobs persist in
// a local SQLite database and are executed by a single worker, which keeps
// execution at-most-once-concurrent per process.
package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/devlink-broker/devlink-go/pkg/model"
)

// Store provides SQLite persistence for operation jobs.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore opens (or creates) the job database at dbPath.
// Use ":memory:" for an in-memory database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL keeps readers unblocked while the worker writes.
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// migrate creates the schema on first run.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS queue_jobs (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		device_kind TEXT NOT NULL,
		operation TEXT NOT NULL,
		params TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME,
		error TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_queue_jobs_device_id ON queue_jobs(device_id);
	CREATE INDEX IF NOT EXISTS idx_queue_jobs_status ON queue_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_queue_jobs_created_at ON queue_jobs(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue persists a new pending job and returns its id. The call never
// waits for execution.
func (s *Store) Enqueue(deviceID string, kind model.DeviceKind, operation string, params json.RawMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobID := "job_" + uuid.New().String()
	_, err := s.db.Exec(`
		INSERT INTO queue_jobs (id, device_id, device_kind, operation, params, status, created_at, retry_count)
		VALUES (?, ?, ?, ?, ?, 'pending', ?, 0)`,
		jobID, deviceID, string(kind), operation, string(params), time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return jobID, nil
}

// RecordCompleted inserts an already-executed operation as a completed job
// row, so synchronous device operations leave the same audit trail queued
// ones do. Returns the job id.
func (s *Store) RecordCompleted(deviceID string, kind model.DeviceKind, operation string, params json.RawMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobID := "job_" + uuid.New().String()
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO queue_jobs (id, device_id, device_kind, operation, params, status, created_at, started_at, completed_at, retry_count)
		VALUES (?, ?, ?, ?, ?, 'completed', ?, ?, ?, 0)`,
		jobID, deviceID, string(kind), operation, string(params), now, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record job: %w", err)
	}
	return jobID, nil
}

// ClaimOldestPending atomically moves the oldest pending job to processing
// and stamps started_at. Returns (nil, nil) when the queue is empty.
func (s *Store) ClaimOldestPending() (*model.OperationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT id FROM queue_jobs
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT 1`)

	var jobID string
	if err := row.Scan(&jobID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(`
		UPDATE queue_jobs SET status = 'processing', started_at = ?
		WHERE id = ? AND status = 'pending'`,
		now, jobID,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.getLocked(jobID)
}

// MarkCompleted finishes a processing job successfully.
func (s *Store) MarkCompleted(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE queue_jobs SET status = 'completed', completed_at = ?
		WHERE id = ? AND status = 'processing'`,
		time.Now().UTC(), jobID,
	)
	return err
}

// MarkFailed records an execution failure. While attempts remain below
// maxAttempts the job returns to pending with retry_count incremented;
// otherwise it becomes failed with the error recorded. Returns the
// resulting status.
func (s *Store) MarkFailed(jobID string, cause error, maxAttempts int) (model.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.getLocked(jobID)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", fmt.Errorf("job %s not found", jobID)
	}
	if job.Status != model.JobProcessing {
		// Cancelled mid-flight: keep the cancellation, do not retry.
		return job.Status, nil
	}

	if job.RetryCount+1 < maxAttempts {
		_, err := s.db.Exec(`
			UPDATE queue_jobs SET status = 'pending', retry_count = retry_count + 1, error = ?
			WHERE id = ? AND status = 'processing'`,
			cause.Error(), jobID,
		)
		return model.JobPending, err
	}

	_, err = s.db.Exec(`
		UPDATE queue_jobs SET status = 'failed', completed_at = ?, error = ?
		WHERE id = ? AND status = 'processing'`,
		time.Now().UTC(), cause.Error(), jobID,
	)
	return model.JobFailed, err
}

// Cancel transitions a pending or processing job to cancelled. Cancelling
// a processing job is advisory: the in-flight adapter call is not aborted,
// only further retries are prevented. Returns whether the transition
// applied.
func (s *Store) Cancel(jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE queue_jobs SET status = 'cancelled', completed_at = ?
		WHERE id = ? AND status IN ('pending', 'processing')`,
		time.Now().UTC(), jobID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Retry moves a failed or cancelled job back to pending and increments
// retry_count. Returns whether the transition applied.
func (s *Store) Retry(jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE queue_jobs
		SET status = 'pending', retry_count = retry_count + 1,
		    started_at = NULL, completed_at = NULL, error = NULL
		WHERE id = ? AND status IN ('failed', 'cancelled')`,
		jobID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Get returns one job by id, or nil when unknown.
func (s *Store) Get(jobID string) (*model.OperationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(jobID)
}

func (s *Store) getLocked(jobID string) (*model.OperationJob, error) {
	row := s.db.QueryRow(`
		SELECT id, device_id, device_kind, operation, params, status,
		       created_at, started_at, completed_at, error, retry_count
		FROM queue_jobs WHERE id = ?`, jobID)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// ListFilter narrows List results.
type ListFilter struct {
	DeviceID string
	Status   model.JobStatus
	Limit    int
}

// List returns jobs ordered by created_at descending.
func (s *Store) List(filter ListFilter) ([]model.OperationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, device_id, device_kind, operation, params, status,
		       created_at, started_at, completed_at, error, retry_count
		FROM queue_jobs WHERE 1=1`
	var args []any
	if filter.DeviceID != "" {
		query += " AND device_id = ?"
		args = append(args, filter.DeviceID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC, id DESC"
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.OperationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Stats aggregates the queue state.
type Stats struct {
	Counts              map[string]int `json:"counts"`
	Total               int            `json:"total"`
	AvgProcessingTimeMs float64        `json:"avg_processing_time_ms"`
}

// Status returns per-status counts and the average processing duration of
// completed jobs.
func (s *Store) Status() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Counts: make(map[string]int)}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM queue_jobs GROUP BY status`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		stats.Counts[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	var avgMs sql.NullFloat64
	err = s.db.QueryRow(`
		SELECT AVG((julianday(completed_at) - julianday(started_at)) * 86400000.0)
		FROM queue_jobs
		WHERE status = 'completed' AND started_at IS NOT NULL AND completed_at IS NOT NULL`,
	).Scan(&avgMs)
	if err != nil {
		return stats, err
	}
	if avgMs.Valid {
		stats.AvgProcessingTimeMs = avgMs.Float64
	}
	return stats, nil
}

// Prune deletes terminal jobs whose completed_at is older than the cutoff.
// Returns the number of rows removed.
func (s *Store) Prune(olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		DELETE FROM queue_jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND completed_at IS NOT NULL AND completed_at < ?`,
		time.Now().UTC().Add(-olderThan),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.OperationJob, error) {
	var job model.OperationJob
	var kind, params string
	var startedAt, completedAt sql.NullTime
	var errMsg sql.NullString

	if err := row.Scan(
		&job.ID, &job.DeviceID, &kind, &job.Operation, &params, (*string)(&job.Status),
		&job.CreatedAt, &startedAt, &completedAt, &errMsg, &job.RetryCount,
	); err != nil {
		return nil, err
	}

	job.DeviceKind = model.DeviceKind(kind)
	if params != "" {
		job.Params = json.RawMessage(params)
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	return &job, nil
}
