// Package sqlite provides SQLite-backed persistence for the notification
// outbox and telemetry diagnostics.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/divergence.space/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/divergence.space/internal/services/notifier/storage"
	"github.com/louisbranch/divergence.space/internal/services/notifier/storage/sqlite/migrations"
	"github.com/louisbranch/divergence.space/internal/telemetry"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for notifier state.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a notifier SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// AppendJob persists one notification outbox row.
func (s *Store) AppendJob(ctx context.Context, record storage.JobRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("job id is required")
	}
	status := record.Status
	if status == "" {
		status = storage.JobStatusPending
	}
	availableAt := record.AvailableAt
	if availableAt.IsZero() {
		availableAt = record.CreatedAt
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO notification_jobs
    (id, distinct_id, visitor_id, assignments_json, status, attempts, last_error, available_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`,
		record.ID,
		record.DistinctID,
		record.VisitorID,
		record.AssignmentsJSON,
		string(status),
		record.Attempts,
		record.LastError,
		toMillis(availableAt),
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("append job: %w", err)
	}
	return nil
}

// ListDueJobs returns pending jobs whose availability time has passed,
// oldest first.
func (s *Store) ListDueJobs(ctx context.Context, now time.Time, limit int) ([]storage.JobRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, distinct_id, visitor_id, assignments_json, status, attempts, last_error, available_at, created_at, updated_at
FROM notification_jobs
WHERE status = ? AND available_at <= ?
ORDER BY available_at ASC, id ASC
LIMIT ?`,
		string(storage.JobStatusPending), toMillis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("list due jobs: %w", err)
	}
	defer rows.Close()

	var records []storage.JobRecord
	for rows.Next() {
		var record storage.JobRecord
		var status string
		var availableAt, createdAt, updatedAt int64
		if err := rows.Scan(
			&record.ID,
			&record.DistinctID,
			&record.VisitorID,
			&record.AssignmentsJSON,
			&status,
			&record.Attempts,
			&record.LastError,
			&availableAt,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		record.Status = storage.JobStatus(status)
		record.AvailableAt = fromMillis(availableAt)
		record.CreatedAt = fromMillis(createdAt)
		record.UpdatedAt = fromMillis(updatedAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return records, nil
}

// MarkSucceeded records a successful delivery.
func (s *Store) MarkSucceeded(ctx context.Context, jobID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
UPDATE notification_jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(storage.JobStatusSucceeded), toMillis(at), jobID)
	if err != nil {
		return fmt.Errorf("mark job succeeded: %w", err)
	}
	return nil
}

// MarkFailed records a failed delivery attempt, either scheduling a retry
// or marking the job dead.
func (s *Store) MarkFailed(ctx context.Context, jobID string, attempts int, lastError string, retryAt time.Time, dead bool, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	status := storage.JobStatusPending
	if dead {
		status = storage.JobStatusDead
	}
	_, err := s.sqlDB.ExecContext(ctx, `
UPDATE notification_jobs
SET status = ?, attempts = ?, last_error = ?, available_at = ?, updated_at = ?
WHERE id = ?`,
		string(status), attempts, lastError, toMillis(retryAt), toMillis(at), jobID)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

// AppendTelemetryEvent persists one diagnostic event. Store implements
// telemetry.Store.
func (s *Store) AppendTelemetryEvent(ctx context.Context, evt telemetry.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO telemetry_events (severity, component, message, detail, created_at)
VALUES (?, ?, ?, ?, ?)`,
		string(evt.Severity), evt.Component, evt.Message, evt.Detail, toMillis(evt.Timestamp))
	if err != nil {
		return fmt.Errorf("append telemetry event: %w", err)
	}
	return nil
}
