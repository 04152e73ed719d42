// Package storage defines the persistence contract for the notification
// outbox.
package storage

import (
	"context"
	"time"
)

// JobStatus describes the delivery state of one outbox row.
type JobStatus string

const (
	// JobStatusPending means the job awaits delivery.
	JobStatusPending JobStatus = "pending"
	// JobStatusSucceeded means the job was delivered.
	JobStatusSucceeded JobStatus = "succeeded"
	// JobStatusDead means delivery was abandoned after exhausting attempts.
	JobStatusDead JobStatus = "dead"
)

// JobRecord is one persisted notification job.
type JobRecord struct {
	ID              string
	DistinctID      string
	VisitorID       string
	AssignmentsJSON string
	Status          JobStatus
	Attempts        int
	LastError       string
	AvailableAt     time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Store is the contract for outbox persistence.
type Store interface {
	Close() error
	AppendJob(ctx context.Context, record JobRecord) error
	ListDueJobs(ctx context.Context, now time.Time, limit int) ([]JobRecord, error)
	MarkSucceeded(ctx context.Context, jobID string, at time.Time) error
	MarkFailed(ctx context.Context, jobID string, attempts int, lastError string, retryAt time.Time, dead bool, at time.Time) error
}
