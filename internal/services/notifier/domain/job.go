// Package domain defines the assignment notification job and its retry
// policy.
package domain

import (
	"strings"
	"time"

	apperrors "github.com/louisbranch/divergence.space/internal/platform/errors"
)

// Job describes one assignment notification to deliver to the analytics
// backend. A job carries every assignment newly made during one session
// turn.
type Job struct {
	ID             string
	DistinctID     string
	VisitorID      string
	NewAssignments map[string]string
	CreatedAt      time.Time
}

// JobInput describes the metadata needed to create a job.
type JobInput struct {
	DistinctID     string
	VisitorID      string
	NewAssignments map[string]string
}

// NewJob creates a notification job with a generated ID and timestamp.
func NewJob(input JobInput, now func() time.Time, idGenerator func() (string, error)) (Job, error) {
	if now == nil {
		now = time.Now
	}
	if strings.TrimSpace(input.VisitorID) == "" {
		return Job{}, apperrors.New(apperrors.CodeJobVisitorEmpty, "job visitor id is required")
	}
	if len(input.NewAssignments) == 0 {
		return Job{}, apperrors.New(apperrors.CodeJobAssignmentsEmpty, "job requires at least one new assignment")
	}

	jobID, err := idGenerator()
	if err != nil {
		return Job{}, apperrors.Wrap(apperrors.CodeUnknown, "generate job id", err)
	}

	distinctID := strings.TrimSpace(input.DistinctID)
	if distinctID == "" {
		distinctID = strings.TrimSpace(input.VisitorID)
	}

	assignments := make(map[string]string, len(input.NewAssignments))
	for splitName, variant := range input.NewAssignments {
		assignments[splitName] = variant
	}

	return Job{
		ID:             jobID,
		DistinctID:     distinctID,
		VisitorID:      strings.TrimSpace(input.VisitorID),
		NewAssignments: assignments,
		CreatedAt:      now().UTC(),
	}, nil
}

// RetryDelay returns the backoff before the given delivery attempt is
// retried. Delay doubles per attempt from base and is capped at max.
func RetryDelay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}
