// Package dispatch builds assignment notification jobs and enqueues them
// without blocking the response path.
package dispatch

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/louisbranch/divergence.space/internal/platform/id"
	"github.com/louisbranch/divergence.space/internal/platform/timeouts"
	"github.com/louisbranch/divergence.space/internal/services/notifier/domain"
	"github.com/louisbranch/divergence.space/internal/services/notifier/storage"
)

// Queue accepts one job for later delivery. Enqueue is expected to be fast;
// the dispatcher never consumes a result beyond the error, which it logs.
type Queue interface {
	Enqueue(ctx context.Context, job domain.Job) error
}

// Dispatcher hands one notification job per session turn to the queue.
// Enqueueing happens off the response path: Dispatch returns immediately and
// delivery failures belong to the job system, not the session.
type Dispatcher struct {
	queue Queue
	now   func() time.Time
	newID func() (string, error)
	logf  func(string, ...any)

	wg sync.WaitGroup
}

// New creates a dispatcher backed by the given queue.
func New(queue Queue) *Dispatcher {
	return &Dispatcher{
		queue: queue,
		now:   time.Now,
		newID: id.NewVisitorID,
		logf:  log.Printf,
	}
}

// Dispatch builds and enqueues one job for the turn's new assignments. It is
// a no-op when there are no new assignments or no queue. The session's
// context may already be finished by the time the enqueue runs, so the job
// is enqueued under a detached context with its own timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, distinctID, visitorID string, newAssignments map[string]string) {
	if d == nil || d.queue == nil || len(newAssignments) == 0 {
		return
	}
	job, err := domain.NewJob(domain.JobInput{
		DistinctID:     distinctID,
		VisitorID:      visitorID,
		NewAssignments: newAssignments,
	}, d.now, d.newID)
	if err != nil {
		d.logf("build notification job: %v", err)
		return
	}

	detached := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		enqueueCtx, cancel := context.WithTimeout(detached, timeouts.Enqueue)
		defer cancel()
		if err := d.queue.Enqueue(enqueueCtx, job); err != nil {
			d.logf("enqueue notification job %s: %v", job.ID, err)
		}
	}()
}

// wait blocks until in-flight enqueues complete. Test hook.
func (d *Dispatcher) wait() {
	d.wg.Wait()
}

// OutboxQueue persists jobs into the notification outbox store.
type OutboxQueue struct {
	store storage.Store
	now   func() time.Time
}

// NewOutboxQueue creates a queue backed by the outbox store.
func NewOutboxQueue(store storage.Store) *OutboxQueue {
	return &OutboxQueue{store: store, now: time.Now}
}

// Enqueue appends the job to the outbox.
func (q *OutboxQueue) Enqueue(ctx context.Context, job domain.Job) error {
	if q == nil || q.store == nil {
		return nil
	}
	payload, err := json.Marshal(job.NewAssignments)
	if err != nil {
		return err
	}
	now := q.now().UTC()
	return q.store.AppendJob(ctx, storage.JobRecord{
		ID:              job.ID,
		DistinctID:      job.DistinctID,
		VisitorID:       job.VisitorID,
		AssignmentsJSON: string(payload),
		Status:          storage.JobStatusPending,
		AvailableAt:     job.CreatedAt,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       now,
	})
}
