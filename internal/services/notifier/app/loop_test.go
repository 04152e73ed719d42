package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/divergence.space/internal/services/notifier/domain"
	"github.com/louisbranch/divergence.space/internal/services/notifier/storage"
)

type loopStore struct {
	due       []storage.JobRecord
	listErr   error
	succeeded []string
	failed    []failedMark
}

type failedMark struct {
	jobID     string
	attempts  int
	lastError string
	retryAt   time.Time
	dead      bool
}

func (s *loopStore) Close() error { return nil }

func (s *loopStore) AppendJob(context.Context, storage.JobRecord) error { return nil }

func (s *loopStore) ListDueJobs(context.Context, time.Time, int) ([]storage.JobRecord, error) {
	return s.due, s.listErr
}

func (s *loopStore) MarkSucceeded(_ context.Context, jobID string, _ time.Time) error {
	s.succeeded = append(s.succeeded, jobID)
	return nil
}

func (s *loopStore) MarkFailed(_ context.Context, jobID string, attempts int, lastError string, retryAt time.Time, dead bool, _ time.Time) error {
	s.failed = append(s.failed, failedMark{
		jobID:     jobID,
		attempts:  attempts,
		lastError: lastError,
		retryAt:   retryAt,
		dead:      dead,
	})
	return nil
}

type delivererFunc func(ctx context.Context, job domain.Job) error

func (f delivererFunc) Deliver(ctx context.Context, job domain.Job) error { return f(ctx, job) }

func dueRecord(id string) storage.JobRecord {
	return storage.JobRecord{
		ID:              id,
		DistinctID:      "distinct-1",
		VisitorID:       "visitor-1",
		AssignmentsJSON: `{"banner":"on"}`,
		Status:          storage.JobStatusPending,
		Attempts:        0,
		CreatedAt:       time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newTestLoop(store storage.Store, deliverer Deliverer, cfg Config) *Loop {
	loop := New(store, deliverer, cfg, func(string, ...any) {})
	loop.now = func() time.Time { return time.Date(2025, 4, 1, 12, 30, 0, 0, time.UTC) }
	return loop
}

func TestProcessOnce_MarksSucceeded(t *testing.T) {
	t.Parallel()

	store := &loopStore{due: []storage.JobRecord{dueRecord("job-1"), dueRecord("job-2")}}
	var delivered []string
	loop := newTestLoop(store, delivererFunc(func(_ context.Context, job domain.Job) error {
		delivered = append(delivered, job.ID)
		if job.NewAssignments["banner"] != "on" {
			return fmt.Errorf("unexpected assignments %v", job.NewAssignments)
		}
		return nil
	}), Config{})

	if err := loop.processOnce(context.Background()); err != nil {
		t.Fatalf("processOnce: %v", err)
	}
	if len(delivered) != 2 {
		t.Fatalf("delivered %v, want 2 jobs", delivered)
	}
	if len(store.succeeded) != 2 || store.succeeded[0] != "job-1" {
		t.Fatalf("succeeded = %v", store.succeeded)
	}
	if len(store.failed) != 0 {
		t.Fatalf("failed = %v, want none", store.failed)
	}
}

func TestProcessOnce_SchedulesRetryWithBackoff(t *testing.T) {
	t.Parallel()

	record := dueRecord("job-1")
	record.Attempts = 2
	store := &loopStore{due: []storage.JobRecord{record}}
	loop := newTestLoop(store, delivererFunc(func(context.Context, domain.Job) error {
		return errors.New("ingest down")
	}), Config{MaxAttempts: 8, RetryBackoff: 5 * time.Second, RetryMaxDelay: 10 * time.Minute})

	if err := loop.processOnce(context.Background()); err != nil {
		t.Fatalf("processOnce: %v", err)
	}
	if len(store.failed) != 1 {
		t.Fatalf("failed = %v, want 1", store.failed)
	}
	mark := store.failed[0]
	if mark.attempts != 3 || mark.dead {
		t.Fatalf("mark = %+v, want attempts 3 pending", mark)
	}
	wantRetry := loop.now().UTC().Add(domain.RetryDelay(3, 5*time.Second, 10*time.Minute))
	if !mark.retryAt.Equal(wantRetry) {
		t.Fatalf("retry at = %v, want %v", mark.retryAt, wantRetry)
	}
	if !strings.Contains(mark.lastError, "ingest down") {
		t.Fatalf("last error = %q", mark.lastError)
	}
}

func TestProcessOnce_BuriesAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	record := dueRecord("job-1")
	record.Attempts = 7
	store := &loopStore{due: []storage.JobRecord{record}}
	loop := newTestLoop(store, delivererFunc(func(context.Context, domain.Job) error {
		return errors.New("ingest down")
	}), Config{MaxAttempts: 8})

	if err := loop.processOnce(context.Background()); err != nil {
		t.Fatalf("processOnce: %v", err)
	}
	if len(store.failed) != 1 || !store.failed[0].dead {
		t.Fatalf("failed = %+v, want dead mark", store.failed)
	}
}

func TestProcessOnce_BuriesUndecodablePayload(t *testing.T) {
	t.Parallel()

	record := dueRecord("job-1")
	record.AssignmentsJSON = "{not json"
	store := &loopStore{due: []storage.JobRecord{record}}
	delivered := 0
	loop := newTestLoop(store, delivererFunc(func(context.Context, domain.Job) error {
		delivered++
		return nil
	}), Config{})

	if err := loop.processOnce(context.Background()); err != nil {
		t.Fatalf("processOnce: %v", err)
	}
	if delivered != 0 {
		t.Fatalf("delivered %d jobs, want 0", delivered)
	}
	if len(store.failed) != 1 || !store.failed[0].dead {
		t.Fatalf("failed = %+v, want dead mark", store.failed)
	}
}

func TestProcessOnce_PropagatesListError(t *testing.T) {
	t.Parallel()

	store := &loopStore{listErr: errors.New("db locked")}
	loop := newTestLoop(store, delivererFunc(func(context.Context, domain.Job) error { return nil }), Config{})

	if err := loop.processOnce(context.Background()); err == nil {
		t.Fatal("expected list error")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	store := &loopStore{}
	loop := newTestLoop(store, delivererFunc(func(context.Context, domain.Job) error { return nil }), Config{PollInterval: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := loop.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run = %v, want deadline exceeded", err)
	}
}

func TestConfigNormalized(t *testing.T) {
	t.Parallel()

	cfg := Config{}.normalized()
	if cfg.Consumer != defaultConsumer {
		t.Fatalf("consumer = %q", cfg.Consumer)
	}
	if cfg.PollInterval != defaultPollInterval || cfg.BatchSize != defaultBatchSize {
		t.Fatalf("cadence = %v/%d", cfg.PollInterval, cfg.BatchSize)
	}
	if cfg.MaxAttempts != defaultMaxAttempts || cfg.RetryBackoff != defaultRetryBackoff || cfg.RetryMaxDelay != defaultRetryMaxDelay {
		t.Fatalf("retry = %d/%v/%v", cfg.MaxAttempts, cfg.RetryBackoff, cfg.RetryMaxDelay)
	}
}

func TestHTTPDeliverer_PostsIngestPayload(t *testing.T) {
	t.Parallel()

	var gotBody string
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	deliverer := NewHTTPDeliverer(server.Client(), server.URL)
	err := deliverer.Deliver(context.Background(), domain.Job{
		ID:             "job-1",
		DistinctID:     "distinct-1",
		VisitorID:      "visitor-1",
		NewAssignments: map[string]string{"banner": "on"},
		CreatedAt:      time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content type = %q", gotContentType)
	}
	for _, want := range []string{`"distinct_id":"distinct-1"`, `"visitor_id":"visitor-1"`, `"banner":"on"`, `"occurred_at":"2025-04-01T12:00:00Z"`} {
		if !strings.Contains(gotBody, want) {
			t.Fatalf("body %q missing %q", gotBody, want)
		}
	}
}

func TestHTTPDeliverer_NonSuccessStatusFails(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	deliverer := NewHTTPDeliverer(server.Client(), server.URL)
	err := deliverer.Deliver(context.Background(), domain.Job{DistinctID: "d", VisitorID: "v"})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("Deliver = %v, want 502 failure", err)
	}
}

func TestRunRequiresIngestURL(t *testing.T) {
	t.Parallel()

	err := Run(context.Background(), RuntimeConfig{})
	if err == nil || !strings.Contains(err.Error(), "ingest URL") {
		t.Fatalf("Run = %v, want ingest URL error", err)
	}
}
