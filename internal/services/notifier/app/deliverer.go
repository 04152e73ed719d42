package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/divergence.space/internal/services/notifier/domain"
	"github.com/louisbranch/divergence.space/internal/services/notifier/storage"
)

func jobFromRecord(record storage.JobRecord) (domain.Job, error) {
	assignments := map[string]string{}
	if strings.TrimSpace(record.AssignmentsJSON) != "" {
		if err := json.Unmarshal([]byte(record.AssignmentsJSON), &assignments); err != nil {
			return domain.Job{}, fmt.Errorf("decode assignments: %w", err)
		}
	}
	return domain.Job{
		ID:             record.ID,
		DistinctID:     record.DistinctID,
		VisitorID:      record.VisitorID,
		NewAssignments: assignments,
		CreatedAt:      record.CreatedAt,
	}, nil
}

// HTTPDeliverer posts notification jobs to an analytics ingest endpoint.
type HTTPDeliverer struct {
	client   *http.Client
	endpoint string
}

// NewHTTPDeliverer creates a deliverer for the given ingest URL. A nil client
// defaults to http.DefaultClient.
func NewHTTPDeliverer(client *http.Client, endpoint string) *HTTPDeliverer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPDeliverer{client: client, endpoint: endpoint}
}

type ingestPayload struct {
	DistinctID     string            `json:"distinct_id"`
	VisitorID      string            `json:"visitor_id"`
	NewAssignments map[string]string `json:"new_assignments"`
	OccurredAt     string            `json:"occurred_at"`
}

// Deliver posts one job. Any status outside 2xx is a failure.
func (d *HTTPDeliverer) Deliver(ctx context.Context, job domain.Job) error {
	payload, err := json.Marshal(ingestPayload{
		DistinctID:     job.DistinctID,
		VisitorID:      job.VisitorID,
		NewAssignments: job.NewAssignments,
		OccurredAt:     job.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode ingest payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post ingest request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ingest endpoint returned %d", resp.StatusCode)
	}
	return nil
}
