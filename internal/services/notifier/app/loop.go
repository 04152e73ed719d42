// Package app runs the notification delivery loop and its runtime wiring.
package app

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/louisbranch/divergence.space/internal/services/notifier/domain"
	"github.com/louisbranch/divergence.space/internal/services/notifier/storage"
)

const (
	defaultConsumer      = "notifier"
	defaultPollInterval  = 2 * time.Second
	defaultBatchSize     = 25
	defaultMaxAttempts   = 8
	defaultRetryBackoff  = 5 * time.Second
	defaultRetryMaxDelay = 10 * time.Minute
)

// Deliverer sends one notification job to the analytics sink.
type Deliverer interface {
	Deliver(ctx context.Context, job domain.Job) error
}

// Config controls loop cadence and retry behavior.
type Config struct {
	Consumer      string
	PollInterval  time.Duration
	BatchSize     int
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) normalized() Config {
	if strings.TrimSpace(c.Consumer) == "" {
		c.Consumer = defaultConsumer
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	return c
}

// Loop polls the outbox and delivers due notification jobs.
type Loop struct {
	store     storage.Store
	deliverer Deliverer
	cfg       Config
	logf      func(string, ...any)
	now       func() time.Time
}

// New creates a delivery loop. A nil logf defaults to log.Printf.
func New(store storage.Store, deliverer Deliverer, cfg Config, logf func(string, ...any)) *Loop {
	if logf == nil {
		logf = log.Printf
	}
	return &Loop{
		store:     store,
		deliverer: deliverer,
		cfg:       cfg.normalized(),
		logf:      logf,
		now:       time.Now,
	}
}

// Run polls until the context is done. Poll failures are logged and the loop
// keeps going; only context cancellation stops it.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := l.processOnce(ctx); err != nil {
			l.logf("%s: process outbox: %v", l.cfg.Consumer, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Loop) processOnce(ctx context.Context) error {
	now := l.now().UTC()
	records, err := l.store.ListDueJobs(ctx, now, l.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.processRecord(ctx, record)
	}
	return nil
}

func (l *Loop) processRecord(ctx context.Context, record storage.JobRecord) {
	job, err := jobFromRecord(record)
	if err != nil {
		// Undeliverable payloads never become deliverable. Bury immediately.
		l.logf("%s: decode job %s: %v", l.cfg.Consumer, record.ID, err)
		now := l.now().UTC()
		if markErr := l.store.MarkFailed(ctx, record.ID, record.Attempts+1, err.Error(), now, true, now); markErr != nil {
			l.logf("%s: mark job %s dead: %v", l.cfg.Consumer, record.ID, markErr)
		}
		return
	}

	deliverErr := l.deliverer.Deliver(ctx, job)
	now := l.now().UTC()
	if deliverErr == nil {
		if err := l.store.MarkSucceeded(ctx, record.ID, now); err != nil {
			l.logf("%s: mark job %s succeeded: %v", l.cfg.Consumer, record.ID, err)
		}
		return
	}

	attempts := record.Attempts + 1
	dead := attempts >= l.cfg.MaxAttempts
	retryAt := now.Add(domain.RetryDelay(attempts, l.cfg.RetryBackoff, l.cfg.RetryMaxDelay))
	l.logf("%s: deliver job %s attempt %d: %v", l.cfg.Consumer, record.ID, attempts, deliverErr)
	if err := l.store.MarkFailed(ctx, record.ID, attempts, deliverErr.Error(), retryAt, dead, now); err != nil {
		l.logf("%s: mark job %s failed: %v", l.cfg.Consumer, record.ID, err)
	}
}
