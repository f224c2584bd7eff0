// Package queue provides the durable job queue used by event ingestion
// and maintenance work. Delivery is at least once: a job may be
// redelivered after a crash even if it was fully processed, so handlers
// must be idempotent or accept bounded over-counting.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Job types carried by the queue.
const (
	JobTypeRecordEvent = "record_event"
	JobTypeRecordBatch = "record_event_batch"
)

// Job states.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Default retry and retention policy.
const (
	DefaultMaxAttempts      = 3
	DefaultBackoffBase      = 2 * time.Second
	DefaultFailedRetention  = 24 * time.Hour
	DefaultCompleteRetention = time.Hour
	DefaultMaxRetained      = 10000
)

// Common errors for queue operations.
var (
	ErrJobNotFound = errors.New("job not found")
	ErrQueueClosed = errors.New("queue is closed")
)

// Job is one unit of work carried by the queue.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	LastError   string          `json:"last_error,omitempty"`
}

// JobStatus is the operator-visible state of a job.
type JobStatus struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	State    string `json:"state"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// Options tunes per-enqueue retry behavior. Zero values fall back to the
// package defaults.
type Options struct {
	MaxAttempts int
	BackoffBase time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	return o
}

// Backoff returns the delay before the given retry attempt (1-based),
// doubling from the base each time.
func Backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Stats describes queue health for one job type.
type Stats struct {
	Depth           int64         `json:"depth"`
	Failed          int64         `json:"failed"`
	OldestFailedAge time.Duration `json:"oldest_failed_age"`
}

// Handler processes one delivered job. Returning an error triggers a
// retry per the job's backoff policy; after attempts are exhausted the
// job is marked failed and surfaced through queue health, not retried
// automatically.
type Handler func(ctx context.Context, job *Job) error

// Queue is the durable job queue contract. Implementations deliver at
// least once. The client is injected into producers and workers by the
// process bootstrap, which also owns Close.
type Queue interface {
	// Enqueue adds a job and returns its ID. Producers never block on
	// downstream store writes.
	Enqueue(ctx context.Context, jobType string, payload interface{}, opts Options) (string, error)

	// GetStatus reports the state of a job by ID.
	GetStatus(ctx context.Context, jobID string) (*JobStatus, error)

	// Consume delivers jobs of the given type to handler until ctx is
	// cancelled. Blocks; run it in its own goroutine.
	Consume(ctx context.Context, jobType string, handler Handler) error

	// RetryFailed re-enqueues failed jobs of the given type (all types
	// when jobType is empty) and returns how many were re-enqueued.
	RetryFailed(ctx context.Context, jobType string) (int, error)

	// PurgeCompleted removes completed-job records older than the given
	// age and returns how many were removed.
	PurgeCompleted(ctx context.Context, olderThan time.Duration) (int, error)

	// Stats reports queue depth and failure state for one job type.
	Stats(ctx context.Context, jobType string) (Stats, error)

	// Close releases queue resources. Jobs already persisted remain for
	// the next process.
	Close() error
}

// encodePayload marshals an enqueue payload to JSON. Raw JSON and byte
// payloads pass through untouched.
func encodePayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(payload)
	}
}
