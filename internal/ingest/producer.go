// Package ingest provides the asynchronous event ingestion path: a
// producer that validates and enqueues interaction events, and a worker
// that consumes queue jobs and bulk-inserts events into the event store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/evermart/analytics/internal/event"
	"github.com/evermart/analytics/internal/queue"
)

// MaxBatchSize is the largest batch a producer accepts. Larger batches
// are rejected at the boundary, never enqueued.
const MaxBatchSize = 1000

// Common errors for producer operations.
var (
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")
	ErrEmptyBatch    = errors.New("batch is empty")
)

// BatchItemError describes one rejected event within a batch.
type BatchItemError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// BatchReceipt reports per-item acceptance for a batch. A batch with
// invalid items is not rejected as a whole: valid events are enqueued
// and invalid ones are reported item by item.
type BatchReceipt struct {
	Processed int              `json:"processed"`
	Failed    int              `json:"failed"`
	Errors    []BatchItemError `json:"errors,omitempty"`
	JobID     string           `json:"job_id,omitempty"`
}

// Producer validates events and hands them to the durable queue.
// Producers return as soon as the job is enqueued; they never block on
// store writes. The queue client is injected; its lifecycle belongs to
// the process bootstrap.
type Producer struct {
	queue   queue.Queue
	logger  *slog.Logger
	metrics *Metrics
}

// NewProducer creates a new event producer.
func NewProducer(q queue.Queue, logger *slog.Logger, metrics *Metrics) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		queue:   q,
		logger:  logger,
		metrics: metrics,
	}
}

// prepare assigns an ID and timestamp to an event that lacks them.
func prepare(e *event.Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
}

// Record validates and enqueues a single event. Validation failures are
// client errors and are never enqueued.
func (p *Producer) Record(ctx context.Context, e event.Event) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	prepare(&e)

	jobID, err := p.queue.Enqueue(ctx, queue.JobTypeRecordEvent, e, queue.Options{})
	if err != nil {
		return "", fmt.Errorf("enqueue event: %w", err)
	}
	if p.metrics != nil {
		p.metrics.IncEnqueued(string(e.EventType), 1)
	}
	return jobID, nil
}

// RecordBatch validates each event, enqueues the valid ones as a single
// batch job, and reports per-item failures in the receipt.
func (p *Producer) RecordBatch(ctx context.Context, events []event.Event) (*BatchReceipt, error) {
	if len(events) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(events) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(events), MaxBatchSize)
	}

	receipt := &BatchReceipt{}
	valid := make([]event.Event, 0, len(events))
	for i, e := range events {
		if err := e.Validate(); err != nil {
			receipt.Failed++
			receipt.Errors = append(receipt.Errors, BatchItemError{Index: i, Message: err.Error()})
			continue
		}
		prepare(&e)
		valid = append(valid, e)
		receipt.Processed++
	}

	if len(valid) == 0 {
		return receipt, nil
	}

	jobID, err := p.queue.Enqueue(ctx, queue.JobTypeRecordBatch, valid, queue.Options{})
	if err != nil {
		return nil, fmt.Errorf("enqueue batch: %w", err)
	}
	receipt.JobID = jobID

	if p.metrics != nil {
		for _, e := range valid {
			p.metrics.IncEnqueued(string(e.EventType), 1)
		}
		p.metrics.ObserveBatchSize(len(valid))
	}
	return receipt, nil
}
