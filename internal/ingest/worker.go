package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/evermart/analytics/internal/event"
	"github.com/evermart/analytics/internal/jobs"
	"github.com/evermart/analytics/internal/queue"
)

// LikeCounter applies like/unlike toggles to denormalized product
// counters. Defined here so the worker does not depend on the full
// quick-stats repository surface.
type LikeCounter interface {
	ToggleLike(ctx context.Context, productID string, delta int64) error
}

// Worker consumes event-recording jobs and persists events to the
// store. Handlers are idempotent: the store deduplicates on event ID,
// so at-least-once redelivery never duplicates rows.
type Worker struct {
	store      event.Store
	likes      LikeCounter // optional
	logger     *slog.Logger
	metrics    *Metrics
	jobMetrics *jobs.Metrics // optional
}

// NewWorker creates a new ingestion worker.
func NewWorker(store event.Store, likes LikeCounter, logger *slog.Logger, metrics *Metrics, jobMetrics *jobs.Metrics) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:      store,
		likes:      likes,
		logger:     logger,
		metrics:    metrics,
		jobMetrics: jobMetrics,
	}
}

// Run consumes both single-event and batch jobs until ctx is cancelled.
// Each consumer loop runs in its own goroutine; Run blocks until both
// return.
func (w *Worker) Run(ctx context.Context, q queue.Queue) {
	done := make(chan struct{}, 2)
	for _, jobType := range []string{queue.JobTypeRecordEvent, queue.JobTypeRecordBatch} {
		go func(jt string) {
			defer func() { done <- struct{}{} }()
			if err := q.Consume(ctx, jt, w.Handle); err != nil && ctx.Err() == nil {
				w.logger.Error("consumer stopped", "job_type", jt, "error", err)
			}
		}(jobType)
	}
	<-done
	<-done
}

// Handle processes one delivered job: decode, bulk-insert, apply
// like-count side effects. Returning an error hands the job back to the
// queue for retry per its backoff policy.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	start := time.Now()

	events, err := decodeJob(job)
	if err != nil {
		// Malformed payloads cannot succeed on retry, but failing the
		// job keeps it visible on the failed set for inspection.
		w.observe(job.Type, jobs.StatusFailure, start)
		return err
	}

	inserted, err := w.store.InsertBatch(ctx, events)
	if err != nil {
		w.observe(job.Type, jobs.StatusFailure, start)
		return fmt.Errorf("insert %d events: %w", len(events), err)
	}

	w.applyLikeToggles(ctx, events)

	if w.metrics != nil {
		w.metrics.IncInserted(inserted)
	}
	w.observe(job.Type, jobs.StatusSuccess, start)

	w.logger.Debug("persisted event batch",
		"job_id", job.ID,
		"events", len(events),
		"inserted", inserted,
		"attempt", job.Attempts)
	return nil
}

// decodeJob unmarshals a job payload into a slice of events. Single
// event jobs carry one object; batch jobs carry an array.
func decodeJob(job *queue.Job) ([]event.Event, error) {
	switch job.Type {
	case queue.JobTypeRecordEvent:
		var e event.Event
		if err := json.Unmarshal(job.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode event payload: %w", err)
		}
		return []event.Event{e}, nil
	case queue.JobTypeRecordBatch:
		var events []event.Event
		if err := json.Unmarshal(job.Payload, &events); err != nil {
			return nil, fmt.Errorf("decode batch payload: %w", err)
		}
		return events, nil
	default:
		return nil, fmt.Errorf("unexpected job type %q", job.Type)
	}
}

// applyLikeToggles folds like/unlike events into the denormalized like
// counter. Redelivery can over-count here; that is the documented
// bounded error for non-idempotent side effects.
func (w *Worker) applyLikeToggles(ctx context.Context, events []event.Event) {
	if w.likes == nil {
		return
	}
	for _, e := range events {
		if e.ProductID == nil {
			continue
		}
		var delta int64
		switch e.EventType {
		case event.TypeLike:
			delta = 1
		case event.TypeUnlike:
			delta = -1
		default:
			continue
		}
		if err := w.likes.ToggleLike(ctx, *e.ProductID, delta); err != nil {
			w.logger.Warn("failed to toggle like count",
				"product_id", *e.ProductID,
				"error", err)
		}
	}
}

func (w *Worker) observe(jobType, status string, start time.Time) {
	if w.jobMetrics == nil {
		return
	}
	w.jobMetrics.IncJobsTotal(jobType, status)
	w.jobMetrics.ObserveJobDuration(jobType, time.Since(start).Seconds())
}
