package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// readyBuffer is the per-type capacity of the in-memory ready channel.
const readyBuffer = 4096

// memJob wraps a job with its bookkeeping state.
type memJob struct {
	job         Job
	opts        Options
	state       string
	completedAt time.Time
	failedAt    time.Time
}

// InMemoryQueue is an in-process implementation of Queue, used in tests
// and single-process deployments. Delivery semantics match the Redis
// implementation: at least once, bounded retries with exponential
// backoff, failed jobs retained for inspection.
type InMemoryQueue struct {
	mu     sync.Mutex
	jobs   map[string]*memJob
	ready  map[string]chan string // job type -> ready job IDs
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue.
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		jobs:  make(map[string]*memJob),
		ready: make(map[string]chan string),
	}
}

func (q *InMemoryQueue) readyChan(jobType string) chan string {
	ch, ok := q.ready[jobType]
	if !ok {
		ch = make(chan string, readyBuffer)
		q.ready[jobType] = ch
	}
	return ch
}

// Enqueue adds a job to the ready channel for its type.
func (q *InMemoryQueue) Enqueue(ctx context.Context, jobType string, payload interface{}, opts Options) (string, error) {
	encoded, err := encodePayload(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrQueueClosed
	}

	opts = opts.withDefaults()
	job := Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		Payload:     encoded,
		MaxAttempts: opts.MaxAttempts,
		EnqueuedAt:  time.Now(),
	}
	q.jobs[job.ID] = &memJob{job: job, opts: opts, state: StatePending}

	select {
	case q.readyChan(jobType) <- job.ID:
	default:
		delete(q.jobs, job.ID)
		return "", fmt.Errorf("queue for %s is full", jobType)
	}
	return job.ID, nil
}

// GetStatus reports the state of a job by ID.
func (q *InMemoryQueue) GetStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	mj, ok := q.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &JobStatus{
		ID:       mj.job.ID,
		Type:     mj.job.Type,
		State:    mj.state,
		Attempts: mj.job.Attempts,
		Error:    mj.job.LastError,
	}, nil
}

// Consume delivers jobs of the given type to handler until ctx is done.
func (q *InMemoryQueue) Consume(ctx context.Context, jobType string, handler Handler) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	ch := q.readyChan(jobType)
	q.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case jobID := <-ch:
			q.deliver(ctx, jobID, handler)
		}
	}
}

func (q *InMemoryQueue) deliver(ctx context.Context, jobID string, handler Handler) {
	q.mu.Lock()
	mj, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return
	}
	mj.state = StateRunning
	mj.job.Attempts++
	job := mj.job
	q.mu.Unlock()

	err := handler(ctx, &job)

	q.mu.Lock()
	defer q.mu.Unlock()

	if err == nil {
		mj.state = StateCompleted
		mj.completedAt = time.Now()
		q.trimCompletedLocked()
		return
	}

	mj.job.LastError = err.Error()
	if mj.job.Attempts >= mj.job.MaxAttempts {
		mj.state = StateFailed
		mj.failedAt = time.Now()
		return
	}

	// Schedule a delayed redelivery with exponential backoff.
	mj.state = StatePending
	delay := Backoff(mj.opts.BackoffBase, mj.job.Attempts)
	jobType := mj.job.Type
	time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.closed {
			return
		}
		select {
		case q.readyChan(jobType) <- jobID:
		default:
			// Ready channel full; mark failed so the job stays visible.
			mj.state = StateFailed
			mj.failedAt = time.Now()
		}
	})
}

// trimCompletedLocked caps retained completed jobs at DefaultMaxRetained
// by dropping the oldest. Caller holds q.mu.
func (q *InMemoryQueue) trimCompletedLocked() {
	completed := 0
	var oldestID string
	var oldestAt time.Time
	for id, mj := range q.jobs {
		if mj.state != StateCompleted {
			continue
		}
		completed++
		if oldestID == "" || mj.completedAt.Before(oldestAt) {
			oldestID, oldestAt = id, mj.completedAt
		}
	}
	if completed > DefaultMaxRetained {
		delete(q.jobs, oldestID)
	}
}

// RetryFailed re-enqueues failed jobs, giving each a fresh retry budget.
func (q *InMemoryQueue) RetryFailed(ctx context.Context, jobType string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrQueueClosed
	}

	count := 0
	for id, mj := range q.jobs {
		if mj.state != StateFailed {
			continue
		}
		if jobType != "" && mj.job.Type != jobType {
			continue
		}
		select {
		case q.readyChan(mj.job.Type) <- id:
			mj.state = StatePending
			mj.job.Attempts = 0
			mj.failedAt = time.Time{}
			count++
		default:
		}
	}
	return count, nil
}

// PurgeCompleted removes completed-job records older than the given age.
func (q *InMemoryQueue) PurgeCompleted(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	count := 0
	for id, mj := range q.jobs {
		if mj.state == StateCompleted && mj.completedAt.Before(cutoff) {
			delete(q.jobs, id)
			count++
		}
	}
	return count, nil
}

// Stats reports depth and failure state for one job type.
func (q *InMemoryQueue) Stats(ctx context.Context, jobType string) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	now := time.Now()
	for _, mj := range q.jobs {
		if mj.job.Type != jobType {
			continue
		}
		switch mj.state {
		case StatePending, StateRunning:
			s.Depth++
		case StateFailed:
			s.Failed++
			if age := now.Sub(mj.failedAt); age > s.OldestFailedAge {
				s.OldestFailedAge = age
			}
		}
	}
	return s, nil
}

// Close marks the queue closed. Pending jobs are dropped; the in-memory
// queue has no durability across processes.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
