package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis key layout. Jobs live in per-ID hashes; per-type lists and
// sorted sets track readiness, in-flight work, delayed retries, and
// terminal states.
const (
	keyPrefix = "anq"

	pollTimeout  = time.Second
	promoteBatch = 100

	// consumerTTL is the heartbeat expiry for a consumer. A consumer
	// refreshes it every poll; once it lapses, the consumer's in-flight
	// jobs are requeued. Handlers running longer than this may be
	// redelivered, which the at-least-once contract permits.
	consumerTTL = time.Minute
)

func readyKey(jobType string) string     { return keyPrefix + ":" + jobType + ":ready" }
func delayedKey(jobType string) string   { return keyPrefix + ":" + jobType + ":delayed" }
func failedKey(jobType string) string    { return keyPrefix + ":" + jobType + ":failed" }
func completedKey(jobType string) string { return keyPrefix + ":" + jobType + ":completed" }
func jobKey(jobID string) string         { return keyPrefix + ":job:" + jobID }
func typesKey() string                   { return keyPrefix + ":types" }
func consumersKey(jobType string) string { return keyPrefix + ":" + jobType + ":consumers" }

func heartbeatKey(jobType, consumerID string) string {
	return keyPrefix + ":" + jobType + ":heartbeat:" + consumerID
}

func processingKey(jobType, consumerID string) string {
	return keyPrefix + ":" + jobType + ":processing:" + consumerID
}

// RedisQueue implements Queue on Redis. Jobs survive process restarts;
// multiple workers may consume the same type concurrently with no
// ordering guarantee between jobs.
type RedisQueue struct {
	client      *redis.Client
	logger      *slog.Logger
	maxRetained int64
}

// NewRedisQueue creates a new Redis-backed queue. The client's lifecycle
// is owned by the caller (the process bootstrap).
func NewRedisQueue(client *redis.Client, logger *slog.Logger) *RedisQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisQueue{
		client:      client,
		logger:      logger,
		maxRetained: DefaultMaxRetained,
	}
}

// Enqueue persists the job hash and pushes its ID onto the ready list.
func (q *RedisQueue) Enqueue(ctx context.Context, jobType string, payload interface{}, opts Options) (string, error) {
	encoded, err := encodePayload(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	opts = opts.withDefaults()
	jobID := uuid.New().String()
	now := time.Now()

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, jobKey(jobID), map[string]interface{}{
		"type":         jobType,
		"payload":      string(encoded),
		"attempts":     0,
		"max_attempts": opts.MaxAttempts,
		"backoff_ms":   opts.BackoffBase.Milliseconds(),
		"state":        StatePending,
		"enqueued_at":  now.Unix(),
	})
	pipe.LPush(ctx, readyKey(jobType), jobID)
	pipe.SAdd(ctx, typesKey(), jobType)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	return jobID, nil
}

// GetStatus reports the state of a job by ID.
func (q *RedisQueue) GetStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	fields, err := q.client.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}

	attempts, _ := strconv.Atoi(fields["attempts"])
	return &JobStatus{
		ID:       jobID,
		Type:     fields["type"],
		State:    fields["state"],
		Attempts: attempts,
		Error:    fields["last_error"],
	}, nil
}

// Consume delivers jobs of the given type until ctx is cancelled. Each
// call registers itself as a consumer with a heartbeat and moves jobs
// onto its own processing list while handling them, so a crash
// mid-handle never loses a job: once the heartbeat lapses, a surviving
// consumer requeues the stranded entries. Delayed retries are promoted
// back onto the ready list before each poll.
func (q *RedisQueue) Consume(ctx context.Context, jobType string, handler Handler) error {
	consumerID := uuid.New().String()
	procKey := processingKey(jobType, consumerID)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.client.SAdd(ctx, consumersKey(jobType), consumerID)
		q.client.Set(ctx, heartbeatKey(jobType, consumerID), 1, consumerTTL)

		if err := q.promoteDue(ctx, jobType); err != nil && !errors.Is(err, context.Canceled) {
			q.logger.Warn("failed to promote delayed jobs", "job_type", jobType, "error", err)
		}
		if err := q.reclaimStranded(ctx, jobType); err != nil && !errors.Is(err, context.Canceled) {
			q.logger.Warn("failed to reclaim stranded jobs", "job_type", jobType, "error", err)
		}

		jobID, err := q.client.BLMove(ctx, readyKey(jobType), procKey, "RIGHT", "LEFT", pollTimeout).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.Warn("queue poll failed", "job_type", jobType, "error", err)
			// Transient broker error; back off briefly before retrying.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollTimeout):
			}
			continue
		}
		q.deliver(ctx, jobType, jobID, procKey, handler)
	}
}

// promoteDue moves delayed jobs whose retry time has passed back onto
// the ready list.
func (q *RedisQueue) promoteDue(ctx context.Context, jobType string) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	due, err := q.client.ZRangeByScore(ctx, delayedKey(jobType), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: promoteBatch,
	}).Result()
	if err != nil || len(due) == 0 {
		return err
	}

	pipe := q.client.TxPipeline()
	for _, jobID := range due {
		pipe.ZRem(ctx, delayedKey(jobType), jobID)
		pipe.LPush(ctx, readyKey(jobType), jobID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// reclaimStranded requeues in-flight jobs belonging to consumers whose
// heartbeat has lapsed, then retires those consumers.
func (q *RedisQueue) reclaimStranded(ctx context.Context, jobType string) error {
	ids, err := q.client.SMembers(ctx, consumersKey(jobType)).Result()
	if err != nil || len(ids) == 0 {
		return err
	}

	for _, id := range ids {
		alive, err := q.client.Exists(ctx, heartbeatKey(jobType, id)).Result()
		if err != nil {
			return err
		}
		if alive > 0 {
			continue
		}

		for {
			jobID, err := q.client.LMove(ctx, processingKey(jobType, id), readyKey(jobType), "RIGHT", "LEFT").Result()
			if err == redis.Nil {
				break
			}
			if err != nil {
				return err
			}
			q.client.HSet(ctx, jobKey(jobID), "state", StatePending)
			q.logger.Warn("reclaimed stranded job", "job_id", jobID, "job_type", jobType, "consumer_id", id)
		}
		q.client.SRem(ctx, consumersKey(jobType), id)
	}
	return nil
}

func (q *RedisQueue) deliver(ctx context.Context, jobType, jobID, procKey string, handler Handler) {
	key := jobKey(jobID)

	fields, err := q.client.HGetAll(ctx, key).Result()
	if err != nil || len(fields) == 0 {
		q.logger.Warn("dequeued job without record", "job_id", jobID, "error", err)
		q.client.LRem(ctx, procKey, 1, jobID)
		return
	}

	attempts, err := q.client.HIncrBy(ctx, key, "attempts", 1).Result()
	if err != nil {
		q.logger.Warn("failed to bump attempts", "job_id", jobID, "error", err)
		// Hand the job back rather than leaving it parked in-flight.
		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, procKey, 1, jobID)
		pipe.LPush(ctx, readyKey(jobType), jobID)
		if _, err := pipe.Exec(ctx); err != nil {
			q.logger.Warn("failed to requeue job", "job_id", jobID, "error", err)
		}
		return
	}
	q.client.HSet(ctx, key, "state", StateRunning)

	maxAttempts, _ := strconv.Atoi(fields["max_attempts"])
	backoffMS, _ := strconv.ParseInt(fields["backoff_ms"], 10, 64)
	enqueuedAt, _ := strconv.ParseInt(fields["enqueued_at"], 10, 64)

	job := &Job{
		ID:          jobID,
		Type:        jobType,
		Payload:     []byte(fields["payload"]),
		Attempts:    int(attempts),
		MaxAttempts: maxAttempts,
		EnqueuedAt:  time.Unix(enqueuedAt, 0),
	}

	handlerErr := handler(ctx, job)
	now := time.Now()

	// Every terminal transition removes the job from the processing list
	// in the same transaction, so it is never in two places and never in
	// none.
	if handlerErr == nil {
		pipe := q.client.TxPipeline()
		pipe.HSet(ctx, key, "state", StateCompleted)
		pipe.ZAdd(ctx, completedKey(jobType), redis.Z{Score: float64(now.Unix()), Member: jobID})
		pipe.ZRemRangeByRank(ctx, completedKey(jobType), 0, -(q.maxRetained + 1))
		pipe.LRem(ctx, procKey, 1, jobID)
		if _, err := pipe.Exec(ctx); err != nil {
			q.logger.Warn("failed to mark job completed", "job_id", jobID, "error", err)
		}
		return
	}

	if int(attempts) >= maxAttempts {
		pipe := q.client.TxPipeline()
		pipe.HSet(ctx, key, "state", StateFailed, "last_error", handlerErr.Error())
		pipe.ZAdd(ctx, failedKey(jobType), redis.Z{Score: float64(now.Unix()), Member: jobID})
		pipe.ZRemRangeByRank(ctx, failedKey(jobType), 0, -(q.maxRetained + 1))
		pipe.LRem(ctx, procKey, 1, jobID)
		if _, err := pipe.Exec(ctx); err != nil {
			q.logger.Warn("failed to mark job failed", "job_id", jobID, "error", err)
		}
		q.logger.Error("job exhausted retries",
			"job_id", jobID,
			"job_type", jobType,
			"attempts", attempts,
			"error", handlerErr)
		return
	}

	delay := Backoff(time.Duration(backoffMS)*time.Millisecond, int(attempts))
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key, "state", StatePending, "last_error", handlerErr.Error())
	pipe.ZAdd(ctx, delayedKey(jobType), redis.Z{Score: float64(now.Add(delay).Unix()), Member: jobID})
	pipe.LRem(ctx, procKey, 1, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Warn("failed to schedule retry", "job_id", jobID, "error", err)
	}
}

// RetryFailed re-enqueues failed jobs with a fresh retry budget.
func (q *RedisQueue) RetryFailed(ctx context.Context, jobType string) (int, error) {
	types := []string{jobType}
	if jobType == "" {
		var err error
		types, err = q.client.SMembers(ctx, typesKey()).Result()
		if err != nil {
			return 0, fmt.Errorf("list job types: %w", err)
		}
	}

	count := 0
	for _, t := range types {
		jobIDs, err := q.client.ZRange(ctx, failedKey(t), 0, -1).Result()
		if err != nil {
			return count, fmt.Errorf("list failed jobs for %s: %w", t, err)
		}
		for _, jobID := range jobIDs {
			pipe := q.client.TxPipeline()
			pipe.ZRem(ctx, failedKey(t), jobID)
			pipe.HSet(ctx, jobKey(jobID), "state", StatePending, "attempts", 0, "last_error", "")
			pipe.LPush(ctx, readyKey(t), jobID)
			if _, err := pipe.Exec(ctx); err != nil {
				return count, fmt.Errorf("retry job %s: %w", jobID, err)
			}
			count++
		}
	}
	return count, nil
}

// PurgeCompleted removes completed-job records older than the given age,
// including their job hashes.
func (q *RedisQueue) PurgeCompleted(ctx context.Context, olderThan time.Duration) (int, error) {
	types, err := q.client.SMembers(ctx, typesKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("list job types: %w", err)
	}

	cutoff := strconv.FormatInt(time.Now().Add(-olderThan).Unix(), 10)
	count := 0
	for _, t := range types {
		jobIDs, err := q.client.ZRangeByScore(ctx, completedKey(t), &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
		if err != nil {
			return count, fmt.Errorf("list completed jobs for %s: %w", t, err)
		}
		if len(jobIDs) == 0 {
			continue
		}
		pipe := q.client.TxPipeline()
		for _, jobID := range jobIDs {
			pipe.ZRem(ctx, completedKey(t), jobID)
			pipe.Del(ctx, jobKey(jobID))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return count, fmt.Errorf("purge completed jobs for %s: %w", t, err)
		}
		count += len(jobIDs)
	}
	return count, nil
}

// Stats reports depth and failure state for one job type. Depth counts
// ready, delayed, and in-flight jobs.
func (q *RedisQueue) Stats(ctx context.Context, jobType string) (Stats, error) {
	var s Stats

	depth, err := q.client.LLen(ctx, readyKey(jobType)).Result()
	if err != nil {
		return s, fmt.Errorf("queue depth for %s: %w", jobType, err)
	}
	delayed, err := q.client.ZCard(ctx, delayedKey(jobType)).Result()
	if err != nil {
		return s, fmt.Errorf("delayed depth for %s: %w", jobType, err)
	}
	s.Depth = depth + delayed

	consumers, err := q.client.SMembers(ctx, consumersKey(jobType)).Result()
	if err != nil {
		return s, fmt.Errorf("list consumers for %s: %w", jobType, err)
	}
	for _, id := range consumers {
		inFlight, err := q.client.LLen(ctx, processingKey(jobType, id)).Result()
		if err != nil {
			return s, fmt.Errorf("in-flight depth for %s: %w", jobType, err)
		}
		s.Depth += inFlight
	}

	s.Failed, err = q.client.ZCard(ctx, failedKey(jobType)).Result()
	if err != nil {
		return s, fmt.Errorf("failed count for %s: %w", jobType, err)
	}

	if s.Failed > 0 {
		oldest, err := q.client.ZRangeWithScores(ctx, failedKey(jobType), 0, 0).Result()
		if err != nil {
			return s, fmt.Errorf("oldest failed for %s: %w", jobType, err)
		}
		if len(oldest) > 0 {
			s.OldestFailedAge = time.Since(time.Unix(int64(oldest[0].Score), 0))
		}
	}
	return s, nil
}

// Close is a no-op: the Redis client is owned by the process bootstrap.
func (q *RedisQueue) Close() error {
	return nil
}
