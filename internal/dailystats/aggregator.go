package dailystats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/evermart/analytics/internal/event"
)

// Aggregator drives rollup runs and retention cleanup. At most one
// rollup per date runs at a time within a process: overlapping requests
// for the same date get ErrRollupInFlight instead of piling up. Across
// processes the transactional overwrite upsert makes a concurrent
// duplicate run harmless.
type Aggregator struct {
	repo    Repository
	events  event.Store
	logger  *slog.Logger
	metrics *Metrics // optional

	mu       sync.Mutex
	inFlight map[time.Time]bool
}

// Status reports which rollup dates are currently running.
type Status struct {
	Running []string `json:"running,omitempty"`
	Idle    bool     `json:"idle"`
}

// NewAggregator creates a new rollup aggregator.
func NewAggregator(repo Repository, events event.Store, logger *slog.Logger, metrics *Metrics) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		repo:     repo,
		events:   events,
		logger:   logger,
		metrics:  metrics,
		inFlight: make(map[time.Time]bool),
	}
}

// RollupDate runs the rollup for one UTC date. Returns ErrRollupInFlight
// when a run for that date is already in progress.
func (a *Aggregator) RollupDate(ctx context.Context, date time.Time) (int, error) {
	day := Day(date)

	a.mu.Lock()
	if a.inFlight[day] {
		a.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrRollupInFlight, day.Format("2006-01-02"))
	}
	a.inFlight[day] = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.inFlight, day)
		a.mu.Unlock()
	}()

	start := time.Now()
	rows, err := a.repo.RollupDate(ctx, day)
	if a.metrics != nil {
		status := "success"
		if err != nil {
			status = "failure"
		}
		a.metrics.ObserveRollup(status, time.Since(start).Seconds(), rows)
	}
	if err != nil {
		a.logger.Error("daily rollup failed",
			"date", day.Format("2006-01-02"),
			"error", err)
		return 0, err
	}
	return rows, nil
}

// RollupYesterday rolls up the most recently completed UTC day. This is
// what the cron schedule runs shortly after midnight.
func (a *Aggregator) RollupYesterday(ctx context.Context) (int, error) {
	return a.RollupDate(ctx, Day(time.Now()).AddDate(0, 0, -1))
}

// RollupRange runs the rollup for every date in the inclusive range, in
// order. Used for backfills. Stops at the first error.
func (a *Aggregator) RollupRange(ctx context.Context, from, to time.Time) (int, error) {
	fromDay, toDay := Day(from), Day(to)
	if toDay.Before(fromDay) {
		return 0, event.ErrInvalidRange
	}

	total := 0
	for day := fromDay; !day.After(toDay); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		rows, err := a.RollupDate(ctx, day)
		if err != nil {
			return total, err
		}
		total += rows
	}
	return total, nil
}

// Cleanup deletes raw events older than the retention window, one day
// at a time, and only for dates whose rollup run is confirmed. A date
// that never rolled up keeps its raw events past retention so nothing
// is lost before it is aggregated.
func (a *Aggregator) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := Day(time.Now().Add(-retention))

	dates, err := a.repo.ConfirmedDates(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list confirmed dates: %w", err)
	}

	deleted := 0
	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		n, err := a.events.DeleteDay(ctx, date)
		if err != nil {
			return deleted, fmt.Errorf("delete events for %s: %w", date.Format("2006-01-02"), err)
		}
		deleted += n
	}

	if a.metrics != nil {
		a.metrics.IncEventsPurged(deleted)
	}
	if deleted > 0 {
		a.logger.Info("retention cleanup complete",
			"dates", len(dates),
			"deleted", deleted)
	}
	return deleted, nil
}

// Status reports the aggregator's current rollup activity.
func (a *Aggregator) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	var running []string
	for day := range a.inFlight {
		running = append(running, day.Format("2006-01-02"))
	}
	sort.Strings(running)
	return Status{Running: running, Idle: len(running) == 0}
}
