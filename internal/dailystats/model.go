// Package dailystats provides the materialized per-day aggregate
// counters and the scheduled rollup that folds raw events into them.
package dailystats

import (
	"context"
	"errors"
	"time"

	"github.com/evermart/analytics/internal/event"
)

// Common errors for rollup operations.
var (
	ErrRollupInFlight = errors.New("rollup already running for date")
	ErrStatNotFound   = errors.New("daily stat not found")
)

// DailyStat is one materialized row of per-day counters for a store or
// product. Rows are created and overwritten only by the rollup; no other
// component partially updates them.
type DailyStat struct {
	Scope      event.Scope `json:"scope"`
	EntityID   string      `json:"entity_id"`
	Date       time.Time   `json:"date"` // UTC midnight
	Views      int64       `json:"views"`
	Purchases  int64       `json:"purchases"`
	AddToCarts int64       `json:"add_to_carts"`
	Checkouts  int64       `json:"checkouts"`
	Revenue    float64     `json:"revenue"`
}

// Totals converts a stat row to the shared conditional-sum shape.
func (d DailyStat) Totals() event.Totals {
	return event.Totals{
		Views:      d.Views,
		Purchases:  d.Purchases,
		AddToCarts: d.AddToCarts,
		Checkouts:  d.Checkouts,
		Revenue:    d.Revenue,
	}
}

// Day normalizes a timestamp to its UTC midnight.
func Day(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// Repository persists daily stats and the record of confirmed rollup
// runs. RollupDate must be idempotent: re-running for an already
// rolled-up date recomputes and overwrites the same rows rather than
// adding increments, and the whole date is written in one transaction
// so a failed run never leaves a partial upsert.
type Repository interface {
	// RollupDate recomputes daily stats for every store and product
	// with events on the given UTC date, upserts them, and records the
	// run as confirmed. Returns the number of rows written.
	RollupDate(ctx context.Context, date time.Time) (int, error)

	// RangeTotals sums daily stats for one entity over the inclusive
	// [from, to] date range.
	RangeTotals(ctx context.Context, scope event.Scope, entityID string, from, to time.Time) (event.Totals, error)

	// Get returns one stat row, or ErrStatNotFound.
	Get(ctx context.Context, scope event.Scope, entityID string, date time.Time) (*DailyStat, error)

	// ConfirmedDates returns the dates with a confirmed rollup run
	// strictly before the cutoff, in ascending order. The retention
	// cleanup deletes raw events only for these dates.
	ConfirmedDates(ctx context.Context, before time.Time) ([]time.Time, error)
}
