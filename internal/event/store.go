package event

import (
	"context"
	"time"
)

// Store defines the append-only event store. Events are written in bulk
// by the ingestion worker, read by aggregate queries, and deleted only
// by the retention cleanup after rollup has confirmed success.
type Store interface {
	// InsertBatch bulk-inserts events with insert-or-ignore semantics on
	// the event ID, so redelivery of the same batch does not duplicate
	// rows. Batches larger than MaxBatchSize are chunked internally.
	// Returns the number of rows written.
	InsertBatch(ctx context.Context, events []Event) (int, error)

	// RangeAggregate computes conditional sums over events for one
	// entity in the inclusive [from, to] range. A nil bound is
	// unbounded on that side.
	RangeAggregate(ctx context.Context, scope Scope, entityID string, from, to *time.Time) (Totals, error)

	// TopProductsByConversion groups a store's events by product,
	// computes views and purchases per product, excludes products with
	// zero views, and orders descending by purchases/views with ties
	// broken by product ID. Returns at most limit rows.
	TopProductsByConversion(ctx context.Context, storeID string, from, to *time.Time, limit int) ([]ProductConversion, error)

	// DeleteDay removes raw events created within the UTC day starting
	// at day. Callers must only invoke this after rollup success has
	// been confirmed for that date. Returns the number of rows deleted.
	DeleteDay(ctx context.Context, day time.Time) (int, error)
}

// MaxBatchSize is the largest number of rows written by a single
// multi-row insert statement. Larger batches are chunked.
const MaxBatchSize = 1000

// DefaultTopLimit is used when a top-N query passes a non-positive limit.
const DefaultTopLimit = 10
