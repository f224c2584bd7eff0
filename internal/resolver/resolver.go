// Package resolver answers metrics queries from the cheapest source
// able to serve them: denormalized quick stats, materialized daily
// stats, or a raw event scan. Every resolution is tagged with the
// source that produced it so callers can reason about freshness.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evermart/analytics/internal/dailystats"
	"github.com/evermart/analytics/internal/event"
	"github.com/evermart/analytics/internal/quickstats"
)

// Source identifies which storage tier produced a resolution.
type Source string

const (
	// SourceHybridCached mixes quick-stat counters with an unranged
	// event aggregate. Values may trail the rollup by up to one
	// interval; that staleness is accepted, not reconciled.
	SourceHybridCached Source = "hybrid_cached"

	// SourceAggregatedStats serves a ranged query from daily stats.
	SourceAggregatedStats Source = "aggregated_stats"

	// SourceRawEvents falls back to scanning raw events, for ranges the
	// rollup has not materialized yet.
	SourceRawEvents Source = "raw_events"
)

// Metrics is the resolved counter set with derived rates. Store-scope
// resolutions also carry add-to-cart and checkout rates; product scope
// leaves them nil.
type Metrics struct {
	Views          int64    `json:"views"`
	Purchases      int64    `json:"purchases"`
	AddToCarts     int64    `json:"add_to_carts"`
	Checkouts      int64    `json:"checkouts"`
	Revenue        float64  `json:"revenue"`
	ConversionRate float64  `json:"conversion_rate"`
	AddToCartRate  *float64 `json:"add_to_cart_rate,omitempty"`
	CheckoutRate   *float64 `json:"checkout_rate,omitempty"`
}

// Resolution is the result of one metrics query.
type Resolution struct {
	Scope    event.Scope `json:"scope"`
	EntityID string      `json:"entity_id"`
	Metrics  Metrics     `json:"metrics"`
	Source   Source      `json:"source"`
}

// Resolver selects the serving tier per query. Reads take no locks and
// never mutate any tier.
type Resolver struct {
	events  event.Store
	daily   dailystats.Repository
	quick   quickstats.Repository
	logger  *slog.Logger
	metrics *SourceMetrics // optional
}

// NewResolver creates a new tiered resolver.
func NewResolver(events event.Store, daily dailystats.Repository, quick quickstats.Repository, logger *slog.Logger, metrics *SourceMetrics) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		events:  events,
		daily:   daily,
		quick:   quick,
		logger:  logger,
		metrics: metrics,
	}
}

// Resolve answers one metrics query. Queries without a range serve from
// quick stats plus an unranged event aggregate; ranged queries serve
// from daily stats when they have data for the range, falling back to a
// raw event scan otherwise.
func (r *Resolver) Resolve(ctx context.Context, scope event.Scope, entityID string, from, to *time.Time) (*Resolution, error) {
	if err := event.ValidateRange(from, to); err != nil {
		return nil, err
	}

	var (
		totals event.Totals
		source Source
		err    error
	)
	if from == nil && to == nil {
		totals, err = r.resolveHybrid(ctx, scope, entityID)
		source = SourceHybridCached
	} else {
		totals, source, err = r.resolveRanged(ctx, scope, entityID, from, to)
	}
	if err != nil {
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.IncResolution(string(source))
	}

	return &Resolution{
		Scope:    scope,
		EntityID: entityID,
		Metrics:  derive(scope, totals),
		Source:   source,
	}, nil
}

// resolveHybrid serves an unranged query: purchase count and revenue
// from the quick-stat counters, traffic counters from an unranged event
// aggregate.
func (r *Resolver) resolveHybrid(ctx context.Context, scope event.Scope, entityID string) (event.Totals, error) {
	agg, err := r.events.RangeAggregate(ctx, scope, entityID, nil, nil)
	if err != nil {
		return event.Totals{}, fmt.Errorf("unranged event aggregate: %w", err)
	}

	quick, err := r.quickStats(ctx, scope, entityID)
	if err != nil {
		if errors.Is(err, quickstats.ErrEntityNotFound) {
			// Entity has events but no catalog row yet; serve the
			// aggregate alone.
			return agg, nil
		}
		return event.Totals{}, fmt.Errorf("quick stats: %w", err)
	}

	agg.Purchases = quick.OrderCount
	agg.Revenue = quick.TotalRevenue
	return agg, nil
}

// resolveRanged serves a ranged query from daily stats, falling back to
// raw events when the rollup has nothing for the range.
func (r *Resolver) resolveRanged(ctx context.Context, scope event.Scope, entityID string, from, to *time.Time) (event.Totals, Source, error) {
	fromDay, toDay := rangeDays(from, to)

	totals, err := r.daily.RangeTotals(ctx, scope, entityID, fromDay, toDay)
	if err != nil {
		return event.Totals{}, "", fmt.Errorf("daily stat range: %w", err)
	}
	if totals.Views > 0 {
		return totals, SourceAggregatedStats, nil
	}

	totals, err = r.events.RangeAggregate(ctx, scope, entityID, from, to)
	if err != nil {
		return event.Totals{}, "", fmt.Errorf("raw event range: %w", err)
	}
	return totals, SourceRawEvents, nil
}

func (r *Resolver) quickStats(ctx context.Context, scope event.Scope, entityID string) (*quickstats.QuickStats, error) {
	if scope == event.ScopeStore {
		return r.quick.GetStoreStats(ctx, entityID)
	}
	return r.quick.GetProductStats(ctx, entityID)
}

// rangeDays converts optional bounds to the concrete day range the
// daily-stat repository wants. A missing lower bound starts at the Unix
// epoch; a missing upper bound ends today.
func rangeDays(from, to *time.Time) (time.Time, time.Time) {
	fromDay := time.Unix(0, 0).UTC()
	if from != nil {
		fromDay = *from
	}
	toDay := time.Now().UTC()
	if to != nil {
		toDay = *to
	}
	return dailystats.Day(fromDay), dailystats.Day(toDay)
}

// derive computes rates from counters. Zero denominators yield 0;
// store scope additionally gets cart and checkout rates.
func derive(scope event.Scope, t event.Totals) Metrics {
	m := Metrics{
		Views:          t.Views,
		Purchases:      t.Purchases,
		AddToCarts:     t.AddToCarts,
		Checkouts:      t.Checkouts,
		Revenue:        t.Revenue,
		ConversionRate: event.Rate(float64(t.Purchases), float64(t.Views)),
	}
	if scope == event.ScopeStore {
		cartRate := event.Rate(float64(t.AddToCarts), float64(t.Views))
		checkoutRate := event.Rate(float64(t.Checkouts), float64(t.AddToCarts))
		m.AddToCartRate = &cartRate
		m.CheckoutRate = &checkoutRate
	}
	return m
}
