package analyzer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/evermart/analytics/internal/event"
	"github.com/evermart/analytics/internal/resolver"
)

// Trend labels the direction of revenue movement between two periods.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// Period is one compared time window.
type Period struct {
	From    time.Time        `json:"from"`
	To      time.Time        `json:"to"`
	Metrics resolver.Metrics `json:"metrics"`
	Source  resolver.Source  `json:"source"`
}

// PeriodChanges holds percentage changes between the two periods.
type PeriodChanges struct {
	ViewsPct      float64 `json:"views_pct"`
	PurchasesPct  float64 `json:"purchases_pct"`
	RevenuePct    float64 `json:"revenue_pct"`
	ConversionPct float64 `json:"conversion_pct"`
}

// PeriodComparisonResult compares a window against the window of the
// same length immediately preceding it.
type PeriodComparisonResult struct {
	Scope    event.Scope   `json:"scope"`
	EntityID string        `json:"entity_id"`
	Current  Period        `json:"current"`
	Previous Period        `json:"previous"`
	Changes  PeriodChanges `json:"changes"`
	Trend    Trend         `json:"trend"`
}

// ComparePeriods resolves the given window and the equal-length window
// ending immediately before it, and reports the change between them.
// The trend follows the sign of the revenue change.
func (a *Analyzer) ComparePeriods(ctx context.Context, scope event.Scope, entityID string, from, to time.Time) (*PeriodComparisonResult, error) {
	if to.Before(from) {
		return nil, event.ErrInvalidRange
	}

	// The previous window ends at the last instant before from, so the
	// day immediately preceding it is fully counted on every tier.
	length := to.Sub(from)
	prevTo := from.Add(-time.Nanosecond)
	prevFrom := prevTo.Add(-length)

	current, err := a.resolver.Resolve(ctx, scope, entityID, &from, &to)
	if err != nil {
		return nil, fmt.Errorf("resolve current period: %w", err)
	}
	previous, err := a.resolver.Resolve(ctx, scope, entityID, &prevFrom, &prevTo)
	if err != nil {
		return nil, fmt.Errorf("resolve previous period: %w", err)
	}

	cur, prev := current.Metrics, previous.Metrics
	changes := PeriodChanges{
		ViewsPct:      changePct(float64(cur.Views), float64(prev.Views)),
		PurchasesPct:  changePct(float64(cur.Purchases), float64(prev.Purchases)),
		RevenuePct:    changePct(cur.Revenue, prev.Revenue),
		ConversionPct: changePct(cur.ConversionRate, prev.ConversionRate),
	}

	trend := TrendStable
	switch {
	case changes.RevenuePct > 0:
		trend = TrendUp
	case changes.RevenuePct < 0:
		trend = TrendDown
	}

	return &PeriodComparisonResult{
		Scope:    scope,
		EntityID: entityID,
		Current:  Period{From: from, To: to, Metrics: cur, Source: current.Source},
		Previous: Period{From: prevFrom, To: prevTo, Metrics: prev, Source: previous.Source},
		Changes:  changes,
		Trend:    trend,
	}, nil
}

// EntityComparison is one entity's slice of an N-way comparison.
type EntityComparison struct {
	EntityID string           `json:"entity_id"`
	Name     string           `json:"name,omitempty"`
	Metrics  resolver.Metrics `json:"metrics"`
	Source   resolver.Source  `json:"source"`
}

// CompareResult holds an N-way comparison, ordered by conversion rate
// descending.
type CompareResult struct {
	Scope    event.Scope        `json:"scope"`
	Entities []EntityComparison `json:"entities"`
}

// CompareEntities resolves N entities concurrently and ranks them by
// conversion rate. Store comparisons take 2 to 10 entities, product
// comparisons 2 to 20. The sub-queries share no mutable state; a
// context timeout fails the whole comparison.
func (a *Analyzer) CompareEntities(ctx context.Context, scope event.Scope, entityIDs []string, from, to *time.Time) (*CompareResult, error) {
	if err := validateCompareBounds(scope, len(entityIDs)); err != nil {
		return nil, err
	}

	resolutions, err := a.resolveConcurrently(ctx, scope, entityIDs, from, to)
	if err != nil {
		return nil, err
	}

	entities := make([]EntityComparison, len(entityIDs))
	for i, id := range entityIDs {
		entities[i] = EntityComparison{
			EntityID: id,
			Name:     a.lookupName(ctx, scope, id),
			Metrics:  resolutions[i].Metrics,
			Source:   resolutions[i].Source,
		}
	}
	sortByConversion(entities)

	return &CompareResult{Scope: scope, Entities: entities}, nil
}

func validateCompareBounds(scope event.Scope, n int) error {
	if n < MinCompareEntities {
		return fmt.Errorf("%w: got %d, need at least %d", ErrTooFewEntities, n, MinCompareEntities)
	}
	max := MaxCompareProducts
	if scope == event.ScopeStore {
		max = MaxCompareStores
	}
	if n > max {
		return fmt.Errorf("%w: got %d, at most %d", ErrTooManyEntities, n, max)
	}
	return nil
}

// resolveConcurrently fans one resolver call per entity out to its own
// goroutine and collects results in input order. The first error, or
// the context deadline, fails everything.
func (a *Analyzer) resolveConcurrently(ctx context.Context, scope event.Scope, entityIDs []string, from, to *time.Time) ([]*resolver.Resolution, error) {
	type indexed struct {
		i   int
		res *resolver.Resolution
		err error
	}

	results := make(chan indexed, len(entityIDs))
	for i, id := range entityIDs {
		go func(i int, id string) {
			res, err := a.resolver.Resolve(ctx, scope, id, from, to)
			results <- indexed{i: i, res: res, err: err}
		}(i, id)
	}

	resolutions := make([]*resolver.Resolution, len(entityIDs))
	for range entityIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-results:
			if r.err != nil {
				return nil, fmt.Errorf("resolve %s: %w", entityIDs[r.i], r.err)
			}
			resolutions[r.i] = r.res
		}
	}
	return resolutions, nil
}

func (a *Analyzer) lookupName(ctx context.Context, scope event.Scope, id string) string {
	if a.names == nil {
		return ""
	}
	var (
		name string
		err  error
	)
	if scope == event.ScopeStore {
		name, err = a.names.StoreName(ctx, id)
	} else {
		name, err = a.names.ProductName(ctx, id)
	}
	if err != nil {
		return ""
	}
	return name
}

func sortByConversion(entities []EntityComparison) {
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Metrics.ConversionRate != entities[j].Metrics.ConversionRate {
			return entities[i].Metrics.ConversionRate > entities[j].Metrics.ConversionRate
		}
		return entities[i].EntityID < entities[j].EntityID
	})
}
