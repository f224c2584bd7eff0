// Package analyzer builds derived analyses on top of the metrics
// resolver: conversion funnels, period and entity comparisons,
// underperformance detection and top-product rankings. Analyzers never
// read storage directly; everything flows through the resolver or the
// event store's ranking query, and every result carries the provenance
// of the numbers it was computed from.
package analyzer

import (
	"errors"
	"log/slog"
	"math"
	"sort"

	"github.com/evermart/analytics/internal/entity"
	"github.com/evermart/analytics/internal/event"
	"github.com/evermart/analytics/internal/resolver"
)

// Entity-count bounds for N-way comparisons.
const (
	MinCompareEntities   = 2
	MaxCompareStores     = 10
	MaxCompareProducts   = 20
	MinUnderperformViews = 10
	UnderperformGapPct   = 50.0
)

// Common errors for analyzer operations.
var (
	ErrTooFewEntities  = errors.New("too few entities to compare")
	ErrTooManyEntities = errors.New("too many entities to compare")
	ErrMissingRange    = errors.New("a from/to range is required")
)

// Analyzer runs derived analyses.
type Analyzer struct {
	resolver *resolver.Resolver
	events   event.Store
	names    entity.Directory
	logger   *slog.Logger
}

// NewAnalyzer creates a new analyzer.
func NewAnalyzer(r *resolver.Resolver, events event.Store, names entity.Directory, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		resolver: r,
		events:   events,
		names:    names,
		logger:   logger,
	}
}

// round2 rounds to two decimal places, the precision every percentage
// in analyzer output uses.
func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// pct returns numerator/denominator as a percentage rounded to two
// decimals, 0 on a zero denominator.
func pct(numerator, denominator float64) float64 {
	return round2(event.Rate(numerator, denominator) * 100)
}

// changePct is the percentage change from prev to cur: 0 when both are
// zero, 100 when growing from zero, otherwise the relative delta.
func changePct(cur, prev float64) float64 {
	if prev == 0 {
		if cur == 0 {
			return 0
		}
		return 100
	}
	return round2((cur - prev) / prev * 100)
}

// median returns the median of values; 0 for an empty set.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
