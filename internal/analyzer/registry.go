package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/evermart/analytics/internal/event"
)

// Registered aggregator names.
const (
	NameFunnel           = "funnel"
	NamePeriodComparison = "period_comparison"
	NameCompareStores    = "compare_stores"
	NameCompareProducts  = "compare_products"
	NameUnderperformance = "underperformance"
	NameTopProducts      = "top_products"
)

// Registry errors.
var (
	ErrUnknownAggregator = errors.New("unknown aggregator")
	ErrBadOptions        = errors.New("invalid aggregator options")
)

// handler decodes options and runs one analyzer.
type handler func(ctx context.Context, options json.RawMessage) (interface{}, error)

// Registry dispatches aggregation requests by name. All names are
// registered at construction; the set never changes at runtime.
type Registry struct {
	handlers map[string]handler
}

// NewRegistry builds the registry over an analyzer.
func NewRegistry(a *Analyzer) *Registry {
	return &Registry{handlers: map[string]handler{
		NameFunnel:           a.runFunnel,
		NamePeriodComparison: a.runPeriodComparison,
		NameCompareStores:    a.runCompareStores,
		NameCompareProducts:  a.runCompareProducts,
		NameUnderperformance: a.runUnderperformance,
		NameTopProducts:      a.runTopProducts,
	}}
}

// Names lists the registered aggregator names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Run dispatches to the named aggregator.
func (r *Registry) Run(ctx context.Context, name string, options json.RawMessage) (interface{}, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAggregator, name)
	}
	return h(ctx, options)
}

// rangeOptions is the shared optional from/to pair. Dates are
// inclusive; To covers the whole named day.
type rangeOptions struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

func (o rangeOptions) bounds() (*time.Time, *time.Time, error) {
	var from, to *time.Time
	if o.From != "" {
		t, err := time.Parse(time.DateOnly, o.From)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: bad from date %q", ErrBadOptions, o.From)
		}
		from = &t
	}
	if o.To != "" {
		t, err := time.Parse(time.DateOnly, o.To)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: bad to date %q", ErrBadOptions, o.To)
		}
		end := t.Add(24*time.Hour - time.Nanosecond)
		to = &end
	}
	if err := event.ValidateRange(from, to); err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrBadOptions, err)
	}
	return from, to, nil
}

func decodeOptions(options json.RawMessage, into interface{}) error {
	if len(options) == 0 {
		return fmt.Errorf("%w: options are required", ErrBadOptions)
	}
	if err := json.Unmarshal(options, into); err != nil {
		return fmt.Errorf("%w: %s", ErrBadOptions, err)
	}
	return nil
}

type funnelOptions struct {
	StoreID string `json:"store_id"`
	rangeOptions
}

func (a *Analyzer) runFunnel(ctx context.Context, options json.RawMessage) (interface{}, error) {
	var o funnelOptions
	if err := decodeOptions(options, &o); err != nil {
		return nil, err
	}
	if o.StoreID == "" {
		return nil, fmt.Errorf("%w: store_id is required", ErrBadOptions)
	}
	from, to, err := o.bounds()
	if err != nil {
		return nil, err
	}
	return a.Funnel(ctx, o.StoreID, from, to)
}

type periodComparisonOptions struct {
	Scope    string `json:"scope"`
	EntityID string `json:"entity_id"`
	From     string `json:"from"`
	To       string `json:"to"`
}

func (a *Analyzer) runPeriodComparison(ctx context.Context, options json.RawMessage) (interface{}, error) {
	var o periodComparisonOptions
	if err := decodeOptions(options, &o); err != nil {
		return nil, err
	}
	scope, err := parseScope(o.Scope)
	if err != nil {
		return nil, err
	}
	if o.EntityID == "" {
		return nil, fmt.Errorf("%w: entity_id is required", ErrBadOptions)
	}
	if o.From == "" || o.To == "" {
		return nil, fmt.Errorf("%w: %s", ErrBadOptions, ErrMissingRange)
	}
	from, to, err := rangeOptions{From: o.From, To: o.To}.bounds()
	if err != nil {
		return nil, err
	}
	return a.ComparePeriods(ctx, scope, o.EntityID, *from, *to)
}

type compareOptions struct {
	EntityIDs []string `json:"entity_ids"`
	rangeOptions
}

func (a *Analyzer) runCompareStores(ctx context.Context, options json.RawMessage) (interface{}, error) {
	return a.runCompare(ctx, event.ScopeStore, options)
}

func (a *Analyzer) runCompareProducts(ctx context.Context, options json.RawMessage) (interface{}, error) {
	return a.runCompare(ctx, event.ScopeProduct, options)
}

func (a *Analyzer) runCompare(ctx context.Context, scope event.Scope, options json.RawMessage) (interface{}, error) {
	var o compareOptions
	if err := decodeOptions(options, &o); err != nil {
		return nil, err
	}
	from, to, err := o.bounds()
	if err != nil {
		return nil, err
	}
	return a.CompareEntities(ctx, scope, o.EntityIDs, from, to)
}

type underperformanceOptions struct {
	ProductIDs []string `json:"product_ids"`
	rangeOptions
}

func (a *Analyzer) runUnderperformance(ctx context.Context, options json.RawMessage) (interface{}, error) {
	var o underperformanceOptions
	if err := decodeOptions(options, &o); err != nil {
		return nil, err
	}
	from, to, err := o.bounds()
	if err != nil {
		return nil, err
	}
	return a.Underperformance(ctx, o.ProductIDs, from, to)
}

type topProductsOptions struct {
	StoreID string `json:"store_id"`
	Limit   int    `json:"limit,omitempty"`
	rangeOptions
}

func (a *Analyzer) runTopProducts(ctx context.Context, options json.RawMessage) (interface{}, error) {
	var o topProductsOptions
	if err := decodeOptions(options, &o); err != nil {
		return nil, err
	}
	if o.StoreID == "" {
		return nil, fmt.Errorf("%w: store_id is required", ErrBadOptions)
	}
	from, to, err := o.bounds()
	if err != nil {
		return nil, err
	}
	return a.TopProducts(ctx, o.StoreID, from, to, o.Limit)
}

func parseScope(s string) (event.Scope, error) {
	switch event.Scope(s) {
	case event.ScopeStore, event.ScopeProduct:
		return event.Scope(s), nil
	}
	return "", fmt.Errorf("%w: scope must be store or product", ErrBadOptions)
}
