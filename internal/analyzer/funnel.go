package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/evermart/analytics/internal/event"
	"github.com/evermart/analytics/internal/resolver"
)

// FunnelResult describes the view -> add-to-cart -> purchase funnel for
// one store. Percentages are rounded to two decimals; stages with a
// zero denominator report 0.
type FunnelResult struct {
	StoreID           string          `json:"store_id"`
	Views             int64           `json:"views"`
	AddToCarts        int64           `json:"add_to_carts"`
	Purchases         int64           `json:"purchases"`
	ViewToCartPct     float64         `json:"view_to_cart_pct"`
	CartToPurchasePct float64         `json:"cart_to_purchase_pct"`
	OverallPct        float64         `json:"overall_conversion_pct"`
	Source            resolver.Source `json:"source"`
}

// Funnel computes the conversion funnel for a store over an optional
// range.
func (a *Analyzer) Funnel(ctx context.Context, storeID string, from, to *time.Time) (*FunnelResult, error) {
	res, err := a.resolver.Resolve(ctx, event.ScopeStore, storeID, from, to)
	if err != nil {
		return nil, fmt.Errorf("resolve funnel metrics: %w", err)
	}

	m := res.Metrics
	return &FunnelResult{
		StoreID:           storeID,
		Views:             m.Views,
		AddToCarts:        m.AddToCarts,
		Purchases:         m.Purchases,
		ViewToCartPct:     pct(float64(m.AddToCarts), float64(m.Views)),
		CartToPurchasePct: pct(float64(m.Purchases), float64(m.AddToCarts)),
		OverallPct:        pct(float64(m.Purchases), float64(m.Views)),
		Source:            res.Source,
	}, nil
}
