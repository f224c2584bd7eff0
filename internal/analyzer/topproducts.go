package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/evermart/analytics/internal/event"
)

// TopProduct is one entry of a conversion ranking, annotated with the
// product's display name when the catalog knows it.
type TopProduct struct {
	ProductID      string  `json:"product_id"`
	Name           string  `json:"name,omitempty"`
	Views          int64   `json:"views"`
	Purchases      int64   `json:"purchases"`
	Revenue        float64 `json:"revenue"`
	ConversionRate float64 `json:"conversion_rate"`
}

// TopProducts ranks a store's products by conversion rate over an
// optional range.
func (a *Analyzer) TopProducts(ctx context.Context, storeID string, from, to *time.Time, limit int) ([]TopProduct, error) {
	ranked, err := a.events.TopProductsByConversion(ctx, storeID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("rank products for store %s: %w", storeID, err)
	}

	results := make([]TopProduct, len(ranked))
	for i, pc := range ranked {
		results[i] = TopProduct{
			ProductID:      pc.ProductID,
			Name:           a.lookupName(ctx, event.ScopeProduct, pc.ProductID),
			Views:          pc.Views,
			Purchases:      pc.Purchases,
			Revenue:        pc.Revenue,
			ConversionRate: pc.ConversionRate,
		}
	}
	return results, nil
}
