package analyzer

import (
	"context"
	"sort"
	"time"

	"github.com/evermart/analytics/internal/event"
	"github.com/evermart/analytics/internal/resolver"
)

// Recommendation texts attached to flagged products.
const (
	recLowTraffic      = "increase product visibility: views are low relative to peers"
	recBelowConversion = "conversion rate is below the set median: review pricing and product page"
	recBelowRevenue    = "revenue is below the set median: consider promotions or bundles"
)

// UnderperformingProduct is one flagged product with its gaps to the
// set medians.
type UnderperformingProduct struct {
	ProductID        string           `json:"product_id"`
	Name             string           `json:"name,omitempty"`
	Metrics          resolver.Metrics `json:"metrics"`
	Source           resolver.Source  `json:"source"`
	ConversionGapPct float64          `json:"conversion_gap_pct"`
	RevenueGapPct    float64          `json:"revenue_gap_pct"`
	Recommendations  []string         `json:"recommendations"`
}

// UnderperformanceResult lists products trailing the set medians on
// both conversion and revenue.
type UnderperformanceResult struct {
	MedianConversion float64                  `json:"median_conversion"`
	MedianRevenue    float64                  `json:"median_revenue"`
	Candidates       int                      `json:"candidates"`
	Flagged          []UnderperformingProduct `json:"flagged"`
}

// Underperformance resolves the given products, drops those with too
// few views to judge, and flags products whose conversion and revenue
// both trail the set medians by more than half. Flagged products are
// ranked by how far behind they are on average.
func (a *Analyzer) Underperformance(ctx context.Context, productIDs []string, from, to *time.Time) (*UnderperformanceResult, error) {
	if len(productIDs) < MinCompareEntities {
		return nil, ErrTooFewEntities
	}

	resolutions, err := a.resolveConcurrently(ctx, event.ScopeProduct, productIDs, from, to)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		id  string
		res *resolver.Resolution
	}
	var candidates []candidate
	for i, res := range resolutions {
		if res.Metrics.Views > MinUnderperformViews {
			candidates = append(candidates, candidate{id: productIDs[i], res: res})
		}
	}

	result := &UnderperformanceResult{Candidates: len(candidates)}
	if len(candidates) == 0 {
		return result, nil
	}

	conversions := make([]float64, len(candidates))
	revenues := make([]float64, len(candidates))
	views := make([]float64, len(candidates))
	for i, c := range candidates {
		conversions[i] = c.res.Metrics.ConversionRate
		revenues[i] = c.res.Metrics.Revenue
		views[i] = float64(c.res.Metrics.Views)
	}
	result.MedianConversion = median(conversions)
	result.MedianRevenue = median(revenues)
	medianViews := median(views)

	for _, c := range candidates {
		m := c.res.Metrics
		convGap := gapPct(m.ConversionRate, result.MedianConversion)
		revGap := gapPct(m.Revenue, result.MedianRevenue)
		if convGap <= UnderperformGapPct || revGap <= UnderperformGapPct {
			continue
		}

		flagged := UnderperformingProduct{
			ProductID:        c.id,
			Name:             a.lookupName(ctx, event.ScopeProduct, c.id),
			Metrics:          m,
			Source:           c.res.Source,
			ConversionGapPct: convGap,
			RevenueGapPct:    revGap,
		}
		if float64(m.Views) < medianViews {
			flagged.Recommendations = append(flagged.Recommendations, recLowTraffic)
		}
		if m.ConversionRate < result.MedianConversion {
			flagged.Recommendations = append(flagged.Recommendations, recBelowConversion)
		}
		if m.Revenue < result.MedianRevenue {
			flagged.Recommendations = append(flagged.Recommendations, recBelowRevenue)
		}
		result.Flagged = append(result.Flagged, flagged)
	}

	sort.Slice(result.Flagged, func(i, j int) bool {
		avgI := (result.Flagged[i].ConversionGapPct + result.Flagged[i].RevenueGapPct) / 2
		avgJ := (result.Flagged[j].ConversionGapPct + result.Flagged[j].RevenueGapPct) / 2
		if avgI != avgJ {
			return avgI > avgJ
		}
		return result.Flagged[i].ProductID < result.Flagged[j].ProductID
	})
	return result, nil
}

// gapPct measures how far value trails the median, as a percentage of
// the median. Values at or above the median gap 0; a zero median gaps 0
// because there is nothing to trail.
func gapPct(value, med float64) float64 {
	if med == 0 || value >= med {
		return 0
	}
	return round2((med - value) / med * 100)
}
