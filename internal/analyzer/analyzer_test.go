package analyzer

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/evermart/analytics/internal/dailystats"
	"github.com/evermart/analytics/internal/entity"
	"github.com/evermart/analytics/internal/event"
	"github.com/evermart/analytics/internal/quickstats"
	"github.com/evermart/analytics/internal/resolver"
)

type fixture struct {
	events *event.InMemoryStore
	names  *entity.InMemoryDirectory
	a      *Analyzer
}

func newFixture() *fixture {
	events := event.NewInMemoryStore()
	daily := dailystats.NewInMemoryRepository(events)
	quick := quickstats.NewInMemoryRepository()
	names := entity.NewInMemoryDirectory()
	r := resolver.NewResolver(events, daily, quick, nil, nil)
	return &fixture{
		events: events,
		names:  names,
		a:      NewAnalyzer(r, events, names, nil),
	}
}

func strPtr(s string) *string {
	return &s
}

func floatPtr(f float64) *float64 {
	return &f
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func seed(t *testing.T, f *fixture, storeID, productID string, typ event.Type, value *float64, at time.Time) {
	t.Helper()
	e := event.Event{ID: uuid.New().String(), EventType: typ, Value: value, CreatedAt: at}
	if storeID != "" {
		e.StoreID = strPtr(storeID)
	}
	if productID != "" {
		e.ProductID = strPtr(productID)
	}
	if _, err := f.events.InsertBatch(context.Background(), []event.Event{e}); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}
}

// seedCounts inserts views/carts/purchases for one entity at the given
// time. Each purchase is worth revenueEach.
func seedCounts(t *testing.T, f *fixture, storeID, productID string, views, carts, purchases int, revenueEach float64, at time.Time) {
	t.Helper()
	for i := 0; i < views; i++ {
		seed(t, f, storeID, productID, event.TypeView, nil, at)
	}
	for i := 0; i < carts; i++ {
		seed(t, f, storeID, productID, event.TypeAddToCart, nil, at)
	}
	for i := 0; i < purchases; i++ {
		seed(t, f, storeID, productID, event.TypePurchase, floatPtr(revenueEach), at)
	}
}

func TestFunnel_Percentages(t *testing.T) {
	f := newFixture()
	now := time.Now()

	// 200 views -> 50 carts -> 10 purchases.
	seedCounts(t, f, "s1", "", 200, 50, 10, 20, now)

	res, err := f.a.Funnel(context.Background(), "s1", nil, nil)
	if err != nil {
		t.Fatalf("Funnel failed: %v", err)
	}
	if res.ViewToCartPct != 25.0 {
		t.Errorf("Expected view-to-cart 25.00, got %f", res.ViewToCartPct)
	}
	if res.CartToPurchasePct != 20.0 {
		t.Errorf("Expected cart-to-purchase 20.00, got %f", res.CartToPurchasePct)
	}
	if res.OverallPct != 5.0 {
		t.Errorf("Expected overall 5.00, got %f", res.OverallPct)
	}
}

func TestFunnel_ZeroDenominators(t *testing.T) {
	f := newFixture()

	res, err := f.a.Funnel(context.Background(), "empty-store", nil, nil)
	if err != nil {
		t.Fatalf("Funnel failed: %v", err)
	}
	if res.ViewToCartPct != 0 || res.CartToPurchasePct != 0 || res.OverallPct != 0 {
		t.Errorf("Expected all-zero funnel, got %+v", res)
	}
}

func TestComparePeriods_SelfComparisonIsStable(t *testing.T) {
	f := newFixture()
	// Identical activity in two adjacent 3-day windows.
	curFrom := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	curTo := curFrom.AddDate(0, 0, 3)
	prevAt := curFrom.AddDate(0, 0, -2)

	seedCounts(t, f, "s1", "", 10, 4, 2, 25, curFrom.Add(time.Hour))
	seedCounts(t, f, "s1", "", 10, 4, 2, 25, prevAt)

	res, err := f.a.ComparePeriods(context.Background(), event.ScopeStore, "s1", curFrom, curTo)
	if err != nil {
		t.Fatalf("ComparePeriods failed: %v", err)
	}
	if res.Changes.ViewsPct != 0 || res.Changes.RevenuePct != 0 {
		t.Errorf("Expected zero change, got %+v", res.Changes)
	}
	if res.Trend != TrendStable {
		t.Errorf("Expected stable trend, got %s", res.Trend)
	}
}

func TestComparePeriods_GrowthFromZeroIsHundredPct(t *testing.T) {
	f := newFixture()
	curFrom := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	curTo := curFrom.AddDate(0, 0, 3)

	// Activity only in the current window.
	seedCounts(t, f, "s1", "", 5, 2, 1, 50, curFrom.Add(time.Hour))

	res, err := f.a.ComparePeriods(context.Background(), event.ScopeStore, "s1", curFrom, curTo)
	if err != nil {
		t.Fatalf("ComparePeriods failed: %v", err)
	}
	if res.Changes.RevenuePct != 100 {
		t.Errorf("Expected revenue change 100, got %f", res.Changes.RevenuePct)
	}
	if res.Trend != TrendUp {
		t.Errorf("Expected up trend, got %s", res.Trend)
	}
}

func TestComparePeriods_Decline(t *testing.T) {
	f := newFixture()
	curFrom := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	curTo := curFrom.AddDate(0, 0, 3)
	prevAt := curFrom.AddDate(0, 0, -2)

	seedCounts(t, f, "s1", "", 10, 0, 1, 50, curFrom.Add(time.Hour))
	seedCounts(t, f, "s1", "", 10, 0, 2, 50, prevAt)

	res, err := f.a.ComparePeriods(context.Background(), event.ScopeStore, "s1", curFrom, curTo)
	if err != nil {
		t.Fatalf("ComparePeriods failed: %v", err)
	}
	if res.Changes.RevenuePct != -50 {
		t.Errorf("Expected revenue change -50, got %f", res.Changes.RevenuePct)
	}
	if res.Trend != TrendDown {
		t.Errorf("Expected down trend, got %s", res.Trend)
	}
}

func TestComparePeriods_CountsDayImmediatelyBeforeWindow(t *testing.T) {
	f := newFixture()
	// The handlers widen "to" to the end of its day; mirror that here.
	curFrom := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	curTo := time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC).Add(24*time.Hour - time.Nanosecond)

	// Identical activity on the day right before the window and inside it.
	seedCounts(t, f, "s1", "", 5, 0, 2, 25, time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC))
	seedCounts(t, f, "s1", "", 5, 0, 2, 25, time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC))

	res, err := f.a.ComparePeriods(context.Background(), event.ScopeStore, "s1", curFrom, curTo)
	if err != nil {
		t.Fatalf("ComparePeriods failed: %v", err)
	}
	if res.Previous.Metrics.Views != 5 {
		t.Fatalf("Expected the day before the window in the previous period, got %d views", res.Previous.Metrics.Views)
	}
	if res.Changes.ViewsPct != 0 || res.Changes.RevenuePct != 0 {
		t.Errorf("Expected zero change, got %+v", res.Changes)
	}
	if res.Trend != TrendStable {
		t.Errorf("Expected stable trend, got %s", res.Trend)
	}
	// The windows must not overlap.
	if !res.Previous.To.Before(curFrom) {
		t.Errorf("Expected previous window to end before %v, got %v", curFrom, res.Previous.To)
	}
}

func TestCompareEntities_BoundsValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.a.CompareEntities(ctx, event.ScopeStore, []string{"s1"}, nil, nil); err == nil {
		t.Error("Expected error for a single entity")
	}

	tooManyStores := make([]string, MaxCompareStores+1)
	for i := range tooManyStores {
		tooManyStores[i] = uuid.New().String()
	}
	if _, err := f.a.CompareEntities(ctx, event.ScopeStore, tooManyStores, nil, nil); err == nil {
		t.Error("Expected error for too many stores")
	}

	// The product bound is wider: 11 products are fine.
	if _, err := f.a.CompareEntities(ctx, event.ScopeProduct, tooManyStores, nil, nil); err != nil {
		t.Errorf("Expected 11 products to be accepted, got %v", err)
	}
}

func TestCompareEntities_RanksByConversion(t *testing.T) {
	f := newFixture()
	now := time.Now()

	seedCounts(t, f, "s1", "", 100, 0, 10, 10, now) // 0.10
	seedCounts(t, f, "s2", "", 50, 0, 10, 10, now)  // 0.20
	seedCounts(t, f, "s3", "", 100, 0, 5, 10, now)  // 0.05
	f.names.AddStore("s2", "Best Store")

	res, err := f.a.CompareEntities(context.Background(), event.ScopeStore, []string{"s1", "s2", "s3"}, nil, nil)
	if err != nil {
		t.Fatalf("CompareEntities failed: %v", err)
	}
	if len(res.Entities) != 3 {
		t.Fatalf("Expected 3 entities, got %d", len(res.Entities))
	}
	if res.Entities[0].EntityID != "s2" || res.Entities[2].EntityID != "s3" {
		t.Errorf("Expected order [s2 s1 s3], got %v", res.Entities)
	}
	if res.Entities[0].Name != "Best Store" {
		t.Errorf("Expected display name joined, got %q", res.Entities[0].Name)
	}
}

func TestCompareEntities_ContextTimeoutFailsWholeCall(t *testing.T) {
	f := newFixture()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.a.CompareEntities(ctx, event.ScopeStore, []string{"s1", "s2"}, nil, nil)
	if err == nil {
		t.Fatal("Expected error from cancelled context")
	}
}

func TestUnderperformance_FlagsOnlyBothGaps(t *testing.T) {
	f := newFixture()
	now := time.Now()

	// Healthy set: strong conversion and revenue.
	seedCounts(t, f, "s1", "good1", 100, 0, 20, 50, now) // conv 0.20, rev 1000
	seedCounts(t, f, "s1", "good2", 100, 0, 18, 50, now) // conv 0.18, rev 900
	seedCounts(t, f, "s1", "good3", 100, 0, 22, 50, now) // conv 0.22, rev 1100
	// Both gaps far beyond half the medians.
	seedCounts(t, f, "s1", "bad", 100, 0, 1, 10, now) // conv 0.01, rev 10
	// Conversion fine, revenue terrible: must not be flagged.
	seedCounts(t, f, "s1", "cheap", 100, 0, 19, 1, now) // conv 0.19, rev 19
	// Too few views to judge: dropped from candidates.
	seedCounts(t, f, "s1", "tiny", 5, 0, 0, 0, now)
	f.names.AddProduct("bad", "Dusty Widget")

	products := []string{"good1", "good2", "good3", "bad", "cheap", "tiny"}
	res, err := f.a.Underperformance(context.Background(), products, nil, nil)
	if err != nil {
		t.Fatalf("Underperformance failed: %v", err)
	}

	if res.Candidates != 5 {
		t.Errorf("Expected 5 candidates after the views filter, got %d", res.Candidates)
	}
	if len(res.Flagged) != 1 {
		t.Fatalf("Expected exactly 1 flagged product, got %d: %+v", len(res.Flagged), res.Flagged)
	}
	flagged := res.Flagged[0]
	if flagged.ProductID != "bad" {
		t.Errorf("Expected 'bad' flagged, got %q", flagged.ProductID)
	}
	if flagged.Name != "Dusty Widget" {
		t.Errorf("Expected display name joined, got %q", flagged.Name)
	}
	if flagged.ConversionGapPct <= UnderperformGapPct || flagged.RevenueGapPct <= UnderperformGapPct {
		t.Errorf("Expected both gaps above %g, got %+v", UnderperformGapPct, flagged)
	}
	if len(flagged.Recommendations) == 0 {
		t.Error("Expected recommendations for a flagged product")
	}
}

func TestUnderperformance_NoCandidates(t *testing.T) {
	f := newFixture()
	now := time.Now()

	seedCounts(t, f, "s1", "a", 3, 0, 0, 0, now)
	seedCounts(t, f, "s1", "b", 2, 0, 0, 0, now)

	res, err := f.a.Underperformance(context.Background(), []string{"a", "b"}, nil, nil)
	if err != nil {
		t.Fatalf("Underperformance failed: %v", err)
	}
	if res.Candidates != 0 || len(res.Flagged) != 0 {
		t.Errorf("Expected empty result, got %+v", res)
	}
}

func TestTopProducts_JoinsNames(t *testing.T) {
	f := newFixture()
	now := time.Now()

	seedCounts(t, f, "s1", "A", 100, 0, 10, 10, now)
	seedCounts(t, f, "s1", "B", 50, 0, 10, 10, now)
	f.names.AddProduct("A", "Alpha")
	f.names.AddProduct("B", "Beta")

	top, err := f.a.TopProducts(context.Background(), "s1", timePtr(now.Add(-time.Hour)), timePtr(now.Add(time.Hour)), 10)
	if err != nil {
		t.Fatalf("TopProducts failed: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("Expected 2 products, got %d", len(top))
	}
	if top[0].ProductID != "B" || top[0].Name != "Beta" {
		t.Errorf("Expected B/Beta first, got %+v", top[0])
	}
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"empty", nil, 0},
		{"single", []float64{7}, 7},
		{"odd", []float64{3, 1, 2}, 2},
		{"even", []float64{4, 1, 3, 2}, 2.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := median(tt.values); got != tt.want {
				t.Errorf("median(%v) = %f, want %f", tt.values, got, tt.want)
			}
		})
	}
}
