package event

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func strPtr(s string) *string {
	return &s
}

func floatPtr(f float64) *float64 {
	return &f
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// seedEvent builds a valid event for the given store/product.
func seedEvent(storeID, productID string, typ Type, value *float64, at time.Time) Event {
	e := Event{
		ID:        uuid.New().String(),
		EventType: typ,
		Value:     value,
		CreatedAt: at,
	}
	if storeID != "" {
		e.StoreID = strPtr(storeID)
	}
	if productID != "" {
		e.ProductID = strPtr(productID)
	}
	return e
}

func TestValidate_EventTypes(t *testing.T) {
	valid := []Type{TypeView, TypeLike, TypeUnlike, TypeAddToCart, TypePurchase, TypeCheckout, TypeClick, TypeCustom}
	for _, typ := range valid {
		e := Event{ID: uuid.New().String(), EventType: typ}
		if err := e.Validate(); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", typ, err)
		}
	}

	e := Event{ID: uuid.New().String(), EventType: "page_scroll"}
	if err := e.Validate(); err == nil {
		t.Error("Validate accepted unrecognized event type")
	}
}

func TestInsertBatch_DeduplicatesOnID(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	batch := []Event{
		seedEvent("s1", "p1", TypeView, nil, time.Now()),
		seedEvent("s1", "p1", TypePurchase, floatPtr(25), time.Now()),
	}

	inserted, err := store.InsertBatch(ctx, batch)
	if err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}
	if inserted != 2 {
		t.Errorf("Expected 2 inserted, got %d", inserted)
	}

	// Redelivery of the same batch must not duplicate rows.
	inserted, err = store.InsertBatch(ctx, batch)
	if err != nil {
		t.Fatalf("InsertBatch redelivery failed: %v", err)
	}
	if inserted != 0 {
		t.Errorf("Expected 0 inserted on redelivery, got %d", inserted)
	}
	if store.Len() != 2 {
		t.Errorf("Expected 2 stored events, got %d", store.Len())
	}
}

func TestRangeAggregate_ConditionalSums(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	day := time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC)

	events := []Event{
		seedEvent("s1", "p1", TypeView, nil, day),
		seedEvent("s1", "p1", TypeView, nil, day.Add(time.Hour)),
		seedEvent("s1", "p1", TypeAddToCart, nil, day.Add(2*time.Hour)),
		seedEvent("s1", "p1", TypePurchase, floatPtr(19.99), day.Add(3*time.Hour)),
		seedEvent("s1", "", TypeCheckout, nil, day.Add(3*time.Hour)),
		// Outside range, must not count.
		seedEvent("s1", "p1", TypeView, nil, day.AddDate(0, 0, 5)),
		// Different store, must not count.
		seedEvent("s2", "p9", TypeView, nil, day),
	}
	if _, err := store.InsertBatch(ctx, events); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	from := timePtr(day.Add(-time.Hour))
	to := timePtr(day.Add(6 * time.Hour))

	totals, err := store.RangeAggregate(ctx, ScopeStore, "s1", from, to)
	if err != nil {
		t.Fatalf("RangeAggregate failed: %v", err)
	}

	if totals.Views != 2 {
		t.Errorf("Expected 2 views, got %d", totals.Views)
	}
	if totals.Purchases != 1 {
		t.Errorf("Expected 1 purchase, got %d", totals.Purchases)
	}
	if totals.AddToCarts != 1 {
		t.Errorf("Expected 1 add_to_cart, got %d", totals.AddToCarts)
	}
	if totals.Checkouts != 1 {
		t.Errorf("Expected 1 checkout, got %d", totals.Checkouts)
	}
	if totals.Revenue != 19.99 {
		t.Errorf("Expected revenue 19.99, got %f", totals.Revenue)
	}
}

func TestRangeAggregate_EmptyRangeHasZeroRevenue(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	totals, err := store.RangeAggregate(ctx, ScopeProduct, "missing", nil, nil)
	if err != nil {
		t.Fatalf("RangeAggregate failed: %v", err)
	}
	if totals.Revenue != 0 {
		t.Errorf("Expected revenue 0 for empty range, got %f", totals.Revenue)
	}
	if totals.Views != 0 || totals.Purchases != 0 {
		t.Errorf("Expected zero counters, got %+v", totals)
	}
}

func TestRangeAggregate_UnboundedSides(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	if _, err := store.InsertBatch(ctx, []Event{
		seedEvent("s1", "p1", TypeView, nil, day),
		seedEvent("s1", "p1", TypeView, nil, day.AddDate(0, 0, 10)),
	}); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	// Only an upper bound: the later event is excluded.
	totals, err := store.RangeAggregate(ctx, ScopeStore, "s1", nil, timePtr(day.AddDate(0, 0, 5)))
	if err != nil {
		t.Fatalf("RangeAggregate failed: %v", err)
	}
	if totals.Views != 1 {
		t.Errorf("Expected 1 view with upper bound, got %d", totals.Views)
	}

	// No bounds: everything counts.
	totals, err = store.RangeAggregate(ctx, ScopeStore, "s1", nil, nil)
	if err != nil {
		t.Fatalf("RangeAggregate failed: %v", err)
	}
	if totals.Views != 2 {
		t.Errorf("Expected 2 views unbounded, got %d", totals.Views)
	}
}

func TestRangeAggregate_RejectsInvertedRange(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Now()
	_, err := store.RangeAggregate(context.Background(), ScopeStore, "s1", timePtr(now), timePtr(now.Add(-time.Hour)))
	if err == nil {
		t.Fatal("Expected error for inverted range")
	}
}

func TestTopProductsByConversion_OrderAndExclusion(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	day := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)

	var events []Event
	// A: 100 views, 10 purchases -> 0.10
	for i := 0; i < 100; i++ {
		events = append(events, seedEvent("s1", "A", TypeView, nil, day))
	}
	for i := 0; i < 10; i++ {
		events = append(events, seedEvent("s1", "A", TypePurchase, floatPtr(10), day))
	}
	// B: 50 views, 10 purchases -> 0.20
	for i := 0; i < 50; i++ {
		events = append(events, seedEvent("s1", "B", TypeView, nil, day))
	}
	for i := 0; i < 10; i++ {
		events = append(events, seedEvent("s1", "B", TypePurchase, floatPtr(10), day))
	}
	// C: zero views, excluded even with purchases.
	events = append(events, seedEvent("s1", "C", TypePurchase, floatPtr(10), day))

	if _, err := store.InsertBatch(ctx, events); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	top, err := store.TopProductsByConversion(ctx, "s1", nil, nil, 2)
	if err != nil {
		t.Fatalf("TopProductsByConversion failed: %v", err)
	}

	if len(top) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(top))
	}
	if top[0].ProductID != "B" || top[1].ProductID != "A" {
		t.Errorf("Expected order [B, A], got [%s, %s]", top[0].ProductID, top[1].ProductID)
	}
	if top[0].ConversionRate != 0.2 {
		t.Errorf("Expected B conversion 0.2, got %f", top[0].ConversionRate)
	}
	for _, pc := range top {
		if pc.ProductID == "C" {
			t.Error("Product with zero views must be excluded")
		}
	}
}

func TestTopProductsByConversion_TieBreaksOnProductID(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	day := time.Now()

	events := []Event{
		seedEvent("s1", "zeta", TypeView, nil, day),
		seedEvent("s1", "zeta", TypePurchase, floatPtr(5), day),
		seedEvent("s1", "alpha", TypeView, nil, day),
		seedEvent("s1", "alpha", TypePurchase, floatPtr(5), day),
	}
	if _, err := store.InsertBatch(ctx, events); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	top, err := store.TopProductsByConversion(ctx, "s1", nil, nil, 10)
	if err != nil {
		t.Fatalf("TopProductsByConversion failed: %v", err)
	}
	if len(top) != 2 || top[0].ProductID != "alpha" {
		t.Errorf("Expected deterministic tie-break [alpha, zeta], got %+v", top)
	}
}

func TestDeleteDay_OnlyRemovesThatDay(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	day := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	if _, err := store.InsertBatch(ctx, []Event{
		seedEvent("s1", "p1", TypeView, nil, day.Add(2*time.Hour)),
		seedEvent("s1", "p1", TypeView, nil, day.Add(23*time.Hour)),
		seedEvent("s1", "p1", TypeView, nil, day.AddDate(0, 0, 1)),  // next day
		seedEvent("s1", "p1", TypeView, nil, day.AddDate(0, 0, -1)), // previous day
	}); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	deleted, err := store.DeleteDay(ctx, day)
	if err != nil {
		t.Fatalf("DeleteDay failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted, got %d", deleted)
	}
	if store.Len() != 2 {
		t.Errorf("Expected 2 remaining, got %d", store.Len())
	}
}

func TestRate_ZeroDenominator(t *testing.T) {
	if got := Rate(5, 0); got != 0 {
		t.Errorf("Rate(5, 0) = %f, want 0", got)
	}
	if got := Rate(1, 4); got != 0.25 {
		t.Errorf("Rate(1, 4) = %f, want 0.25", got)
	}
}
