package event

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is an in-memory implementation of Store.
// Thread-safe via RWMutex. Used in tests and single-process deployments.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[string]Event // id -> event
}

// NewInMemoryStore creates a new in-memory event store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		events: make(map[string]Event),
	}
}

// InsertBatch inserts events, ignoring IDs that already exist.
func (s *InMemoryStore) InsertBatch(ctx context.Context, events []Event) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, e := range events {
		if _, exists := s.events[e.ID]; exists {
			continue
		}
		s.events[e.ID] = e
		inserted++
	}
	return inserted, nil
}

// matches reports whether an event belongs to the given entity at the
// given scope.
func matches(e Event, scope Scope, entityID string) bool {
	switch scope {
	case ScopeStore:
		return e.StoreID != nil && *e.StoreID == entityID
	case ScopeProduct:
		return e.ProductID != nil && *e.ProductID == entityID
	}
	return false
}

// RangeAggregate folds matching events into conditional sums.
func (s *InMemoryStore) RangeAggregate(ctx context.Context, scope Scope, entityID string, from, to *time.Time) (Totals, error) {
	if err := ValidateRange(from, to); err != nil {
		return Totals{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var t Totals
	for _, e := range s.events {
		if !matches(e, scope, entityID) || !InRange(e.CreatedAt, from, to) {
			continue
		}
		switch e.EventType {
		case TypeView:
			t.Views++
		case TypePurchase:
			t.Purchases++
			if e.Value != nil {
				t.Revenue += *e.Value
			}
		case TypeAddToCart:
			t.AddToCarts++
		case TypeCheckout:
			t.Checkouts++
		}
	}
	return t, nil
}

// TopProductsByConversion computes per-product conversion for a store.
func (s *InMemoryStore) TopProductsByConversion(ctx context.Context, storeID string, from, to *time.Time, limit int) ([]ProductConversion, error) {
	if err := ValidateRange(from, to); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultTopLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	byProduct := make(map[string]*ProductConversion)
	for _, e := range s.events {
		if e.StoreID == nil || *e.StoreID != storeID || e.ProductID == nil {
			continue
		}
		if !InRange(e.CreatedAt, from, to) {
			continue
		}
		pc, ok := byProduct[*e.ProductID]
		if !ok {
			pc = &ProductConversion{ProductID: *e.ProductID}
			byProduct[*e.ProductID] = pc
		}
		switch e.EventType {
		case TypeView:
			pc.Views++
		case TypePurchase:
			pc.Purchases++
			if e.Value != nil {
				pc.Revenue += *e.Value
			}
		}
	}

	results := make([]ProductConversion, 0, len(byProduct))
	for _, pc := range byProduct {
		if pc.Views == 0 {
			// Products with zero views are excluded from ranking.
			continue
		}
		pc.ConversionRate = Rate(float64(pc.Purchases), float64(pc.Views))
		results = append(results, *pc)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].ConversionRate != results[j].ConversionRate {
			return results[i].ConversionRate > results[j].ConversionRate
		}
		return results[i].ProductID < results[j].ProductID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// DeleteDay removes events created within the UTC day starting at day.
func (s *InMemoryStore) DeleteDay(ctx context.Context, day time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	deleted := 0
	for id, e := range s.events {
		at := e.CreatedAt.UTC()
		if !at.Before(start) && at.Before(end) {
			delete(s.events, id)
			deleted++
		}
	}
	return deleted, nil
}

// All returns a copy of every stored event. Used by the in-memory
// rollup and by tests.
func (s *InMemoryStore) All() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]Event, 0, len(s.events))
	for _, e := range s.events {
		events = append(events, e)
	}
	return events
}

// Len returns the number of stored events. Intended for tests and the
// queue health endpoint of single-process deployments.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
