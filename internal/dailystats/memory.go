package dailystats

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/evermart/analytics/internal/event"
)

type statKey struct {
	scope    event.Scope
	entityID string
	date     time.Time
}

// InMemoryRepository implements Repository over an in-memory event
// store. Thread-safe via RWMutex. Used in tests and single-process
// deployments.
type InMemoryRepository struct {
	mu     sync.RWMutex
	events *event.InMemoryStore
	stats  map[statKey]DailyStat
	runs   map[time.Time]time.Time // date -> confirmed at
}

// NewInMemoryRepository creates a repository that rolls up from the
// given in-memory event store.
func NewInMemoryRepository(events *event.InMemoryStore) *InMemoryRepository {
	return &InMemoryRepository{
		events: events,
		stats:  make(map[statKey]DailyStat),
		runs:   make(map[time.Time]time.Time),
	}
}

// RollupDate recomputes stats for every entity with events on the given
// date and overwrites existing rows with the recomputed values, so a
// re-run produces the same rows instead of double counting. Raw events
// are append-only until retention deletes them, so a recompute never
// loses an entity a previous run saw.
func (r *InMemoryRepository) RollupDate(ctx context.Context, date time.Time) (int, error) {
	day := Day(date)
	end := day.Add(24 * time.Hour)

	fresh := make(map[statKey]DailyStat)
	for _, e := range r.events.All() {
		at := e.CreatedAt.UTC()
		if at.Before(day) || !at.Before(end) {
			continue
		}
		if e.StoreID != nil {
			fold(fresh, statKey{event.ScopeStore, *e.StoreID, day}, e)
		}
		if e.ProductID != nil {
			fold(fresh, statKey{event.ScopeProduct, *e.ProductID, day}, e)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for k, s := range fresh {
		r.stats[k] = s
	}
	r.runs[day] = time.Now().UTC()
	return len(fresh), nil
}

func fold(stats map[statKey]DailyStat, k statKey, e event.Event) {
	s, ok := stats[k]
	if !ok {
		s = DailyStat{Scope: k.scope, EntityID: k.entityID, Date: k.date}
	}
	switch e.EventType {
	case event.TypeView:
		s.Views++
	case event.TypePurchase:
		s.Purchases++
		if e.Value != nil {
			s.Revenue += *e.Value
		}
	case event.TypeAddToCart:
		s.AddToCarts++
	case event.TypeCheckout:
		s.Checkouts++
	}
	stats[k] = s
}

// RangeTotals sums rows for one entity over the inclusive date range.
func (r *InMemoryRepository) RangeTotals(ctx context.Context, scope event.Scope, entityID string, from, to time.Time) (event.Totals, error) {
	fromDay, toDay := Day(from), Day(to)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var t event.Totals
	for k, s := range r.stats {
		if k.scope != scope || k.entityID != entityID {
			continue
		}
		if k.date.Before(fromDay) || k.date.After(toDay) {
			continue
		}
		t.Views += s.Views
		t.Purchases += s.Purchases
		t.AddToCarts += s.AddToCarts
		t.Checkouts += s.Checkouts
		t.Revenue += s.Revenue
	}
	return t, nil
}

// Get returns one stat row, or ErrStatNotFound.
func (r *InMemoryRepository) Get(ctx context.Context, scope event.Scope, entityID string, date time.Time) (*DailyStat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.stats[statKey{scope, entityID, Day(date)}]
	if !ok {
		return nil, ErrStatNotFound
	}
	return &s, nil
}

// ConfirmedDates returns rolled-up dates before the cutoff, ascending.
func (r *InMemoryRepository) ConfirmedDates(ctx context.Context, before time.Time) ([]time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var dates []time.Time
	for date := range r.runs {
		if date.Before(before) {
			dates = append(dates, date)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}
