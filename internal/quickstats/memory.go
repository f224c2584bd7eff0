package quickstats

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex. Used in tests and single-process
// deployments; entities must be seeded before they can be mutated,
// mirroring the not-found behavior of the SQL implementation.
type InMemoryRepository struct {
	mu       sync.RWMutex
	stores   map[string]*QuickStats
	products map[string]*QuickStats
}

// NewInMemoryRepository creates a new in-memory quick-stats repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		stores:   make(map[string]*QuickStats),
		products: make(map[string]*QuickStats),
	}
}

// SeedStore registers a store with zeroed counters.
func (r *InMemoryRepository) SeedStore(storeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[storeID] = &QuickStats{}
}

// SeedProduct registers a product with zeroed counters.
func (r *InMemoryRepository) SeedProduct(productID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[productID] = &QuickStats{}
}

// ApplyPurchase increments purchase counters on the store and product.
// The tx argument is unused here; the SQL implementation needs it to
// commit with the order.
func (r *InMemoryRepository) ApplyPurchase(ctx context.Context, tx *sql.Tx, storeID, productID string, qty int64, amount float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	store, ok := r.stores[storeID]
	if !ok {
		return fmt.Errorf("%w: store %s", ErrEntityNotFound, storeID)
	}
	product, ok := r.products[productID]
	if !ok {
		return fmt.Errorf("%w: product %s", ErrEntityNotFound, productID)
	}

	for _, s := range []*QuickStats{store, product} {
		s.TotalSales += qty
		s.OrderCount++
		s.TotalRevenue += amount
	}
	return nil
}

// ToggleLike adjusts a product's like count, clamped at zero.
func (r *InMemoryRepository) ToggleLike(ctx context.Context, productID string, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.products[productID]
	if !ok {
		return fmt.Errorf("%w: product %s", ErrEntityNotFound, productID)
	}
	product.LikeCount += delta
	if product.LikeCount < 0 {
		product.LikeCount = 0
	}
	return nil
}

// IncrementFollowers adjusts a store's follower count, clamped at zero.
func (r *InMemoryRepository) IncrementFollowers(ctx context.Context, storeID string, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	store, ok := r.stores[storeID]
	if !ok {
		return fmt.Errorf("%w: store %s", ErrEntityNotFound, storeID)
	}
	store.FollowerCount += delta
	if store.FollowerCount < 0 {
		store.FollowerCount = 0
	}
	return nil
}

// RecordReview folds a rating into the count and running average.
func (r *InMemoryRepository) RecordReview(ctx context.Context, productID string, rating float64) error {
	if !validRating(rating) {
		return fmt.Errorf("%w: %g", ErrInvalidRating, rating)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.products[productID]
	if !ok {
		return fmt.Errorf("%w: product %s", ErrEntityNotFound, productID)
	}
	product.AverageRating = (product.AverageRating*float64(product.ReviewCount) + rating) / float64(product.ReviewCount+1)
	product.ReviewCount++
	return nil
}

// GetProductStats reads a product's counters.
func (r *InMemoryRepository) GetProductStats(ctx context.Context, productID string) (*QuickStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", ErrEntityNotFound, productID)
	}
	copied := *product
	return &copied, nil
}

// GetStoreStats reads a store's counters.
func (r *InMemoryRepository) GetStoreStats(ctx context.Context, storeID string) (*QuickStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	store, ok := r.stores[storeID]
	if !ok {
		return nil, fmt.Errorf("%w: store %s", ErrEntityNotFound, storeID)
	}
	copied := *store
	return &copied, nil
}
