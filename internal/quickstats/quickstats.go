// Package quickstats maintains the denormalized counters stored on
// store and product rows. These serve instant reads without scanning
// events; they are mutated only through this repository, with atomic
// SQL increments so concurrent transactions never lose updates.
package quickstats

import (
	"context"
	"database/sql"
	"errors"
)

// Common errors for quick-stat operations.
var (
	ErrEntityNotFound = errors.New("entity not found")
	ErrInvalidRating  = errors.New("rating must be between 1 and 5")
)

// QuickStats is the denormalized counter block carried by a store or
// product row.
type QuickStats struct {
	ViewCount     int64   `json:"view_count"`
	LikeCount     int64   `json:"like_count"`
	TotalSales    int64   `json:"total_sales"`
	ReviewCount   int64   `json:"review_count"`
	FollowerCount int64   `json:"follower_count"`
	OrderCount    int64   `json:"order_count"`
	AverageRating float64 `json:"average_rating"`
	TotalRevenue  float64 `json:"total_revenue"`
}

// Repository mutates and reads denormalized quick stats. Purchase
// mutations take the caller's transaction so the counters commit or
// roll back with the order itself; the other mutations are single
// atomic statements.
type Repository interface {
	// ApplyPurchase increments sales, order and revenue counters on both
	// the store and the product inside the caller's order transaction.
	ApplyPurchase(ctx context.Context, tx *sql.Tx, storeID, productID string, qty int64, amount float64) error

	// ToggleLike adjusts a product's like count by delta (+1 like,
	// -1 unlike). The count never goes below zero.
	ToggleLike(ctx context.Context, productID string, delta int64) error

	// IncrementFollowers adjusts a store's follower count by delta. The
	// count never goes below zero.
	IncrementFollowers(ctx context.Context, storeID string, delta int64) error

	// RecordReview adds a review to a product, updating the count and
	// the running average rating in one statement.
	RecordReview(ctx context.Context, productID string, rating float64) error

	// GetProductStats reads a product's counters, or ErrEntityNotFound.
	GetProductStats(ctx context.Context, productID string) (*QuickStats, error)

	// GetStoreStats reads a store's counters, or ErrEntityNotFound.
	GetStoreStats(ctx context.Context, storeID string) (*QuickStats, error)
}

// validRating bounds review ratings to the 1..5 scale.
func validRating(rating float64) bool {
	return rating >= 1 && rating <= 5
}
