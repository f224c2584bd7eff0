package quickstats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// PostgresRepository implements Repository using PostgreSQL. All
// mutations are relative increments (SET x = x + $n), never
// read-modify-write, so concurrent transactions serialize on the row
// without losing updates.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{
		db:     db,
		logger: logger,
	}
}

// ApplyPurchase increments counters on the store and product rows
// inside the caller's transaction, committing with the order.
func (r *PostgresRepository) ApplyPurchase(ctx context.Context, tx *sql.Tx, storeID, productID string, qty int64, amount float64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE stores
		SET total_sales = total_sales + $2,
		    order_count = order_count + 1,
		    total_revenue = total_revenue + $3
		WHERE id = $1
	`, storeID, qty, amount)
	if err != nil {
		return fmt.Errorf("apply purchase to store %s: %w", storeID, err)
	}
	if err := requireRow(res, "store", storeID); err != nil {
		return err
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE products
		SET total_sales = total_sales + $2,
		    order_count = order_count + 1,
		    total_revenue = total_revenue + $3
		WHERE id = $1
	`, productID, qty, amount)
	if err != nil {
		return fmt.Errorf("apply purchase to product %s: %w", productID, err)
	}
	return requireRow(res, "product", productID)
}

// ToggleLike adjusts a product's like count, clamped at zero.
func (r *PostgresRepository) ToggleLike(ctx context.Context, productID string, delta int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET like_count = GREATEST(like_count + $2, 0)
		WHERE id = $1
	`, productID, delta)
	if err != nil {
		return fmt.Errorf("toggle like on product %s: %w", productID, err)
	}
	return requireRow(res, "product", productID)
}

// IncrementFollowers adjusts a store's follower count, clamped at zero.
func (r *PostgresRepository) IncrementFollowers(ctx context.Context, storeID string, delta int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE stores
		SET follower_count = GREATEST(follower_count + $2, 0)
		WHERE id = $1
	`, storeID, delta)
	if err != nil {
		return fmt.Errorf("increment followers on store %s: %w", storeID, err)
	}
	return requireRow(res, "store", storeID)
}

// RecordReview folds a rating into the count and running average in one
// statement, so two concurrent reviews both land.
func (r *PostgresRepository) RecordReview(ctx context.Context, productID string, rating float64) error {
	if !validRating(rating) {
		return fmt.Errorf("%w: %g", ErrInvalidRating, rating)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET average_rating = (average_rating * review_count + $2) / (review_count + 1),
		    review_count = review_count + 1
		WHERE id = $1
	`, productID, rating)
	if err != nil {
		return fmt.Errorf("record review on product %s: %w", productID, err)
	}
	return requireRow(res, "product", productID)
}

// GetProductStats reads a product's counters.
func (r *PostgresRepository) GetProductStats(ctx context.Context, productID string) (*QuickStats, error) {
	return r.getStats(ctx, "products", productID)
}

// GetStoreStats reads a store's counters.
func (r *PostgresRepository) GetStoreStats(ctx context.Context, storeID string) (*QuickStats, error) {
	return r.getStats(ctx, "stores", storeID)
}

func (r *PostgresRepository) getStats(ctx context.Context, table, id string) (*QuickStats, error) {
	var s QuickStats
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT view_count, like_count, total_sales, review_count,
		       follower_count, order_count, average_rating, total_revenue
		FROM %s
		WHERE id = $1
	`, table), id).
		Scan(&s.ViewCount, &s.LikeCount, &s.TotalSales, &s.ReviewCount,
			&s.FollowerCount, &s.OrderCount, &s.AverageRating, &s.TotalRevenue)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s stats for %s: %w", table, id, err)
	}
	return &s, nil
}

func requireRow(res sql.Result, kind, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s %s", ErrEntityNotFound, kind, id)
	}
	return nil
}
