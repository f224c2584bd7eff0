package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// InsertBatch bulk-inserts events in chunks of at most MaxBatchSize rows,
// one multi-row statement per chunk. ON CONFLICT (id) DO NOTHING makes
// redelivery of the same batch a no-op for already-written rows.
func (s *PostgresStore) InsertBatch(ctx context.Context, events []Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	inserted := 0
	for start := 0; start < len(events); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(events) {
			end = len(events)
		}
		n, err := s.insertChunk(ctx, events[start:end])
		if err != nil {
			return inserted, fmt.Errorf("insert chunk [%d:%d]: %w", start, end, err)
		}
		inserted += n
	}
	return inserted, nil
}

// insertChunk writes one multi-row insert. A zero CreatedAt falls back to
// now() server-side via COALESCE on a NULL argument.
func (s *PostgresStore) insertChunk(ctx context.Context, events []Event) (int, error) {
	const cols = 8
	placeholders := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*cols)

	for i, e := range events {
		base := i * cols
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, COALESCE($%d, now()))",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))

		var meta interface{}
		if len(e.Meta) > 0 {
			encoded, err := json.Marshal(e.Meta)
			if err != nil {
				return 0, fmt.Errorf("marshal meta for event %s: %w", e.ID, err)
			}
			meta = encoded
		}
		var createdAt interface{}
		if !e.CreatedAt.IsZero() {
			createdAt = e.CreatedAt
		}
		args = append(args, e.ID, e.StoreID, e.ProductID, e.UserID, string(e.EventType), e.Value, meta, createdAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO events (id, store_id, product_id, user_id, event_type, value, meta, created_at)
		VALUES %s
		ON CONFLICT (id) DO NOTHING
	`, strings.Join(placeholders, ", "))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// RangeAggregate computes conditional sums with FILTER clauses so a single
// scan answers all counters. Revenue is summed over purchase values only
// and COALESCEd to 0 when no purchases exist in range.
func (s *PostgresStore) RangeAggregate(ctx context.Context, scope Scope, entityID string, from, to *time.Time) (Totals, error) {
	if err := ValidateRange(from, to); err != nil {
		return Totals{}, err
	}

	entityCol := "product_id"
	if scope == ScopeStore {
		entityCol = "store_id"
	}

	query := fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE event_type = 'view') AS views,
			COUNT(*) FILTER (WHERE event_type = 'purchase') AS purchases,
			COUNT(*) FILTER (WHERE event_type = 'add_to_cart') AS add_to_carts,
			COUNT(*) FILTER (WHERE event_type = 'checkout') AS checkouts,
			COALESCE(SUM(value) FILTER (WHERE event_type = 'purchase'), 0) AS revenue
		FROM events
		WHERE %s = $1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at <= $3)
	`, entityCol)

	var t Totals
	err := s.db.QueryRowContext(ctx, query, entityID, nullableTime(from), nullableTime(to)).
		Scan(&t.Views, &t.Purchases, &t.AddToCarts, &t.Checkouts, &t.Revenue)
	if err != nil {
		return Totals{}, fmt.Errorf("range aggregate for %s %s: %w", scope, entityID, err)
	}
	return t, nil
}

// TopProductsByConversion ranks a store's products by purchases/views.
// Products with zero views are excluded; ties break on product_id for a
// deterministic order.
func (s *PostgresStore) TopProductsByConversion(ctx context.Context, storeID string, from, to *time.Time, limit int) ([]ProductConversion, error) {
	if err := ValidateRange(from, to); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultTopLimit
	}

	query := `
		SELECT
			product_id,
			COUNT(*) FILTER (WHERE event_type = 'view') AS views,
			COUNT(*) FILTER (WHERE event_type = 'purchase') AS purchases,
			COALESCE(SUM(value) FILTER (WHERE event_type = 'purchase'), 0) AS revenue
		FROM events
		WHERE store_id = $1
		  AND product_id IS NOT NULL
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at <= $3)
		GROUP BY product_id
		HAVING COUNT(*) FILTER (WHERE event_type = 'view') > 0
		ORDER BY
			COUNT(*) FILTER (WHERE event_type = 'purchase')::float
				/ COUNT(*) FILTER (WHERE event_type = 'view') DESC,
			product_id ASC
		LIMIT $4
	`

	rows, err := s.db.QueryContext(ctx, query, storeID, nullableTime(from), nullableTime(to), limit)
	if err != nil {
		return nil, fmt.Errorf("top products for store %s: %w", storeID, err)
	}
	defer rows.Close()

	var results []ProductConversion
	for rows.Next() {
		var pc ProductConversion
		if err := rows.Scan(&pc.ProductID, &pc.Views, &pc.Purchases, &pc.Revenue); err != nil {
			return nil, fmt.Errorf("scan top product row: %w", err)
		}
		pc.ConversionRate = Rate(float64(pc.Purchases), float64(pc.Views))
		results = append(results, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top product rows: %w", err)
	}
	return results, nil
}

// DeleteDay removes raw events created within the UTC day starting at
// day. Only the retention cleanup calls this, strictly after rollup
// success has been confirmed for that date.
func (s *PostgresStore) DeleteDay(ctx context.Context, day time.Time) (int, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE created_at >= $1 AND created_at < $2`, start, end)
	if err != nil {
		return 0, fmt.Errorf("delete events for %s: %w", start.Format("2006-01-02"), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	s.logger.Info("purged raw events", "date", start.Format("2006-01-02"), "deleted", affected)
	return int(affected), nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
