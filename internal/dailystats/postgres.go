package dailystats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evermart/analytics/internal/event"
)

// PostgresRepository implements Repository using PostgreSQL.
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

// rollupScopeQuery builds the INSERT ... SELECT upsert for one scope.
// The SELECT recomputes the whole day from raw events and the upsert
// overwrites with EXCLUDED values, never increments, so re-running a
// date converges on the same rows.
func rollupScopeQuery(scope event.Scope) string {
	entityCol := "product_id"
	if scope == event.ScopeStore {
		entityCol = "store_id"
	}
	return fmt.Sprintf(`
		INSERT INTO daily_stats (scope, entity_id, date, views, purchases, add_to_carts, checkouts, revenue)
		SELECT
			'%s' AS scope,
			%s AS entity_id,
			$1::date AS date,
			COUNT(*) FILTER (WHERE event_type = 'view') AS views,
			COUNT(*) FILTER (WHERE event_type = 'purchase') AS purchases,
			COUNT(*) FILTER (WHERE event_type = 'add_to_cart') AS add_to_carts,
			COUNT(*) FILTER (WHERE event_type = 'checkout') AS checkouts,
			COALESCE(SUM(value) FILTER (WHERE event_type = 'purchase'), 0) AS revenue
		FROM events
		WHERE %s IS NOT NULL
		  AND created_at >= $1::date
		  AND created_at < $1::date + INTERVAL '1 day'
		GROUP BY %s
		ON CONFLICT (scope, entity_id, date) DO UPDATE SET
			views = EXCLUDED.views,
			purchases = EXCLUDED.purchases,
			add_to_carts = EXCLUDED.add_to_carts,
			checkouts = EXCLUDED.checkouts,
			revenue = EXCLUDED.revenue
	`, scope, entityCol, entityCol, entityCol)
}

// RollupDate recomputes and upserts both scopes for one date and records
// the confirmed run, all in one transaction.
func (r *PostgresRepository) RollupDate(ctx context.Context, date time.Time) (int, error) {
	day := Day(date)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin rollup tx: %w", err)
	}
	defer tx.Rollback()

	written := 0
	for _, scope := range []event.Scope{event.ScopeStore, event.ScopeProduct} {
		res, err := tx.ExecContext(ctx, rollupScopeQuery(scope), day)
		if err != nil {
			return 0, fmt.Errorf("rollup %s stats for %s: %w", scope, day.Format("2006-01-02"), err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		written += int(affected)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rollup_runs (date, completed_at)
		VALUES ($1, now())
		ON CONFLICT (date) DO UPDATE SET completed_at = now()
	`, day); err != nil {
		return 0, fmt.Errorf("record rollup run for %s: %w", day.Format("2006-01-02"), err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit rollup tx: %w", err)
	}

	r.logger.Info("rolled up daily stats", "date", day.Format("2006-01-02"), "rows", written)
	return written, nil
}

// RangeTotals sums stat rows over the inclusive date range.
func (r *PostgresRepository) RangeTotals(ctx context.Context, scope event.Scope, entityID string, from, to time.Time) (event.Totals, error) {
	var t event.Totals
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(views), 0),
			COALESCE(SUM(purchases), 0),
			COALESCE(SUM(add_to_carts), 0),
			COALESCE(SUM(checkouts), 0),
			COALESCE(SUM(revenue), 0)
		FROM daily_stats
		WHERE scope = $1 AND entity_id = $2 AND date >= $3 AND date <= $4
	`, string(scope), entityID, Day(from), Day(to)).
		Scan(&t.Views, &t.Purchases, &t.AddToCarts, &t.Checkouts, &t.Revenue)
	if err != nil {
		return event.Totals{}, fmt.Errorf("range totals for %s %s: %w", scope, entityID, err)
	}
	return t, nil
}

// Get returns one stat row, or ErrStatNotFound.
func (r *PostgresRepository) Get(ctx context.Context, scope event.Scope, entityID string, date time.Time) (*DailyStat, error) {
	s := DailyStat{Scope: scope, EntityID: entityID, Date: Day(date)}
	err := r.db.QueryRowContext(ctx, `
		SELECT views, purchases, add_to_carts, checkouts, revenue
		FROM daily_stats
		WHERE scope = $1 AND entity_id = $2 AND date = $3
	`, string(scope), entityID, s.Date).
		Scan(&s.Views, &s.Purchases, &s.AddToCarts, &s.Checkouts, &s.Revenue)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get daily stat: %w", err)
	}
	return &s, nil
}

// ConfirmedDates returns rolled-up dates before the cutoff, ascending.
func (r *PostgresRepository) ConfirmedDates(ctx context.Context, before time.Time) ([]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT date FROM rollup_runs WHERE date < $1 ORDER BY date ASC
	`, before)
	if err != nil {
		return nil, fmt.Errorf("list confirmed rollup dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan rollup date: %w", err)
		}
		dates = append(dates, d.UTC())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rollup dates: %w", err)
	}
	return dates, nil
}
