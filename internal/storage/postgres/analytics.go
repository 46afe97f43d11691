package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/analytics"
)

const (
	snapshotColumns = `day, total_orders, total_revenue, new_users, popular_products, categories, generated_at`

	upsertSnapshotSQL = `INSERT INTO analytics_snapshots (` + snapshotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (day) DO UPDATE SET
			total_orders = EXCLUDED.total_orders,
			total_revenue = EXCLUDED.total_revenue,
			new_users = EXCLUDED.new_users,
			popular_products = EXCLUDED.popular_products,
			categories = EXCLUDED.categories,
			generated_at = EXCLUDED.generated_at`

	getSnapshotSQL = `SELECT ` + snapshotColumns + ` FROM analytics_snapshots WHERE day = $1`

	listSnapshotsSQL = `SELECT ` + snapshotColumns + ` FROM analytics_snapshots
		WHERE day >= $1 AND day < $2 ORDER BY day`
)

var _ analytics.Repository = (*SnapshotRepository)(nil)

// SnapshotRepository implements analytics.Repository backed by PostgreSQL.
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository returns a SnapshotRepository that uses the given pool.
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

// Upsert stores s keyed by its day.
func (r *SnapshotRepository) Upsert(ctx context.Context, s *analytics.Snapshot) error {
	popular := s.PopularProducts
	if popular == nil {
		popular = []analytics.ProductSales{}
	}
	categories := s.Categories
	if categories == nil {
		categories = []analytics.CategorySales{}
	}

	_, err := r.pool.Exec(ctx, upsertSnapshotSQL,
		analytics.Day(s.Date), s.TotalOrders, s.TotalRevenue, s.NewUsers, popular, categories, s.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting snapshot for %s: %w", s.Date.Format(time.DateOnly), err)
	}
	return nil
}

// Get returns the snapshot of one day.
func (r *SnapshotRepository) Get(ctx context.Context, day time.Time) (*analytics.Snapshot, error) {
	rows, err := r.pool.Query(ctx, getSnapshotSQL, analytics.Day(day))
	if err != nil {
		return nil, fmt.Errorf("getting snapshot for %s: %w", day.Format(time.DateOnly), err)
	}

	s, err := pgx.CollectExactlyOneRow(rows, scanSnapshot)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, analytics.ErrNotFound
		}
		return nil, fmt.Errorf("getting snapshot for %s: %w", day.Format(time.DateOnly), err)
	}
	return &s, nil
}

// ListRange returns snapshots with dates in [from, to), oldest first.
func (r *SnapshotRepository) ListRange(ctx context.Context, from, to time.Time) ([]analytics.Snapshot, error) {
	rows, err := r.pool.Query(ctx, listSnapshotsSQL, analytics.Day(from), analytics.Day(to))
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	return pgx.CollectRows(rows, scanSnapshot)
}

func scanSnapshot(row pgx.CollectableRow) (analytics.Snapshot, error) {
	var s analytics.Snapshot
	err := row.Scan(
		&s.Date, &s.TotalOrders, &s.TotalRevenue, &s.NewUsers, &s.PopularProducts, &s.Categories, &s.GeneratedAt,
	)
	s.Date = analytics.Day(s.Date)
	s.GeneratedAt = s.GeneratedAt.UTC()
	return s, err
}
