package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/coupon"
)

const (
	couponColumns = `code, discount_type, value, description, min_order, valid_from, valid_until,
		max_uses, used_count, is_active, applicable_categories, user_groups`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE UPPER(code) = UPPER($1)`

	// The guard makes check and increment one atomic step: concurrent
	// redeemers of the last use serialize on the row lock and the loser
	// re-evaluates the WHERE clause against the committed count.
	redeemCouponSQL = `UPDATE coupons SET used_count = used_count + 1
		WHERE UPPER(code) = UPPER($1) AND is_active AND (max_uses = 0 OR used_count < max_uses)`

	upsertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10, $11)
		ON CONFLICT ((UPPER(code))) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			description = EXCLUDED.description,
			min_order = EXCLUDED.min_order,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			max_uses = CASE WHEN EXCLUDED.max_uses = 0 THEN 0
				ELSE GREATEST(EXCLUDED.max_uses, coupons.used_count) END,
			is_active = EXCLUDED.is_active,
			applicable_categories = EXCLUDED.applicable_categories,
			user_groups = EXCLUDED.user_groups`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive).
// Returns coupon.ErrNotFound when no coupon has that code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return findCoupon(ctx, r.pool, code)
}

// Redeem atomically consumes one use of the coupon.
func (r *CouponRepository) Redeem(ctx context.Context, code string) (bool, error) {
	return redeemCoupon(ctx, r.pool, code)
}

// Upsert inserts a coupon definition or updates an existing one without
// touching its usage count. Codes differing only in case are the same
// coupon. A finite max_uses never drops below uses already made.
func (r *CouponRepository) Upsert(ctx context.Context, c coupon.Coupon) error {
	return upsertCoupon(ctx, r.pool, c)
}

func findCoupon(ctx context.Context, q querier, code string) (*coupon.Coupon, error) {
	rows, err := q.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

func redeemCoupon(ctx context.Context, q querier, code string) (bool, error) {
	tag, err := q.Exec(ctx, redeemCouponSQL, code)
	if err != nil {
		return false, fmt.Errorf("redeeming coupon %q: %w", code, err)
	}
	return tag.RowsAffected() == 1, nil
}

func upsertCoupon(ctx context.Context, q querier, c coupon.Coupon) error {
	categories := c.ApplicableCategories
	if categories == nil {
		categories = []string{}
	}
	groups := c.UserGroups
	if groups == nil {
		groups = []string{}
	}
	_, err := q.Exec(ctx, upsertCouponSQL,
		c.Code, string(c.Type), c.Value, c.Description, c.MinOrder, c.ValidFrom, c.ValidUntil,
		c.MaxUses, c.IsActive, categories, groups,
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		validFrom    *time.Time
		validUntil   *time.Time
	)
	err := row.Scan(
		&c.Code, &discountType, &c.Value, &c.Description, &c.MinOrder, &validFrom, &validUntil,
		&c.MaxUses, &c.UsedCount, &c.IsActive, &c.ApplicableCategories, &c.UserGroups,
	)
	c.Type = coupon.Type(discountType)
	c.ValidFrom = validFrom
	c.ValidUntil = validUntil
	return c, err
}
