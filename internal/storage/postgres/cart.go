package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/cart"
)

const (
	cartLinesSQL = `SELECT product_id, quantity, added_at FROM cart_lines
		WHERE user_id = $1 ORDER BY added_at, product_id`

	lockCartLinesSQL = cartLinesSQL + ` FOR UPDATE`

	addCartQuantitySQL = `INSERT INTO cart_lines (user_id, product_id, quantity, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, product_id) DO UPDATE SET quantity = cart_lines.quantity + EXCLUDED.quantity
		WHERE cart_lines.quantity::BIGINT + EXCLUDED.quantity <= $5`

	setCartQuantitySQL = `UPDATE cart_lines SET quantity = $3 WHERE user_id = $1 AND product_id = $2`

	removeCartLineSQL = `DELETE FROM cart_lines WHERE user_id = $1 AND product_id = $2`

	clearCartSQL = `DELETE FROM cart_lines WHERE user_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. Each
// method is a single statement, so concurrent increments from different
// replicas are never lost.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

func (r *CartRepository) Lines(ctx context.Context, userID string) ([]cart.Line, error) {
	return cartLines(ctx, r.pool, cartLinesSQL, userID)
}

func (r *CartRepository) AddQuantity(ctx context.Context, userID string, line cart.Line) error {
	tag, err := r.pool.Exec(ctx, addCartQuantitySQL, userID, line.ProductID, line.Quantity, line.AddedAt, cart.MaxQuantity)
	if err != nil {
		return fmt.Errorf("adding %q to cart of %q: %w", line.ProductID, userID, err)
	}
	// The conflict update is skipped when the sum would pass the limit.
	if tag.RowsAffected() == 0 {
		return cart.ErrQuantityLimit
	}
	return nil
}

func (r *CartRepository) SetQuantity(ctx context.Context, userID, productID string, qty int) (bool, error) {
	tag, err := r.pool.Exec(ctx, setCartQuantitySQL, userID, productID, qty)
	if err != nil {
		return false, fmt.Errorf("updating %q in cart of %q: %w", productID, userID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *CartRepository) RemoveLine(ctx context.Context, userID, productID string) error {
	if _, err := r.pool.Exec(ctx, removeCartLineSQL, userID, productID); err != nil {
		return fmt.Errorf("removing %q from cart of %q: %w", productID, userID, err)
	}
	return nil
}

func (r *CartRepository) ClearLines(ctx context.Context, userID string) error {
	return clearCart(ctx, r.pool, userID)
}

func cartLines(ctx context.Context, q querier, sql, userID string) ([]cart.Line, error) {
	rows, err := q.Query(ctx, sql, userID)
	if err != nil {
		return nil, fmt.Errorf("reading cart of %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Line, error) {
		var l cart.Line
		err := row.Scan(&l.ProductID, &l.Quantity, &l.AddedAt)
		l.AddedAt = l.AddedAt.UTC()
		return l, err
	})
}

func clearCart(ctx context.Context, q querier, userID string) error {
	if _, err := q.Exec(ctx, clearCartSQL, userID); err != nil {
		return fmt.Errorf("clearing cart of %q: %w", userID, err)
	}
	return nil
}
