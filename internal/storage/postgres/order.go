package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/analytics"
	"github.com/xenking/storefront/internal/domain/order"
)

const (
	orderColumns = `id, user_id, items, shipping_address, billing_address, payment_method, coupon_code,
		subtotal, shipping_fee, discount, total, status, tracking_number, carrier, order_date, status_history`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 ORDER BY order_date DESC, id`

	listOrdersPlacedSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE order_date >= $1 AND order_date < $2 ORDER BY order_date DESC, id`

	updateOrderStatusSQL = `UPDATE orders
		SET status = $2, tracking_number = $3, carrier = $4, status_history = $5
		WHERE id = $1 AND status = $6`
)

var (
	_ order.Repository      = (*OrderRepository)(nil)
	_ analytics.OrderReader = (*OrderRepository)(nil)
)

// OrderRepository implements order.Repository and analytics.OrderReader
// backed by PostgreSQL. Items, addresses and status history are stored as
// JSONB.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// GetByID returns one order.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// UpdateStatus writes the lifecycle fields if the stored status is still from.
func (r *OrderRepository) UpdateStatus(ctx context.Context, o *order.Order, from order.Status) (bool, error) {
	tag, err := r.pool.Exec(ctx, updateOrderStatusSQL,
		o.ID, string(o.Status), o.TrackingNumber, o.Carrier, o.StatusHistory, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("updating status of order %q: %w", o.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// OrdersPlacedBetween returns orders with an order date in [from, to).
func (r *OrderRepository) OrdersPlacedBetween(ctx context.Context, from, to time.Time) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersPlacedSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing orders placed between %s and %s: %w", from, to, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

func createOrder(ctx context.Context, q querier, o *order.Order) error {
	_, err := q.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, o.Items, o.ShippingAddress, o.BillingAddress, o.PaymentMethod, o.CouponCode,
		o.Subtotal, o.ShippingFee, o.Discount, o.Total, string(o.Status), o.TrackingNumber, o.Carrier,
		o.OrderDate, o.StatusHistory,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Items, &o.ShippingAddress, &o.BillingAddress, &o.PaymentMethod, &o.CouponCode,
		&o.Subtotal, &o.ShippingFee, &o.Discount, &o.Total, &status, &o.TrackingNumber, &o.Carrier,
		&o.OrderDate, &o.StatusHistory,
	)
	o.Status = order.Status(status)
	o.OrderDate = o.OrderDate.UTC()
	return o, err
}
