package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

var (
	_ checkout.Store = (*CheckoutStore)(nil)
	_ checkout.Tx    = (*checkoutTx)(nil)
)

// CheckoutStore runs checkouts in READ COMMITTED transactions. Stock is
// protected by row locks on the products involved; coupon usage by the
// guarded increment.
type CheckoutStore struct {
	pool *pgxpool.Pool
}

// NewCheckoutStore returns a CheckoutStore that uses the given pool.
func NewCheckoutStore(pool *pgxpool.Pool) *CheckoutStore {
	return &CheckoutStore{pool: pool}
}

// InTx implements checkout.Store.
func (s *CheckoutStore) InTx(ctx context.Context, fn func(ctx context.Context, tx checkout.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(ctx, &checkoutTx{tx: tx})
	})
}

type checkoutTx struct {
	tx pgx.Tx
}

func (t *checkoutTx) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return findCoupon(ctx, t.tx, code)
}

func (t *checkoutTx) Redeem(ctx context.Context, code string) (bool, error) {
	return redeemCoupon(ctx, t.tx, code)
}

// CartLines locks the cart rows so a replica without the in-process cart
// lock cannot change them mid-checkout.
func (t *checkoutTx) CartLines(ctx context.Context, userID string) ([]cart.Line, error) {
	return cartLines(ctx, t.tx, lockCartLinesSQL, userID)
}

func (t *checkoutTx) LockProducts(ctx context.Context, ids []string) ([]product.Product, error) {
	return productsByIDs(ctx, t.tx, lockProductsSQL, ids)
}

func (t *checkoutTx) DecrementStock(ctx context.Context, productID string, qty int) (bool, error) {
	tag, err := t.tx.Exec(ctx, decrementStockSQL, productID, qty)
	if err != nil {
		return false, fmt.Errorf("decrementing stock of %q: %w", productID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *checkoutTx) CreateOrder(ctx context.Context, o *order.Order) error {
	return createOrder(ctx, t.tx, o)
}

func (t *checkoutTx) ClearCart(ctx context.Context, userID string) error {
	return clearCart(ctx, t.tx, userID)
}
