package memory

import (
	"context"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

var (
	_ checkout.Store = (*DB)(nil)
	_ checkout.Tx    = (*tx)(nil)
)

// InTx runs fn while holding the database lock. Changes made through the
// transaction are undone when fn fails.
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context, tx checkout.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	t := &tx{db: db}
	if err := fn(ctx, t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

type tx struct {
	db   *DB
	undo []func()
}

// remember records how to restore m[k] to its current state.
func remember[K comparable, V any](t *tx, m map[K]V, k K) {
	prev, had := m[k]
	t.undo = append(t.undo, func() {
		if had {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
}

func (t *tx) rollback() {
	for _, fn := range slices.Backward(t.undo) {
		fn()
	}
	t.undo = nil
}

func (t *tx) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	return t.db.findCoupon(code)
}

func (t *tx) Redeem(_ context.Context, code string) (bool, error) {
	remember(t, t.db.coupons, couponKey(code))
	return t.db.redeemCoupon(code), nil
}

func (t *tx) CartLines(_ context.Context, userID string) ([]cart.Line, error) {
	return slices.Clone(t.db.carts[userID]), nil
}

func (t *tx) LockProducts(_ context.Context, ids []string) ([]product.Product, error) {
	return t.db.productsByIDs(ids), nil
}

func (t *tx) DecrementStock(_ context.Context, productID string, qty int) (bool, error) {
	p, ok := t.db.products[productID]
	if !ok || p.StockQuantity < qty {
		return false, nil
	}
	remember(t, t.db.products, productID)
	p.StockQuantity -= qty
	t.db.products[productID] = p
	return true, nil
}

func (t *tx) CreateOrder(_ context.Context, o *order.Order) error {
	if _, ok := t.db.orders[o.ID]; ok {
		return errors.Errorf("order %q already exists", o.ID)
	}
	remember(t, t.db.orders, o.ID)
	t.db.orders[o.ID] = copyOrder(*o)
	return nil
}

func (t *tx) ClearCart(_ context.Context, userID string) error {
	remember(t, t.db.carts, userID)
	delete(t.db.carts, userID)
	return nil
}
