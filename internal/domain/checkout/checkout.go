// Package checkout turns a user's cart into an immutable order.
package checkout

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

var (
	// ErrEmptyCart is returned when the user has nothing to check out.
	ErrEmptyCart = domain.NewError(domain.KindInvalidArgument, "cart is empty")
	// ErrProductUnavailable is returned when a product has less stock than
	// the cart asks for, or no longer exists.
	ErrProductUnavailable = domain.NewError(domain.KindConflict, "product unavailable")
	// ErrMissingAddress is returned when no shipping address is given.
	ErrMissingAddress = domain.NewError(domain.KindInvalidArgument, "shipping address required")
	// ErrMissingPaymentMethod is returned when no payment method is given.
	ErrMissingPaymentMethod = domain.NewError(domain.KindInvalidArgument, "payment method required")
)

// UnavailableError details which product blocked the checkout.
type UnavailableError struct {
	ProductID string
	Requested int
	Available int
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("product %s unavailable: requested %d, in stock %d", e.ProductID, e.Requested, e.Available)
}

func (e *UnavailableError) Unwrap() error {
	return ErrProductUnavailable
}

// Request holds the input for checking out a cart.
type Request struct {
	UserID          string
	ShippingAddress order.Address
	// BillingAddress defaults to ShippingAddress when zero.
	BillingAddress order.Address
	PaymentMethod  string
	DiscountCode   string
}

// Pricing holds the shipping rules.
type Pricing struct {
	// FreeShippingOver waives the fee for subtotals strictly above it.
	FreeShippingOver decimal.Decimal
	ShippingFee      decimal.Decimal
}

// DefaultPricing charges 5.99 shipping unless the subtotal exceeds 50.
func DefaultPricing() Pricing {
	return Pricing{
		FreeShippingOver: decimal.NewFromInt(50),
		ShippingFee:      decimal.RequireFromString("5.99"),
	}
}

// Fee returns the shipping fee for subtotal.
func (p Pricing) Fee(subtotal decimal.Decimal, zeroShipping bool) decimal.Decimal {
	if zeroShipping || subtotal.GreaterThan(p.FreeShippingOver) {
		return decimal.Zero
	}
	return p.ShippingFee
}

// Tx is the set of operations a checkout performs atomically. Coupon
// redemption through Tx is rolled back with everything else.
type Tx interface {
	coupon.Repository

	CartLines(ctx context.Context, userID string) ([]cart.Line, error)
	// LockProducts returns the products with the given ids and holds them
	// against concurrent stock changes until the transaction ends. Missing
	// ids are omitted.
	LockProducts(ctx context.Context, ids []string) ([]product.Product, error)
	// DecrementStock subtracts qty from the product's stock if at least qty
	// is available and reports whether it did.
	DecrementStock(ctx context.Context, productID string, qty int) (bool, error)
	CreateOrder(ctx context.Context, o *order.Order) error
	ClearCart(ctx context.Context, userID string) error
}

// Store runs fn in a transaction, committing when fn returns nil.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// CartLocker serializes checkout with cart mutations for the same user.
type CartLocker interface {
	Lock(ctx context.Context, userID string) (release func())
}
