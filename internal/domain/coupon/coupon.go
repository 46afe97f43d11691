package coupon

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain"
)

// Type enumerates the supported coupon discount strategies.
type Type string

const (
	// TypePercentage takes Value percent off the subtotal.
	TypePercentage Type = "percentage"
	// TypeFixed takes Value off the subtotal, capped at the subtotal.
	TypeFixed Type = "fixed"
	// TypeFreeShipping leaves the subtotal alone and waives the shipping fee.
	TypeFreeShipping Type = "free_shipping"
)

// Valid reports whether t is a known discount type.
func (t Type) Valid() bool {
	switch t {
	case TypePercentage, TypeFixed, TypeFreeShipping:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned when a code is unknown or the coupon is inactive.
	ErrNotFound = domain.NewError(domain.KindNotFound, "coupon not found")
	// ErrExpired is returned when now is outside the coupon's validity window.
	ErrExpired = domain.NewError(domain.KindInvalidArgument, "coupon expired")
	// ErrLimitReached is returned when the coupon has no redemptions left.
	ErrLimitReached = domain.NewError(domain.KindConflict, "coupon usage limit reached")
	// ErrMinOrderNotMet is returned when the subtotal is below the coupon minimum.
	ErrMinOrderNotMet = domain.NewError(domain.KindInvalidArgument, "order subtotal below coupon minimum")
	// ErrNotApplicable is returned when no cart item is in one of the
	// coupon's categories.
	ErrNotApplicable = domain.NewError(domain.KindInvalidArgument, "coupon not applicable to cart")
)

// Coupon is a limited-use discount code.
type Coupon struct {
	Code        string
	Type        Type
	Value       decimal.Decimal
	Description string
	// MinOrder is ignored when zero.
	MinOrder   decimal.Decimal
	ValidFrom  *time.Time
	ValidUntil *time.Time
	// MaxUses of zero means unlimited.
	MaxUses   int
	UsedCount int
	IsActive  bool
	// ApplicableCategories restricts the coupon to carts holding at least one
	// product of a listed category. Empty means every cart qualifies.
	ApplicableCategories []string
	// UserGroups is carried for catalog tooling. Redemption does not consult it.
	UserGroups []string
}

// Discount is the outcome of applying a coupon to a cart.
type Discount struct {
	Code         string
	Amount       decimal.Decimal
	ZeroShipping bool
	Description  string
}

// Item is a cart line as seen by the engine.
type Item struct {
	ProductID string
	Category  string
	Price     decimal.Decimal
	Quantity  int
}

// Finder looks coupons up by code.
type Finder interface {
	// FindByCode returns the coupon with the given code, compared
	// case-insensitively. Inactive coupons are returned too; the engine
	// rejects them.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
}

// Repository adds the atomic redemption step to Finder.
type Repository interface {
	Finder
	// Redeem increments the usage counter of an active coupon only if it is
	// still below MaxUses, as one conditional write. It reports whether the
	// increment happened.
	Redeem(ctx context.Context, code string) (bool, error)
}
