package coupon

import (
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Apply computes the discount c grants on subtotal. It does not check
// eligibility; see Engine for the full validation order.
func Apply(c *Coupon, subtotal decimal.Decimal) (Discount, error) {
	d := Discount{Code: c.Code, Description: c.Description}

	switch c.Type {
	case TypePercentage:
		d.Amount = subtotal.Mul(c.Value).Div(hundred)
	case TypeFixed:
		d.Amount = c.Value
	case TypeFreeShipping:
		d.Amount = decimal.Zero
		d.ZeroShipping = true
	default:
		return Discount{}, errors.Errorf("unsupported discount type: %q", c.Type)
	}

	d.Amount = clamp(d.Amount, subtotal).Round(2)
	return d, nil
}

// Applicable reports whether items satisfy the coupon's category
// restriction. One matching item is enough.
func Applicable(c *Coupon, items []Item) bool {
	if len(c.ApplicableCategories) == 0 {
		return true
	}
	return slices.ContainsFunc(items, func(it Item) bool {
		return slices.Contains(c.ApplicableCategories, it.Category)
	})
}

// Subtotal returns the sum of price * quantity across items.
func Subtotal(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum
}

// clamp bounds a discount to [0, limit].
func clamp(amount, limit decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(amount, limit)
}
