package product

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = domain.NewError(domain.KindNotFound, "product not found")

var hundred = decimal.NewFromInt(100)

// Product represents a catalog item available for purchase. The catalog is
// owned by an external collaborator; the core only reads it, except for the
// stock decrement performed inside a checkout transaction.
type Product struct {
	ID              string
	Name            string
	Price           decimal.Decimal
	DiscountPercent decimal.Decimal
	StockQuantity   int
	Category        string
	Image           string
}

// UnitPrice returns the price a shopper pays for one unit right now, with the
// product-level discount applied and rounded to cents.
func (p Product) UnitPrice() decimal.Decimal {
	if !p.DiscountPercent.IsPositive() {
		return p.Price.Round(2)
	}
	pct := decimal.Min(p.DiscountPercent, hundred)
	off := p.Price.Mul(pct).Div(hundred)
	return p.Price.Sub(off).Round(2)
}

// Repository is the read-only Catalog Reader.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
