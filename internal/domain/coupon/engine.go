package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Engine validates coupon codes against a cart and redeems them.
type Engine struct {
	finder Finder
	now    func() time.Time
}

// NewEngine creates an Engine. finder serves Validate; Redeem is given the
// transactional repository explicitly.
func NewEngine(finder Finder) *Engine {
	return &Engine{finder: finder, now: time.Now}
}

// Validate checks code against the cart without consuming it.
func (e *Engine) Validate(ctx context.Context, code string, items []Item, subtotal decimal.Decimal) (*Discount, error) {
	c, err := find(ctx, e.finder, code)
	if err != nil {
		return nil, err
	}
	return e.evaluate(c, items, subtotal)
}

// Redeem validates code and consumes one use of it through repo. Two
// callers racing for the last use cannot both succeed: the loser gets
// ErrLimitReached from the conditional increment even when its own read
// still saw a free slot.
func (e *Engine) Redeem(ctx context.Context, repo Repository, code string, items []Item, subtotal decimal.Decimal) (*Discount, error) {
	c, err := find(ctx, repo, code)
	if err != nil {
		return nil, err
	}
	d, err := e.evaluate(c, items, subtotal)
	if err != nil {
		return nil, err
	}

	ok, err := repo.Redeem(ctx, c.Code)
	if err != nil {
		return nil, errors.Wrap(err, "redeem coupon")
	}
	if !ok {
		return nil, ErrLimitReached
	}
	return d, nil
}

func (e *Engine) evaluate(c *Coupon, items []Item, subtotal decimal.Decimal) (*Discount, error) {
	if !c.IsActive {
		return nil, ErrNotFound
	}

	now := e.now()
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return nil, ErrExpired
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return nil, ErrExpired
	}

	if c.MaxUses > 0 && c.UsedCount >= c.MaxUses {
		return nil, ErrLimitReached
	}

	if c.MinOrder.IsPositive() && subtotal.LessThan(c.MinOrder) {
		return nil, ErrMinOrderNotMet
	}

	if !Applicable(c, items) {
		return nil, ErrNotApplicable
	}

	d, err := Apply(c, subtotal)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func find(ctx context.Context, f Finder, code string) (*Coupon, error) {
	c, err := f.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}
	return c, nil
}
