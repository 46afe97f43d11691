package memory

import (
	"context"

	"github.com/xenking/storefront/internal/domain/coupon"
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository outside a checkout.
type CouponRepository struct {
	db *DB
}

func (r *CouponRepository) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.findCoupon(code)
}

func (r *CouponRepository) Redeem(_ context.Context, code string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.redeemCoupon(code), nil
}

func (db *DB) findCoupon(code string) (*coupon.Coupon, error) {
	c, ok := db.coupons[couponKey(code)]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return &c, nil
}

// redeemCoupon is the compare-and-increment on the usage counter.
func (db *DB) redeemCoupon(code string) bool {
	key := couponKey(code)
	c, ok := db.coupons[key]
	if !ok || !c.IsActive || (c.MaxUses > 0 && c.UsedCount >= c.MaxUses) {
		return false
	}
	c.UsedCount++
	db.coupons[key] = c
	return true
}
