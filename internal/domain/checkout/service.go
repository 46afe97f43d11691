package checkout

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/notification"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/user"
)

// Service encapsulates checkout business logic.
type Service struct {
	store    Store
	carts    CartLocker
	users    user.Repository
	coupons  *coupon.Engine
	notifier notification.Notifier
	pricing  Pricing

	checkouts   metric.Int64Counter
	redemptions metric.Int64Counter

	now   func() time.Time
	newID func() string
}

// NewService creates a checkout Service with the required dependencies.
func NewService(
	store Store,
	carts CartLocker,
	users user.Repository,
	coupons *coupon.Engine,
	notifier notification.Notifier,
	pricing Pricing,
	meter metric.Meter,
) (*Service, error) {
	checkouts, err := meter.Int64Counter("storefront.checkouts",
		metric.WithDescription("Checkout attempts by result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create checkouts counter")
	}
	redemptions, err := meter.Int64Counter("storefront.coupon.redemptions",
		metric.WithDescription("Coupon redemption attempts by result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create redemptions counter")
	}

	return &Service{
		store:       store,
		carts:       carts,
		users:       users,
		coupons:     coupons,
		notifier:    notifier,
		pricing:     pricing,
		checkouts:   checkouts,
		redemptions: redemptions,
		now:         time.Now,
		newID:       uuid.NewString,
	}, nil
}

// Checkout converts the user's cart into a pending order. Either the
// order is stored, stock is decremented, the coupon is consumed and the
// cart is cleared, or nothing changes.
func (s *Service) Checkout(ctx context.Context, req Request) (*order.Order, error) {
	o, err := s.checkout(ctx, req)
	s.checkouts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", resultOf(err))))
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.Stringer("total", o.Total),
	)
	s.notifier.Notify(ctx, notification.Notification{
		UserID:  o.UserID,
		Title:   "Order confirmed",
		Message: fmt.Sprintf("Your order %s totalling %s has been received.", o.ID, o.Total.StringFixed(2)),
		Kind:    notification.KindOrderCreated,
	})
	return o, nil
}

func (s *Service) checkout(ctx context.Context, req Request) (*order.Order, error) {
	if req.ShippingAddress.IsZero() {
		return nil, ErrMissingAddress
	}
	if req.PaymentMethod == "" {
		return nil, ErrMissingPaymentMethod
	}
	if req.BillingAddress.IsZero() {
		req.BillingAddress = req.ShippingAddress
	}
	if _, err := s.users.GetByID(ctx, req.UserID); err != nil {
		return nil, err
	}

	release := s.carts.Lock(ctx, req.UserID)
	defer release()

	var placed *order.Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := s.place(ctx, tx, req)
		if err != nil {
			return err
		}
		placed = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return placed, nil
}

func (s *Service) place(ctx context.Context, tx Tx, req Request) (*order.Order, error) {
	lines, err := tx.CartLines(ctx, req.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "read cart")
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	// Locking in id order keeps concurrent checkouts from deadlocking.
	slices.Sort(ids)
	locked, err := tx.LockProducts(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "lock products")
	}
	byID := make(map[string]product.Product, len(locked))
	for _, p := range locked {
		byID[p.ID] = p
	}

	items := make([]order.Item, 0, len(lines))
	couponItems := make([]coupon.Item, 0, len(lines))
	subtotal := decimal.Zero
	for _, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok {
			return nil, &UnavailableError{ProductID: l.ProductID, Requested: l.Quantity}
		}
		if p.StockQuantity < l.Quantity {
			return nil, &UnavailableError{ProductID: p.ID, Requested: l.Quantity, Available: p.StockQuantity}
		}

		item := order.Item{
			ProductID:   p.ID,
			ProductName: p.Name,
			Price:       p.UnitPrice(),
			Quantity:    l.Quantity,
			Image:       p.Image,
		}
		items = append(items, item)
		couponItems = append(couponItems, coupon.Item{
			ProductID: p.ID,
			Category:  p.Category,
			Price:     item.Price,
			Quantity:  item.Quantity,
		})
		subtotal = subtotal.Add(item.LineTotal())
	}

	discount, err := s.redeem(ctx, tx, req.DiscountCode, couponItems, subtotal)
	if err != nil {
		return nil, err
	}

	shipping := s.pricing.Fee(subtotal, discount.ZeroShipping)
	total := subtotal.Sub(discount.Amount).Add(shipping).Round(2)

	for _, it := range items {
		ok, err := tx.DecrementStock(ctx, it.ProductID, it.Quantity)
		if err != nil {
			return nil, errors.Wrapf(err, "decrement stock of %s", it.ProductID)
		}
		if !ok {
			return nil, &UnavailableError{ProductID: it.ProductID, Requested: it.Quantity}
		}
	}

	now := s.now().UTC()
	o := &order.Order{
		ID:              s.newID(),
		UserID:          req.UserID,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		PaymentMethod:   req.PaymentMethod,
		CouponCode:      discount.Code,
		Subtotal:        subtotal.Round(2),
		ShippingFee:     shipping,
		Discount:        discount.Amount,
		Total:           total,
		Status:          order.StatusPending,
		OrderDate:       now,
		StatusHistory: []order.StatusChange{
			{Status: order.StatusPending, ChangedAt: now},
		},
	}
	if err := tx.CreateOrder(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	if err := tx.ClearCart(ctx, req.UserID); err != nil {
		return nil, errors.Wrap(err, "clear cart")
	}
	return o, nil
}

// redeem applies code inside the checkout transaction. A coupon the engine
// rejects degrades to no discount; storage failures abort the checkout.
func (s *Service) redeem(ctx context.Context, tx Tx, code string, items []coupon.Item, subtotal decimal.Decimal) (coupon.Discount, error) {
	none := coupon.Discount{Amount: decimal.Zero}
	if code == "" {
		return none, nil
	}

	d, err := s.coupons.Redeem(ctx, tx, code, items, subtotal)
	if err != nil {
		if domain.KindOf(err) == domain.KindInternal {
			return none, err
		}
		s.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "rejected")))
		zctx.From(ctx).Warn("Coupon not applied",
			zap.String("code", code),
			zap.Error(err),
		)
		return none, nil
	}

	s.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "applied")))
	return *d, nil
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrProductUnavailable):
		return "unavailable"
	case domain.KindOf(err) == domain.KindInternal:
		return "error"
	default:
		return "rejected"
	}
}
