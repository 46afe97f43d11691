//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/storefront/internal/domain"
	"github.com/xenking/storefront/internal/domain/analytics"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/notification"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/internal/storage/redis"
)

type services struct {
	carts     *cart.Store
	coupons   *coupon.Engine
	checkout  *checkout.Service
	orders    *order.Service
	analytics *analytics.Aggregator
}

func newServices(t *testing.T) services {
	t.Helper()
	meter := noop.NewMeterProvider().Meter("test")

	products := postgres.NewProductRepository(pool)
	users := postgres.NewUserRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)

	carts := cart.NewStore(postgres.NewCartRepository(pool), products, users, redis.NewCartCache(rdb, time.Minute))
	engine := coupon.NewEngine(postgres.NewCouponRepository(pool))
	checkoutSvc, err := checkout.NewService(
		postgres.NewCheckoutStore(pool), carts, users, engine, notification.Discard{}, checkout.DefaultPricing(), meter,
	)
	require.NoError(t, err)
	orders, err := order.NewService(orderRepo, notification.Discard{}, "ACME Freight", meter)
	require.NoError(t, err)
	agg, err := analytics.NewAggregator(orderRepo, users, products, postgres.NewSnapshotRepository(pool), meter)
	require.NoError(t, err)

	return services{carts: carts, coupons: engine, checkout: checkoutSvc, orders: orders, analytics: agg}
}

func checkoutRequest(userID, code string) checkout.Request {
	return checkout.Request{
		UserID:          userID,
		ShippingAddress: order.Address{Name: "Ada", Street: "1 Loop Rd", City: "London", PostalCode: "N1", Country: "GB"},
		PaymentMethod:   "card",
		DiscountCode:    code,
	}
}

func TestCheckout_PlacesOrder(t *testing.T) {
	reset(t)
	ctx := context.Background()
	svc := newServices(t)
	seedUser(t, "u1", time.Now())
	seedProduct(t, "p1", "10.00", 5, "books")
	seedProduct(t, "p2", "15.00", 5, "toys")
	seedCoupon(t, coupon.Coupon{Code: "BOOKS20", Type: coupon.TypePercentage, Value: decimal.NewFromInt(20), ApplicableCategories: []string{"books"}})

	_, err := svc.carts.Add(ctx, "u1", "p1", 2)
	require.NoError(t, err)
	_, err = svc.carts.Add(ctx, "u1", "p2", 1)
	require.NoError(t, err)

	o, err := svc.checkout.Checkout(ctx, checkoutRequest("u1", "books20"))
	require.NoError(t, err)
	assert.True(t, o.Subtotal.Equal(decimal.NewFromInt(35)))
	assert.True(t, o.Discount.Equal(decimal.NewFromInt(7)))
	assert.True(t, o.ShippingFee.Equal(decimal.RequireFromString("5.99")))
	assert.True(t, o.Total.Equal(decimal.RequireFromString("33.99")))
	assert.Equal(t, order.StatusPending, o.Status)

	stored, err := postgres.NewOrderRepository(pool).GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 2)
	assert.Equal(t, o.ShippingAddress, stored.BillingAddress)

	p, err := postgres.NewProductRepository(pool).GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.StockQuantity)

	lines, err := svc.carts.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, lines, "cart must be cleared, cache included")

	c, err := postgres.NewCouponRepository(pool).FindByCode(ctx, "BOOKS20")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsedCount)
}

func TestCheckout_FailureLeavesNothingBehind(t *testing.T) {
	reset(t)
	ctx := context.Background()
	svc := newServices(t)
	seedUser(t, "u1", time.Now())
	seedProduct(t, "p1", "10.00", 5, "books")
	seedProduct(t, "p2", "15.00", 1, "toys")
	seedCoupon(t, coupon.Coupon{Code: "SAVE5", Type: coupon.TypeFixed, Value: decimal.NewFromInt(5)})

	_, err := svc.carts.Add(ctx, "u1", "p1", 2)
	require.NoError(t, err)
	_, err = svc.carts.Add(ctx, "u1", "p2", 1)
	require.NoError(t, err)

	// Stock drops behind the cart's back.
	_, err = pool.Exec(ctx, `UPDATE products SET stock_quantity = 0 WHERE id = 'p2'`)
	require.NoError(t, err)

	_, err = svc.checkout.Checkout(ctx, checkoutRequest("u1", "SAVE5"))
	require.ErrorIs(t, err, checkout.ErrProductUnavailable)

	var orders int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM orders`).Scan(&orders))
	assert.Zero(t, orders)

	p, err := postgres.NewProductRepository(pool).GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.StockQuantity)

	c, err := postgres.NewCouponRepository(pool).FindByCode(ctx, "SAVE5")
	require.NoError(t, err)
	assert.Zero(t, c.UsedCount)

	lines, err := svc.carts.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}

func TestCheckout_LastUnitRace(t *testing.T) {
	reset(t)
	ctx := context.Background()
	svc := newServices(t)
	seedProduct(t, "p1", "42.00", 1, "books")

	const buyers = 8
	for i := range buyers {
		id := userID(i)
		seedUser(t, id, time.Now())
		_, err := svc.carts.Add(ctx, id, "p1", 1)
		require.NoError(t, err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		sold      int
	)
	for i := range buyers {
		wg.Go(func() {
			_, err := svc.checkout.Checkout(ctx, checkoutRequest(userID(i), ""))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case domain.IsKind(err, domain.KindConflict):
				sold++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, buyers-1, sold)

	p, err := postgres.NewProductRepository(pool).GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, p.StockQuantity)
}

func TestCheckout_CouponCapUnderContention(t *testing.T) {
	reset(t)
	ctx := context.Background()
	svc := newServices(t)
	seedProduct(t, "p1", "60.00", 100, "books")
	seedCoupon(t, coupon.Coupon{Code: "ONCE", Type: coupon.TypeFixed, Value: decimal.NewFromInt(10), MaxUses: 1})

	const buyers = 6
	for i := range buyers {
		id := userID(i)
		seedUser(t, id, time.Now())
		_, err := svc.carts.Add(ctx, id, "p1", 1)
		require.NoError(t, err)
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		discounted int
		full       int
	)
	for i := range buyers {
		wg.Go(func() {
			o, err := svc.checkout.Checkout(ctx, checkoutRequest(userID(i), "ONCE"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if o.Discount.IsPositive() {
				discounted++
				assert.Equal(t, "ONCE", o.CouponCode)
			} else {
				full++
				assert.Empty(t, o.CouponCode)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, 1, discounted)
	assert.Equal(t, buyers-1, full)

	c, err := postgres.NewCouponRepository(pool).FindByCode(ctx, "ONCE")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsedCount)
}

func TestOrder_ConcurrentTransitions(t *testing.T) {
	reset(t)
	ctx := context.Background()
	svc := newServices(t)
	seedUser(t, "u1", time.Now())
	seedProduct(t, "p1", "10.00", 10, "books")

	_, err := svc.carts.Add(ctx, "u1", "p1", 1)
	require.NoError(t, err)
	o, err := svc.checkout.Checkout(ctx, checkoutRequest("u1", ""))
	require.NoError(t, err)

	var (
		wg               sync.WaitGroup
		advErr, cancelEr error
	)
	wg.Go(func() { _, advErr = svc.orders.Advance(ctx, o.ID, order.StatusProcessing, "picked") })
	wg.Go(func() { _, cancelEr = svc.orders.Cancel(ctx, "u1", o.ID) })
	wg.Wait()

	// Exactly one of the two writers wins.
	require.True(t, (advErr == nil) != (cancelEr == nil), "advance=%v cancel=%v", advErr, cancelEr)
	lost := advErr
	if lost == nil {
		lost = cancelEr
	}
	assert.True(t, domain.IsKind(lost, domain.KindConflict), "loser error: %v", lost)

	stored, err := svc.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, stored.StatusHistory, 2)
}

func TestAnalytics_RunForDate(t *testing.T) {
	reset(t)
	ctx := context.Background()
	svc := newServices(t)
	seedUser(t, "u1", time.Now())
	seedUser(t, "u2", time.Now())
	seedProduct(t, "p1", "30.00", 10, "books")
	seedProduct(t, "p2", "12.00", 10, "toys")

	_, err := svc.carts.Add(ctx, "u1", "p1", 2)
	require.NoError(t, err)
	first, err := svc.checkout.Checkout(ctx, checkoutRequest("u1", ""))
	require.NoError(t, err)

	_, err = svc.carts.Add(ctx, "u2", "p2", 1)
	require.NoError(t, err)
	second, err := svc.checkout.Checkout(ctx, checkoutRequest("u2", ""))
	require.NoError(t, err)
	_, err = svc.orders.Cancel(ctx, "u2", second.ID)
	require.NoError(t, err)

	s, err := svc.analytics.RunForDate(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, s.TotalOrders)
	assert.True(t, s.TotalRevenue.Equal(first.Total))
	assert.Equal(t, 2, s.NewUsers)
	require.Len(t, s.PopularProducts, 1)
	assert.Equal(t, analytics.ProductSales{ProductID: "p1", Sales: 2}, s.PopularProducts[0])

	again, err := svc.analytics.RunForDate(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, s.TotalOrders, again.TotalOrders)
	assert.True(t, s.TotalRevenue.Equal(again.TotalRevenue))

	report, err := svc.analytics.Report(ctx, analytics.PeriodWeek)
	require.NoError(t, err)
	assert.Len(t, report, 1)
}

func userID(i int) string {
	return "buyer-" + string(rune('a'+i))
}
