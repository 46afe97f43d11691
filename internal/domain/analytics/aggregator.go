package analytics

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/user"
)

// Aggregator computes and stores daily snapshots.
type Aggregator struct {
	orders    OrderReader
	users     user.Repository
	products  product.Repository
	snapshots Repository
	runs      metric.Int64Counter
	now       func() time.Time
}

// NewAggregator creates an Aggregator.
func NewAggregator(
	orders OrderReader,
	users user.Repository,
	products product.Repository,
	snapshots Repository,
	meter metric.Meter,
) (*Aggregator, error) {
	runs, err := meter.Int64Counter("storefront.analytics.runs",
		metric.WithDescription("Daily analytics aggregations"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create runs counter")
	}
	return &Aggregator{
		orders:    orders,
		users:     users,
		products:  products,
		snapshots: snapshots,
		runs:      runs,
		now:       time.Now,
	}, nil
}

// RunForDate aggregates the UTC day containing day and stores the result,
// replacing an earlier snapshot of the same day. Running it repeatedly
// yields the same snapshot as long as the underlying orders are unchanged.
func (a *Aggregator) RunForDate(ctx context.Context, day time.Time) (*Snapshot, error) {
	from := Day(day)
	to := from.AddDate(0, 0, 1)

	orders, err := a.orders.OrdersPlacedBetween(ctx, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "read orders")
	}
	newUsers, err := a.users.CountJoinedBetween(ctx, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "count new users")
	}

	s := &Snapshot{
		Date:         from,
		TotalRevenue: decimal.Zero,
		NewUsers:     newUsers,
		GeneratedAt:  a.now().UTC(),
	}

	quantities := make(map[string]int)
	revenueByProduct := make(map[string]decimal.Decimal)
	for _, o := range orders {
		if o.Status == order.StatusCancelled {
			continue
		}
		s.TotalOrders++
		s.TotalRevenue = s.TotalRevenue.Add(o.Total)
		for _, it := range o.Items {
			quantities[it.ProductID] += it.Quantity
			revenueByProduct[it.ProductID] = revenueByProduct[it.ProductID].Add(it.LineTotal())
		}
	}

	s.PopularProducts = topProducts(quantities, popularLimit)
	s.Categories, err = a.categories(ctx, revenueByProduct)
	if err != nil {
		return nil, err
	}

	if err := a.snapshots.Upsert(ctx, s); err != nil {
		return nil, errors.Wrap(err, "store snapshot")
	}
	a.runs.Add(ctx, 1)

	zctx.From(ctx).Info("Analytics snapshot stored",
		zap.Time("date", from),
		zap.Int("orders", s.TotalOrders),
		zap.Stringer("revenue", s.TotalRevenue),
	)
	return s, nil
}

// Report returns the stored snapshots for the period ending today.
func (a *Aggregator) Report(ctx context.Context, p Period) ([]Snapshot, error) {
	days, err := p.Days()
	if err != nil {
		return nil, err
	}
	to := Day(a.now()).AddDate(0, 0, 1)
	from := to.AddDate(0, 0, -days)
	return a.snapshots.ListRange(ctx, from, to)
}

// categories groups product revenue by each product's current category.
func (a *Aggregator) categories(ctx context.Context, revenue map[string]decimal.Decimal) ([]CategorySales, error) {
	if len(revenue) == 0 {
		return []CategorySales{}, nil
	}

	ids := make([]string, 0, len(revenue))
	for id := range revenue {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	products, err := a.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "resolve categories")
	}
	category := make(map[string]string, len(products))
	for _, p := range products {
		category[p.ID] = p.Category
	}

	sums := make(map[string]decimal.Decimal)
	for _, id := range ids {
		name := category[id]
		if name == "" {
			name = Uncategorized
		}
		sums[name] = sums[name].Add(revenue[id])
	}

	out := make([]CategorySales, 0, len(sums))
	for name, sales := range sums {
		out = append(out, CategorySales{Name: name, Sales: sales.Round(2)})
	}
	slices.SortFunc(out, func(a, b CategorySales) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out, nil
}

// topProducts ranks products by quantity descending, breaking ties by id.
func topProducts(quantities map[string]int, limit int) []ProductSales {
	out := make([]ProductSales, 0, len(quantities))
	for id, q := range quantities {
		out = append(out, ProductSales{ProductID: id, Sales: q})
	}
	slices.SortFunc(out, func(a, b ProductSales) int {
		if c := cmp.Compare(b.Sales, a.Sales); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
