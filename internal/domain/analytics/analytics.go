// Package analytics rolls completed orders up into one immutable snapshot
// per UTC calendar day.
package analytics

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain"
	"github.com/xenking/storefront/internal/domain/order"
)

// Uncategorized labels sales of products without a resolvable category.
const Uncategorized = "uncategorized"

// popularLimit is how many products a snapshot ranks.
const popularLimit = 5

var (
	// ErrNotFound is returned when no snapshot exists for a day.
	ErrNotFound = domain.NewError(domain.KindNotFound, "analytics snapshot not found")
	// ErrInvalidPeriod is returned for a reporting period other than week or month.
	ErrInvalidPeriod = domain.NewError(domain.KindInvalidArgument, "period must be week or month")
)

// ProductSales is the quantity sold of one product.
type ProductSales struct {
	ProductID string `json:"product_id"`
	Sales     int    `json:"sales"`
}

// CategorySales is the revenue of one product category.
type CategorySales struct {
	Name  string          `json:"name"`
	Sales decimal.Decimal `json:"sales"`
}

// Snapshot is one day's aggregated metrics.
type Snapshot struct {
	// Date is midnight UTC of the aggregated day.
	Date            time.Time
	TotalOrders     int
	TotalRevenue    decimal.Decimal
	NewUsers        int
	PopularProducts []ProductSales
	Categories      []CategorySales
	// GeneratedAt records when the snapshot was last written. It is run
	// metadata: reruns for the same day change only this field.
	GeneratedAt     time.Time
}

// Period is a reporting window ending today.
type Period string

const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Days returns the number of days covered by p.
func (p Period) Days() (int, error) {
	switch p {
	case PeriodWeek:
		return 7, nil
	case PeriodMonth:
		return 30, nil
	}
	return 0, ErrInvalidPeriod
}

// OrderReader is the read view of orders the aggregator consumes.
type OrderReader interface {
	// OrdersPlacedBetween returns orders with an order date in [from, to).
	OrdersPlacedBetween(ctx context.Context, from, to time.Time) ([]order.Order, error)
}

// Repository stores snapshots keyed by day.
type Repository interface {
	// Upsert stores s, replacing any snapshot with the same date.
	Upsert(ctx context.Context, s *Snapshot) error
	Get(ctx context.Context, day time.Time) (*Snapshot, error)
	// ListRange returns snapshots with dates in [from, to), oldest first.
	ListRange(ctx context.Context, from, to time.Time) ([]Snapshot, error)
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
