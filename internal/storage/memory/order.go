package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/xenking/storefront/internal/domain/analytics"
	"github.com/xenking/storefront/internal/domain/order"
)

var (
	_ order.Repository      = (*OrderRepository)(nil)
	_ analytics.OrderReader = (*OrderRepository)(nil)
)

// OrderRepository implements order.Repository and analytics.OrderReader.
type OrderRepository struct {
	db *DB
}

func (r *OrderRepository) GetByID(_ context.Context, id string) (*order.Order, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	o, ok := r.db.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	o = copyOrder(o)
	return &o, nil
}

func (r *OrderRepository) ListByUser(_ context.Context, userID string) ([]order.Order, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []order.Order
	for _, o := range r.db.orders {
		if o.UserID == userID {
			out = append(out, copyOrder(o))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *OrderRepository) UpdateStatus(_ context.Context, o *order.Order, from order.Status) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	stored, ok := r.db.orders[o.ID]
	if !ok || stored.Status != from {
		return false, nil
	}
	stored.Status = o.Status
	stored.TrackingNumber = o.TrackingNumber
	stored.Carrier = o.Carrier
	stored.StatusHistory = slices.Clone(o.StatusHistory)
	r.db.orders[o.ID] = stored
	return true, nil
}

func (r *OrderRepository) OrdersPlacedBetween(_ context.Context, from, to time.Time) ([]order.Order, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []order.Order
	for _, o := range r.db.orders {
		if !o.OrderDate.Before(from) && o.OrderDate.Before(to) {
			out = append(out, copyOrder(o))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(orders []order.Order) {
	slices.SortFunc(orders, func(a, b order.Order) int {
		if c := b.OrderDate.Compare(a.OrderDate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
