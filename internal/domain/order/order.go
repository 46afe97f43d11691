package order

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusReturned   Status = "returned"
)

// transitions lists the allowed targets for each status. Statuses absent
// from the map are terminal.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
	StatusDelivered:  {StatusReturned},
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled, StatusReturned:
		return true
	}
	return false
}

// CanTransition reports whether an order in status s may move to target.
func (s Status) CanTransition(target Status) bool {
	return slices.Contains(transitions[s], target)
}

// Terminal reports whether s has no outgoing transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

var (
	// ErrNotFound is returned when an order does not exist or is not visible
	// to the requesting user.
	ErrNotFound = domain.NewError(domain.KindNotFound, "order not found")
	// ErrInvalidStatus is returned for a status name outside the lifecycle.
	ErrInvalidStatus = domain.NewError(domain.KindInvalidArgument, "invalid order status")
	// ErrInvalidTransition is returned when the target status is not reachable
	// from the current one.
	ErrInvalidTransition = domain.NewError(domain.KindConflict, "invalid status transition")
	// ErrNotCancellable is returned when a user cancels an order that has
	// left the pending state.
	ErrNotCancellable = domain.NewError(domain.KindConflict, "order can only be cancelled while pending")
	// ErrConcurrentUpdate is returned when another transition was stored
	// between reading the order and writing the new status.
	ErrConcurrentUpdate = domain.NewError(domain.KindConflict, "order was modified concurrently")
)

// Address is a postal address captured on the order.
type Address struct {
	Name       string `json:"name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// IsZero reports whether no field of the address is set.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Item is a frozen copy of a product line taken at checkout.
type Item struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Image       string          `json:"image"`
}

// LineTotal returns price * quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// StatusChange is one entry of the append-only status history.
type StatusChange struct {
	Status    Status    `json:"status"`
	ChangedAt time.Time `json:"changed_at"`
	Note      string    `json:"note,omitempty"`
}

// Order is a persisted purchase. Everything except the status fields is
// immutable after creation.
type Order struct {
	ID              string
	UserID          string
	Items           []Item
	ShippingAddress Address
	BillingAddress  Address
	PaymentMethod   string
	CouponCode      string
	Subtotal        decimal.Decimal
	ShippingFee     decimal.Decimal
	Discount        decimal.Decimal
	Total           decimal.Decimal
	Status          Status
	TrackingNumber  string
	Carrier         string
	OrderDate       time.Time
	StatusHistory   []StatusChange
}

// Repository defines persistence operations for existing orders. Orders
// are created by the checkout transaction.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	// UpdateStatus stores o's status, tracking fields and history only if
	// the stored status still equals from. It reports whether it did.
	UpdateStatus(ctx context.Context, o *Order, from Status) (bool, error)
}
