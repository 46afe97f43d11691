package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/notification"
)

// Service drives orders through their lifecycle.
type Service struct {
	orders      Repository
	notifier    notification.Notifier
	carrier     string
	transitions metric.Int64Counter

	now         func() time.Time
	newTracking func() string
}

// NewService creates an order Service. carrier is assigned to orders that
// ship without one.
func NewService(
	orders Repository,
	notifier notification.Notifier,
	carrier string,
	meter metric.Meter,
) (*Service, error) {
	transitions, err := meter.Int64Counter("storefront.order.transitions",
		metric.WithDescription("Order status transitions by target status"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create transitions counter")
	}
	return &Service{
		orders:      orders,
		notifier:    notifier,
		carrier:     carrier,
		transitions: transitions,
		now:         time.Now,
		newTracking: newTrackingNumber,
	}, nil
}

// Get returns any order by id.
func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	return s.orders.GetByID(ctx, orderID)
}

// GetForUser returns the order only if it belongs to userID.
func (s *Service) GetForUser(ctx context.Context, userID, orderID string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotFound
	}
	return o, nil
}

// ListForUser returns the user's orders, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Order, error) {
	return s.orders.ListByUser(ctx, userID)
}

// Advance moves an order to target following the transition table.
func (s *Service) Advance(ctx context.Context, orderID string, target Status, note string) (*Order, error) {
	if !target.Valid() {
		return nil, ErrInvalidStatus
	}

	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, o, target, note)
}

// Cancel is the shopper-facing cancellation. It is narrower than Advance:
// only the owner may cancel, and only while the order is pending.
func (s *Service) Cancel(ctx context.Context, userID, orderID string) (*Order, error) {
	o, err := s.GetForUser(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending {
		return nil, ErrNotCancellable
	}
	return s.transition(ctx, o, StatusCancelled, "cancelled by customer")
}

func (s *Service) transition(ctx context.Context, o *Order, target Status, note string) (*Order, error) {
	from := o.Status
	if !from.CanTransition(target) {
		return nil, errors.Wrapf(ErrInvalidTransition, "%s -> %s", from, target)
	}

	o.Status = target
	o.StatusHistory = append(o.StatusHistory, StatusChange{
		Status:    target,
		ChangedAt: s.now().UTC(),
		Note:      note,
	})
	if target == StatusShipped {
		if o.TrackingNumber == "" {
			o.TrackingNumber = s.newTracking()
		}
		if o.Carrier == "" {
			o.Carrier = s.carrier
		}
	}

	ok, err := s.orders.UpdateStatus(ctx, o, from)
	if err != nil {
		return nil, errors.Wrap(err, "update order status")
	}
	if !ok {
		return nil, ErrConcurrentUpdate
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(target))))
	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
	)
	s.notifier.Notify(ctx, statusNotification(o))

	return o, nil
}

func statusNotification(o *Order) notification.Notification {
	msg := fmt.Sprintf("Your order %s is now %s.", o.ID, o.Status)
	if o.Status == StatusShipped {
		msg = fmt.Sprintf("Your order %s has shipped with %s, tracking number %s.", o.ID, o.Carrier, o.TrackingNumber)
	}
	return notification.Notification{
		UserID:  o.UserID,
		Title:   "Order " + string(o.Status),
		Message: msg,
		Kind:    notification.KindStatusChanged,
	}
}

func newTrackingNumber() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "TRK" + strings.ToUpper(id[:16])
}
