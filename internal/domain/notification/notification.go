package notification

import "context"

// Kind tags a notification so delivery channels can route or template it.
type Kind string

const (
	KindOrderCreated  Kind = "order_created"
	KindStatusChanged Kind = "order_status"
)

// Notification is a message addressed to one user.
type Notification struct {
	UserID  string
	Title   string
	Message string
	Kind    Kind
}

// Notifier delivers notifications on a best-effort basis. Implementations
// must not block the caller on delivery and never report delivery failures
// back to it; the order core calls Notify only after its transaction has
// committed.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Discard is a Notifier that drops everything.
type Discard struct{}

// Notify implements Notifier.
func (Discard) Notify(context.Context, Notification) {}
