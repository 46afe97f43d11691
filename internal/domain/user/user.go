package user

import (
	"context"
	"time"

	"github.com/xenking/storefront/internal/domain"
)

// ErrNotFound is returned when a user id does not resolve to a registered user.
var ErrNotFound = domain.NewError(domain.KindNotFound, "user not found")

// User is the slice of the account aggregate the order core needs.
// Registration and sessions are handled elsewhere.
type User struct {
	ID       string
	Name     string
	Email    string
	JoinedAt time.Time
}

// Repository provides user lookups.
type Repository interface {
	GetByID(ctx context.Context, id string) (*User, error)
	// CountJoinedBetween counts users whose join date falls in [from, to).
	CountJoinedBetween(ctx context.Context, from, to time.Time) (int, error)
}
