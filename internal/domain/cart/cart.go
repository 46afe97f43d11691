package cart

import (
	"context"
	"math"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain"
)

var (
	// ErrLineNotFound is returned by Update when the user has no line for the product.
	ErrLineNotFound = domain.NewError(domain.KindNotFound, "cart line not found")
	// ErrInvalidQuantity is returned for quantities below one. Lines are
	// removed with Remove, never zeroed.
	ErrInvalidQuantity = domain.NewError(domain.KindInvalidArgument, "quantity must be at least 1")
	// ErrQuantityLimit is returned when a line would hold more than MaxQuantity units.
	ErrQuantityLimit = domain.NewError(domain.KindInvalidArgument, "quantity exceeds the per-line limit")
	// ErrCacheMiss is returned by Cache.Get when nothing is cached for the user.
	ErrCacheMiss = errors.New("cart cache miss")
)

// MaxQuantity bounds the quantity of a single line. It fits the INTEGER
// quantity column.
const MaxQuantity = math.MaxInt32

// Line is one product/quantity pair pending purchase. Quantity is always in
// [1, MaxQuantity].
type Line struct {
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
}

// Repository persists cart lines. Every method is scoped to a single user and
// must be atomic on its own; the Store adds per-user serialization on top.
type Repository interface {
	Lines(ctx context.Context, userID string) ([]Line, error)
	// AddQuantity increments the line for line.ProductID by line.Quantity,
	// inserting it with line.AddedAt when absent. It fails with
	// ErrQuantityLimit, leaving the line untouched, when the sum would exceed
	// MaxQuantity.
	AddQuantity(ctx context.Context, userID string, line Line) error
	// SetQuantity overwrites the quantity of an existing line and reports
	// whether such a line existed.
	SetQuantity(ctx context.Context, userID, productID string, qty int) (bool, error)
	RemoveLine(ctx context.Context, userID, productID string) error
	ClearLines(ctx context.Context, userID string) error
}

// Cache is a read-through cache of cart snapshots shared by every replica.
//
// Fills are versioned: Delete advances the user's version, and Set only
// stores lines when the version it is given is still current. A reader that
// loaded the repository before another replica invalidated the cart can
// therefore never write its stale snapshot back.
type Cache interface {
	Get(ctx context.Context, userID string) ([]Line, error)
	// Version returns the user's current invalidation version.
	Version(ctx context.Context, userID string) (int64, error)
	// Set stores lines unless Delete ran after version was read.
	Set(ctx context.Context, userID string, version int64, lines []Line) error
	Delete(ctx context.Context, userID string) error
}

// NopCache never caches anything.
type NopCache struct{}

func (NopCache) Get(context.Context, string) ([]Line, error)      { return nil, ErrCacheMiss }
func (NopCache) Version(context.Context, string) (int64, error)   { return 0, nil }
func (NopCache) Set(context.Context, string, int64, []Line) error { return nil }
func (NopCache) Delete(context.Context, string) error             { return nil }
