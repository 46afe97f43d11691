package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/user"
)

// Store owns every user's pending line items. Mutations for one user are
// serialized by an in-process lock; each repository call is atomic on its
// own so concurrent replicas never lose an increment either.
type Store struct {
	lines    Repository
	products product.Repository
	users    user.Repository
	cache    Cache
	locks    *userLocks
	sfg      singleflight.Group
	now      func() time.Time
}

// NewStore creates a cart Store. A nil cache disables caching.
func NewStore(lines Repository, products product.Repository, users user.Repository, cache Cache) *Store {
	if cache == nil {
		cache = NopCache{}
	}
	return &Store{
		lines:    lines,
		products: products,
		users:    users,
		cache:    cache,
		locks:    newUserLocks(),
		now:      time.Now,
	}
}

// Get returns the user's current cart snapshot.
func (s *Store) Get(ctx context.Context, userID string) ([]Line, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	if lines, err := s.cache.Get(ctx, userID); err == nil {
		return lines, nil
	} else if !errors.Is(err, ErrCacheMiss) {
		zctx.From(ctx).Warn("Cart cache read failed", zap.String("user_id", userID), zap.Error(err))
	}

	// Concurrent misses for the same user share one repository read.
	v, err, _ := s.sfg.Do(userID, func() (any, error) {
		unlock := s.locks.lock(userID)
		defer unlock()

		// The version must be read before the repository: an invalidation
		// landing in between then turns the fill into a no-op.
		version, verErr := s.cache.Version(ctx, userID)
		lines, err := s.lines.Lines(ctx, userID)
		if err != nil {
			return nil, errors.Wrap(err, "load cart")
		}
		if verErr != nil {
			zctx.From(ctx).Warn("Cart cache version read failed", zap.String("user_id", userID), zap.Error(verErr))
			return lines, nil
		}
		if err := s.cache.Set(ctx, userID, version, lines); err != nil {
			zctx.From(ctx).Warn("Cart cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
		return lines, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Line), nil
}

// Add puts qty units of productID into the cart, incrementing an existing
// line. Stock is not checked here; checkout does that authoritatively.
func (s *Store) Add(ctx context.Context, userID, productID string, qty int) ([]Line, error) {
	if err := checkQuantity(qty); err != nil {
		return nil, err
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	if _, err := s.products.GetByID(ctx, productID); err != nil {
		return nil, err
	}

	return s.mutate(ctx, userID, func() error {
		return s.lines.AddQuantity(ctx, userID, Line{
			ProductID: productID,
			Quantity:  qty,
			AddedAt:   s.now().UTC(),
		})
	})
}

// Update sets the quantity of an existing line.
func (s *Store) Update(ctx context.Context, userID, productID string, qty int) ([]Line, error) {
	if err := checkQuantity(qty); err != nil {
		return nil, err
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	return s.mutate(ctx, userID, func() error {
		found, err := s.lines.SetQuantity(ctx, userID, productID, qty)
		if err != nil {
			return err
		}
		if !found {
			return ErrLineNotFound
		}
		return nil
	})
}

// Remove deletes the line for productID. Removing an absent line succeeds.
func (s *Store) Remove(ctx context.Context, userID, productID string) ([]Line, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	return s.mutate(ctx, userID, func() error {
		return s.lines.RemoveLine(ctx, userID, productID)
	})
}

// Clear empties the cart.
func (s *Store) Clear(ctx context.Context, userID string) ([]Line, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	return s.mutate(ctx, userID, func() error {
		return s.lines.ClearLines(ctx, userID)
	})
}

// Lock serializes an external operation, such as checkout, with the cart
// mutations of userID. The returned function releases the lock and drops
// the cached snapshot.
func (s *Store) Lock(ctx context.Context, userID string) (release func()) {
	unlock := s.locks.lock(userID)
	return func() {
		s.invalidate(ctx, userID)
		unlock()
	}
}

func (s *Store) mutate(ctx context.Context, userID string, fn func() error) ([]Line, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	if err := fn(); err != nil {
		return nil, err
	}
	s.invalidate(ctx, userID)

	lines, err := s.lines.Lines(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	return lines, nil
}

func (s *Store) invalidate(ctx context.Context, userID string) {
	if err := s.cache.Delete(ctx, userID); err != nil {
		zctx.From(ctx).Warn("Cart cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func checkQuantity(qty int) error {
	switch {
	case qty < 1:
		return ErrInvalidQuantity
	case qty > MaxQuantity:
		return ErrQuantityLimit
	}
	return nil
}

func (s *Store) requireUser(ctx context.Context, userID string) error {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return err
	}
	return nil
}
