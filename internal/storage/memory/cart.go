package memory

import (
	"context"
	"slices"

	"github.com/xenking/storefront/internal/domain/cart"
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository. Line slices are replaced, never
// modified in place, so transaction undo entries stay valid.
type CartRepository struct {
	db *DB
}

func (r *CartRepository) Lines(_ context.Context, userID string) ([]cart.Line, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return slices.Clone(r.db.carts[userID]), nil
}

func (r *CartRepository) AddQuantity(_ context.Context, userID string, line cart.Line) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	lines := slices.Clone(r.db.carts[userID])
	i := slices.IndexFunc(lines, func(l cart.Line) bool { return l.ProductID == line.ProductID })
	if i >= 0 {
		if lines[i].Quantity > cart.MaxQuantity-line.Quantity {
			return cart.ErrQuantityLimit
		}
		lines[i].Quantity += line.Quantity
	} else {
		lines = append(lines, line)
	}
	r.db.carts[userID] = lines
	return nil
}

func (r *CartRepository) SetQuantity(_ context.Context, userID, productID string, qty int) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	lines := slices.Clone(r.db.carts[userID])
	i := slices.IndexFunc(lines, func(l cart.Line) bool { return l.ProductID == productID })
	if i < 0 {
		return false, nil
	}
	lines[i].Quantity = qty
	r.db.carts[userID] = lines
	return true, nil
}

func (r *CartRepository) RemoveLine(_ context.Context, userID, productID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	lines := slices.DeleteFunc(slices.Clone(r.db.carts[userID]), func(l cart.Line) bool {
		return l.ProductID == productID
	})
	if len(lines) == 0 {
		delete(r.db.carts, userID)
		return nil
	}
	r.db.carts[userID] = lines
	return nil
}

func (r *CartRepository) ClearLines(_ context.Context, userID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.carts, userID)
	return nil
}
