package memory

import (
	"context"
	"time"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/user"
)

var (
	_ product.Repository = (*ProductRepository)(nil)
	_ user.Repository    = (*UserRepository)(nil)
	_ auth.Repository    = (*APIKeyRepository)(nil)
)

// ProductRepository implements product.Repository.
type ProductRepository struct {
	db *DB
}

func (r *ProductRepository) GetByID(_ context.Context, id string) (*product.Product, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (r *ProductRepository) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.productsByIDs(ids), nil
}

func (db *DB) productsByIDs(ids []string) []product.Product {
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := db.products[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// UserRepository implements user.Repository.
type UserRepository struct {
	db *DB
}

func (r *UserRepository) GetByID(_ context.Context, id string) (*user.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return &u, nil
}

func (r *UserRepository) CountJoinedBetween(_ context.Context, from, to time.Time) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for _, u := range r.db.users {
		if !u.JoinedAt.Before(from) && u.JoinedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

// APIKeyRepository implements auth.Repository.
type APIKeyRepository struct {
	db *DB
}

func (r *APIKeyRepository) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	info, ok := r.db.apiKeys[hash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &info, nil
}
