package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/user"
)

const (
	getUserByIDSQL = `SELECT id, name, email, joined_at FROM users WHERE id = $1`

	countUsersJoinedSQL = `SELECT count(*) FROM users WHERE joined_at >= $1 AND joined_at < $2`

	upsertUserSQL = `INSERT INTO users (id, name, email, joined_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email`
)

var _ user.Repository = (*UserRepository)(nil)

// UserRepository implements user.Repository backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetByID returns a single user by id.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*user.User, error) {
	var u user.User
	err := r.pool.QueryRow(ctx, getUserByIDSQL, id).Scan(&u.ID, &u.Name, &u.Email, &u.JoinedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("getting user %q: %w", id, err)
	}
	u.JoinedAt = u.JoinedAt.UTC()
	return &u, nil
}

// CountJoinedBetween counts users whose join date falls in [from, to).
func (r *UserRepository) CountJoinedBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countUsersJoinedSQL, from, to).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting new users: %w", err)
	}
	return n, nil
}

// Upsert inserts a user or updates its profile. Used by the seeding tool.
func (r *UserRepository) Upsert(ctx context.Context, u user.User) error {
	if _, err := r.pool.Exec(ctx, upsertUserSQL, u.ID, u.Name, u.Email, u.JoinedAt); err != nil {
		return fmt.Errorf("upserting user %q: %w", u.ID, err)
	}
	return nil
}
