package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// UserRepository tracks user ids issued by the identity provider.
type UserRepository interface {
	EnsureUser(ctx context.Context, userID int) error
	UsersExist(ctx context.Context, userIDs ...int) (bool, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// EnsureUser records the user id the first time it is seen.
func (r *UserRepo) EnsureUser(ctx context.Context, userID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, userID)
	return err
}

// UsersExist reports whether every id is known.
func (r *UserRepo) UsersExist(ctx context.Context, userIDs ...int) (bool, error) {
	ids := make([]int64, 0, len(userIDs))
	seen := make(map[int]bool, len(userIDs))
	for _, id := range userIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, int64(id))
		}
	}
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM users WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return false, err
	}
	return count == len(ids), nil
}
