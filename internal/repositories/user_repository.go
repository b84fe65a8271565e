package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"realtime-chat/internal/models"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrDuplicateUser = errors.New("username or email already in use")
)

// UserRepository abstracts user persistence.
type UserRepository interface {
	Create(ctx context.Context, username, email, passwordHash string) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByIDs(ctx context.Context, userIDs []int) ([]models.PublicUser, error)
	Search(ctx context.Context, query string, excludeID, limit int) ([]models.PublicUser, error)
	SetOnline(ctx context.Context, userID int, online bool) error
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// Create stores a new user.
func (r *UserRepo) Create(ctx context.Context, username, email, passwordHash string) (models.User, error) {
	var user models.User
	err := r.db.QueryRowxContext(ctx, `INSERT INTO users (username, email, password_hash) VALUES ($1, $2, $3)
        RETURNING id, username, email, password_hash, is_online, created_at`, username, email, passwordHash).
		StructScan(&user)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return models.User{}, ErrDuplicateUser
	}
	return user, err
}

// FindByEmail fetches a user by email.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, username, email, password_hash, is_online, created_at FROM users WHERE email=$1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// FindByIDs fetches the public views for a set of user ids.
func (r *UserRepo) FindByIDs(ctx context.Context, userIDs []int) ([]models.PublicUser, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT id, username, email, is_online FROM users WHERE id IN (?) ORDER BY id`, userIDs)
	if err != nil {
		return nil, err
	}
	var users []models.PublicUser
	err = r.db.SelectContext(ctx, &users, r.db.Rebind(query), args...)
	return users, err
}

// Search finds users whose username or email contains the query,
// excluding the caller.
func (r *UserRepo) Search(ctx context.Context, query string, excludeID, limit int) ([]models.PublicUser, error) {
	var users []models.PublicUser
	err := r.db.SelectContext(ctx, &users, `SELECT id, username, email, is_online FROM users
        WHERE (username ILIKE '%' || $1 || '%' OR email ILIKE '%' || $1 || '%') AND id <> $2
        ORDER BY username LIMIT $3`, query, excludeID, limit)
	return users, err
}

// SetOnline updates the durable online flag.
func (r *UserRepo) SetOnline(ctx context.Context, userID int, online bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET is_online=$2 WHERE id=$1`, userID, online)
	return err
}
