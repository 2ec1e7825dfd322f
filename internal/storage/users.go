//go:generate go run go.uber.org/mock/mockgen -source=users.go -destination=mocks/mock_user_repository.go -package=mocks
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")
)

// User is a registered account. The password is only ever stored hashed.
type User struct {
	ID           string
	Username     string
	PasswordHash []byte
	CreatedAt    time.Time
}

// UserRepository stores and looks up users by username.
type UserRepository interface {
	CreateUser(ctx context.Context, username string, passwordHash []byte) (User, error)
	GetUser(ctx context.Context, username string) (User, error)
}

// SQLUserRepository is the UserRepository backed by the SQLite users table.
type SQLUserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a repository on a database returned by Open.
func NewUserRepository(db *sql.DB) *SQLUserRepository {
	return &SQLUserRepository{db: db}
}

// CreateUser persists a new user and returns it with its generated ID.
// A taken username yields ErrUserAlreadyExists.
func (r *SQLUserRepository) CreateUser(ctx context.Context, username string, passwordHash []byte) (User, error) {
	u := User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		u.ID, u.Username, u.PasswordHash, u.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user %q: %w", username, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return User{}, fmt.Errorf("insert user %q: %w", username, err)
	}
	if n == 0 {
		return User{}, ErrUserAlreadyExists
	}
	return u, nil
}

// GetUser returns the user named username, or ErrUserNotFound.
func (r *SQLUserRepository) GetUser(ctx context.Context, username string) (User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = ?`, username)

	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("get user %q: %w", username, err)
	}
	return u, nil
}
