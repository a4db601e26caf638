package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// User is a stored account record.
type User struct {
	ID           uuid.UUID
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Users provides access to the users table.
type Users struct {
	DB DBTX
}

// Create inserts a new user.
func (r Users) Create(ctx context.Context, name, email, passwordHash string) (User, error) {
	const q = `
INSERT INTO users (name, email, password_hash)
VALUES ($1, $2, $3)
RETURNING id, name, email, password_hash, created_at, updated_at`
	var u User
	err := r.DB.QueryRow(ctx, q, name, email, passwordHash).Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	)
	return u, err
}

// GetByEmail fetches a user by normalized email.
func (r Users) GetByEmail(ctx context.Context, email string) (User, error) {
	const q = `
SELECT id, name, email, password_hash, created_at, updated_at
FROM users
WHERE email = $1`
	var u User
	err := r.DB.QueryRow(ctx, q, email).Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	)
	return u, wrapNoRows(err)
}

// GetByID fetches a user by primary key.
func (r Users) GetByID(ctx context.Context, id uuid.UUID) (User, error) {
	const q = `
SELECT id, name, email, password_hash, created_at, updated_at
FROM users
WHERE id = $1`
	var u User
	err := r.DB.QueryRow(ctx, q, id).Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	)
	return u, wrapNoRows(err)
}
