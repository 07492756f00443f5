package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventems/backend/internal/models"
	"github.com/eventems/backend/pkg/database"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

const userColumns = `id, email, COALESCE(password_hash,''), name, role, created_at, updated_at`

// Repository handles user persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.Password, &u.Name, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if database.IsNoRows(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByEmail returns a user by email, case-insensitively.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

// List returns all users for the admin console.
func (r *Repository) List(ctx context.Context) ([]models.UserPublic, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, email, name, role, created_at FROM users ORDER BY name, email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.UserPublic{}
	for rows.Next() {
		var u models.UserPublic
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

// Create inserts a new user. A duplicate email yields ErrEmailTaken.
func (r *Repository) Create(ctx context.Context, email, passwordHash, name string, role models.Role) (*models.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `INSERT INTO users (email, password_hash, name, role)
		VALUES (lower($1), $2, $3, $4) RETURNING `+userColumns, email, passwordHash, name, string(role)))
	if err != nil {
		if _, ok := database.UniqueViolation(err); ok {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return u, nil
}

// UpdateRole sets a user's role and returns the updated user.
func (r *Repository) UpdateRole(ctx context.Context, id uuid.UUID, role models.Role) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `UPDATE users SET role = $2, updated_at = NOW()
		WHERE id = $1 RETURNING `+userColumns, id, string(role)))
}

// Delete removes a user. Owned events, their tickets and the user's own tickets cascade.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// EnsureAdmin creates the bootstrap admin account if no user holds that email yet.
// It reports whether a row was inserted.
func (r *Repository) EnsureAdmin(ctx context.Context, email, passwordHash, name string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `INSERT INTO users (email, password_hash, name, role)
		VALUES (lower($1), $2, $3, 'admin') ON CONFLICT (email) DO NOTHING`, email, passwordHash, name)
	if err != nil {
		return false, fmt.Errorf("seed admin: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
