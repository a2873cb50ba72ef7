package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/voxgate/voxgate/internal/model"
)

// Common errors for user repository operations.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailExists  = errors.New("email already exists")
	ErrTokenExists  = errors.New("identity token already exists")
)

// Constraint names from the users migration.
const (
	usersEmailKey         = "users_email_key"
	usersIdentityTokenKey = "users_identity_token_key"
)

const userColumns = `id, email, plan, identity_token, created_at`

// CreateUser inserts a new user into the database.
func (r *Repository) CreateUser(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (id, email, plan, identity_token, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		string(user.Plan),
		user.IdentityToken,
		user.CreatedAt,
	)

	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok {
			if constraint == usersIdentityTokenKey {
				return ErrTokenExists
			}
			return ErrEmailExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUserByID retrieves a user by their ID.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

// GetUserByEmail retrieves a user by their email address.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

// GetUserByIdentityToken retrieves the user holding an identity token.
func (r *Repository) GetUserByIdentityToken(ctx context.Context, token string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE identity_token = $1`
	return scanUser(r.pool.QueryRow(ctx, query, token))
}

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	var plan string

	err := row.Scan(
		&user.ID,
		&user.Email,
		&plan,
		&user.IdentityToken,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	user.Plan = model.Plan(plan)
	return &user, nil
}
