package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hazinapay/backend/internal/models"
)

const userColumns = `id, email, first_name, last_name, phone, COALESCE(id_number, ''), role,
	password_hash, COALESCE(pin_hash, ''), is_temporary_password, created_at, updated_at`

func scanUser(row pgx.Row, u *models.User) error {
	return row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Phone, &u.IDNumber,
		&u.Role, &u.PasswordHash, &u.PINHash, &u.IsTemporaryPassword, &u.CreatedAt, &u.UpdatedAt)
}

// CreateUser inserts a new user row.
func (q *Queries) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, first_name, last_name, phone, id_number, role,
			password_hash, pin_hash, is_temporary_password, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, NULLIF($9, ''), $10, NOW(), NOW())
		RETURNING created_at, updated_at`
	err := q.db.QueryRow(ctx, query,
		user.ID, user.Email, user.FirstName, user.LastName, user.Phone, user.IDNumber,
		user.Role, user.PasswordHash, user.PINHash, user.IsTemporaryPassword,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUserByEmail looks a user up by email.
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{}
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	if err := scanUser(q.db.QueryRow(ctx, query, email), user); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

// GetUserByID looks a user up by primary key.
func (q *Queries) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	user := &models.User{}
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if err := scanUser(q.db.QueryRow(ctx, query, id), user); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return user, nil
}

// UpdateUserProfile refreshes profile fields in place. Used when a duplicate
// registration delivery carries newer form data for an existing user.
func (q *Queries) UpdateUserProfile(ctx context.Context, user *models.User) (int64, error) {
	query := `
		UPDATE users
		SET first_name = $2, last_name = $3, phone = $4,
			id_number = COALESCE(NULLIF($5, ''), id_number), updated_at = NOW()
		WHERE id = $1`
	tag, err := q.db.Exec(ctx, query, user.ID, user.FirstName, user.LastName, user.Phone, user.IDNumber)
	if err != nil {
		return 0, fmt.Errorf("update user profile: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReplacePassword sets a new password hash and clears the temporary flag.
func (q *Queries) ReplacePassword(ctx context.Context, userID string, passwordHash string) (int64, error) {
	query := `
		UPDATE users
		SET password_hash = $2, is_temporary_password = FALSE, updated_at = NOW()
		WHERE id = $1`
	tag, err := q.db.Exec(ctx, query, userID, passwordHash)
	if err != nil {
		return 0, fmt.Errorf("replace password: %w", err)
	}
	return tag.RowsAffected(), nil
}
