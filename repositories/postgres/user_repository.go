package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/upb/validation-portal/models"
	"github.com/upb/validation-portal/repositories"
	"go.uber.org/zap"
)

// UserRepository implements the repositories.UserRepository interface
type UserRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, logger *zap.Logger) repositories.UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

const upsertUserQuery = `
	INSERT INTO users (username, email, first_name, last_name, kinde_id)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (username) DO UPDATE
	SET email = EXCLUDED.email,
	    first_name = EXCLUDED.first_name,
	    last_name = EXCLUDED.last_name,
	    kinde_id = EXCLUDED.kinde_id,
	    updated_at = CURRENT_TIMESTAMP
	RETURNING username
`

// Upsert stores the user in one atomic statement
func (r *UserRepository) Upsert(ctx context.Context, user *models.User) (string, error) {
	executor := GetExecutor(ctx, r.db)

	var username string
	err := executor.QueryRowContext(ctx, upsertUserQuery,
		user.Username,
		user.Email,
		user.FirstName,
		user.LastName,
		user.KindeID,
	).Scan(&username)
	if err != nil {
		return "", fmt.Errorf("failed to upsert user: %w", err)
	}

	r.logger.Debug("user upserted", zap.String("username", username))
	return username, nil
}

// GetUsernameBySubject resolves a provider subject to a username
func (r *UserRepository) GetUsernameBySubject(ctx context.Context, subject string) (string, error) {
	query := `SELECT username FROM users WHERE kinde_id = $1 LIMIT 1`

	executor := GetExecutor(ctx, r.db)

	var username string
	if err := executor.QueryRowContext(ctx, query, subject).Scan(&username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", repositories.ErrNotFound
		}
		return "", fmt.Errorf("failed to get user by subject: %w", err)
	}
	return username, nil
}

// GetByUsername retrieves a user by username
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `
		SELECT id, username, COALESCE(email, ''), COALESCE(first_name, ''),
		       COALESCE(last_name, ''), COALESCE(kinde_id, ''), created_at, updated_at
		FROM users
		WHERE username = $1
	`

	executor := GetExecutor(ctx, r.db)
	user := &models.User{}

	err := executor.QueryRowContext(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.KindeID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}
