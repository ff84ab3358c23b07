package repositories

import (
	"context"
	"errors"

	"github.com/upb/validation-portal/models"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// UserRepository handles local user records keyed by username
type UserRepository interface {
	// Upsert inserts the user or, when the username exists, overwrites its
	// profile fields and provider subject. Returns the stored username.
	Upsert(ctx context.Context, user *models.User) (string, error)

	// GetUsernameBySubject resolves a provider subject to a username
	GetUsernameBySubject(ctx context.Context, subject string) (string, error)

	// GetByUsername retrieves a user by username
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Users UserRepository
}
