// Package identity binds verified provider identities to local user records.
package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/upb/validation-portal/models"
	"github.com/upb/validation-portal/oidc"
	"github.com/upb/validation-portal/repositories"
	"github.com/upb/validation-portal/services"
	"go.uber.org/zap"
)

var (
	// ErrMissingIdentity means the claims carry no subject or no usable username
	ErrMissingIdentity = errors.New("missing required user info")
	// ErrStoreFailed means the user record could not be written
	ErrStoreFailed = errors.New("failed to store user")
)

// Binder upserts local users from verified claims
type Binder struct {
	users  repositories.UserRepository
	tx     repositories.TransactionManager
	logger *zap.Logger
}

// NewBinder creates a Binder. A nil transaction manager runs the upsert directly.
func NewBinder(users repositories.UserRepository, tx repositories.TransactionManager, logger *zap.Logger) *Binder {
	return &Binder{users: users, tx: tx, logger: logger}
}

// DeriveUser maps claims to a user record without touching storage
func DeriveUser(claims *oidc.Claims) (*models.User, error) {
	if claims == nil {
		return nil, ErrMissingIdentity
	}
	subject := strings.TrimSpace(claims.Subject)
	username := strings.TrimSpace(claims.Username())
	if subject == "" || username == "" {
		return nil, ErrMissingIdentity
	}

	first, last := claims.Names()
	return models.NewUser(username, claims.Email, first, last, subject), nil
}

// Upsert creates or refreshes the user for the verified claims and returns
// the stored username. Repeating it with the same claims leaves one row.
func (b *Binder) Upsert(ctx context.Context, claims *oidc.Claims) (string, error) {
	user, err := DeriveUser(claims)
	if err != nil {
		return "", services.NewDomainError(services.ErrorTypeIdentity, "Missing required user info", err)
	}

	var username string
	store := func(ctx context.Context) error {
		var err error
		username, err = b.users.Upsert(ctx, user)
		return err
	}

	if b.tx != nil {
		err = b.tx.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
			return store(ctx)
		})
	} else {
		err = store(ctx)
	}
	if err != nil {
		b.logger.Error("failed to upsert user",
			zap.String("kinde_id", user.KindeID),
			zap.Error(err),
		)
		return "", services.NewDomainError(services.ErrorTypePersistence, "Failed to store user", errors.Join(ErrStoreFailed, err))
	}

	b.logger.Info("user upserted",
		zap.String("username", username),
		zap.String("kinde_id", user.KindeID),
	)
	return username, nil
}
