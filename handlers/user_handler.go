package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/upb/validation-portal/internal/observability"
	"github.com/upb/validation-portal/middleware"
	"github.com/upb/validation-portal/models"
	"github.com/upb/validation-portal/repositories"
	"github.com/upb/validation-portal/services"
	"github.com/upb/validation-portal/utils"
	"go.uber.org/zap"
)

// UserLookup loads local users by username
type UserLookup interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// SessionResponse is the body of GET /api/session
type SessionResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// UserHandler serves the endpoints behind RequireUser
type UserHandler struct {
	users  UserLookup
	logger *zap.Logger
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(users UserLookup, logger *zap.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// HandleMe handles GET /api/me
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	username := middleware.UsernameFromContext(r.Context())
	if username == "" {
		_ = utils.WriteUnauthorized(w, "Not authenticated")
		return
	}
	_ = utils.WriteOK(w, map[string]string{"user": username})
}

// HandleSession handles GET /api/session
func (h *UserHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	_ = utils.WriteOK(w, SessionResponse{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
	})
}

// HandleProfile handles GET /api/profile
func (h *UserHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	_ = utils.WriteOK(w, user.Profile())
}

// currentUser loads the authenticated user; it writes the error response
// itself and reports false when there is none.
func (h *UserHandler) currentUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	ctx := r.Context()
	logger := observability.WithRequest(ctx, h.logger)

	username := middleware.UsernameFromContext(ctx)
	if username == "" {
		_ = utils.WriteUnauthorized(w, "Not authenticated")
		return nil, false
	}

	user, err := h.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			HandleServiceError(w, services.NewDomainError(services.ErrorTypeNotFound, "User not found", err), logger)
			return nil, false
		}
		HandleServiceError(w, services.WrapPersistence("Failed to load user", err), logger)
		return nil, false
	}
	return user, true
}
