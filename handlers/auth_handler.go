package handlers

import (
	"net/http"

	"github.com/upb/validation-portal/auth"
	"github.com/upb/validation-portal/internal/observability"
	"github.com/upb/validation-portal/services"
	"go.uber.org/zap"
)

// AuthDeps provides the auth handler for route wiring
type AuthDeps interface {
	AuthHandler() *auth.Handler
	GetLogger() *zap.Logger
}

type authStep func(h *auth.Handler, w http.ResponseWriter, r *http.Request) error

// AuthLoginHandler returns an http.HandlerFunc for the login endpoint
func AuthLoginHandler(deps AuthDeps) http.HandlerFunc {
	return authHandlerFunc(deps, (*auth.Handler).HandleLogin)
}

// AuthCallbackHandler returns an http.HandlerFunc for the OAuth callback endpoint
func AuthCallbackHandler(deps AuthDeps) http.HandlerFunc {
	return authHandlerFunc(deps, (*auth.Handler).HandleCallback)
}

// AuthLogoutHandler returns an http.HandlerFunc for the logout endpoint
func AuthLogoutHandler(deps AuthDeps) http.HandlerFunc {
	return authHandlerFunc(deps, (*auth.Handler).HandleLogout)
}

func authHandlerFunc(deps AuthDeps, step authStep) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := observability.WithRequest(r.Context(), deps.GetLogger())

		h := deps.AuthHandler()
		if h == nil {
			logger.Error("auth handler not configured")
			HandleServiceError(w, services.ErrConfiguration, logger)
			return
		}
		if err := step(h, w, r); err != nil {
			HandleServiceError(w, err, logger)
		}
	}
}
