package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/upb/validation-portal/internal/observability"
	"github.com/upb/validation-portal/oidc"
	"github.com/upb/validation-portal/repositories"
	"github.com/upb/validation-portal/services"
	"github.com/upb/validation-portal/session"
	"github.com/upb/validation-portal/utils"
	"go.uber.org/zap"
)

// AccessTokenVerifier verifies access tokens against the API audience
type AccessTokenVerifier interface {
	VerifyAccessToken(ctx context.Context, token string) (*oidc.Claims, error)
}

// UsernameResolver maps a provider subject to a local username
type UsernameResolver interface {
	GetUsernameBySubject(ctx context.Context, subject string) (string, error)
}

// SessionLookup resolves the session_id cookie
type SessionLookup interface {
	Lookup(ctx context.Context, r *http.Request) (*session.Record, error)
}

// AuthMiddleware re-verifies the caller on every protected request
type AuthMiddleware struct {
	verifier AccessTokenVerifier
	users    UsernameResolver
	sessions SessionLookup
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. sessions and metrics may be nil.
func NewAuthMiddleware(
	verifier AccessTokenVerifier,
	users UsernameResolver,
	sessions SessionLookup,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		users:    users,
		sessions: sessions,
		metrics:  metrics,
		logger:   logger,
	}
}

// RequireUser admits requests that carry a valid access token for a known
// user, or a live server-side session. Credential failures are a 401; a
// key fetch or database failure is a 500.
func (m *AuthMiddleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := observability.WithRequest(ctx, m.logger)

		ctx, err := m.authenticate(ctx, r)
		if err != nil {
			writeAuthError(w, err, logger)
			return
		}

		logger.Debug("authentication successful", zap.String("username", UsernameFromContext(ctx)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticate tries the access token first and falls back to the session
// cookie. The returned error is a *services.DomainError whose message is
// safe to return to the client.
func (m *AuthMiddleware) authenticate(ctx context.Context, r *http.Request) (context.Context, error) {
	token := extractToken(r)
	if token == "" {
		if rec, ok := m.lookupSession(ctx, r); ok {
			return WithUsername(ctx, rec.Username), nil
		}
		return ctx, services.NewDomainError(services.ErrorTypeUnauthorized, "Not authenticated", nil)
	}

	claims, err := m.verifier.VerifyAccessToken(ctx, token)
	if m.metrics != nil {
		m.metrics.TokenVerified(err)
	}
	if err != nil {
		// A stale token cookie next to a live session still authenticates
		if rec, ok := m.lookupSession(ctx, r); ok {
			return WithUsername(ctx, rec.Username), nil
		}
		if oidc.IsTokenError(err) {
			return ctx, services.NewDomainError(services.ErrorTypeUnauthorized, oidc.Detail(err), err)
		}
		return ctx, services.WrapTransport(oidc.Detail(err), err)
	}

	username, err := m.users.GetUsernameBySubject(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ctx, services.NewDomainError(services.ErrorTypeUnauthorized, "User not found", err)
		}
		return ctx, services.WrapPersistence("Unable to resolve user", err)
	}

	ctx = WithSubject(ctx, claims.Subject)
	return WithUsername(ctx, username), nil
}

func (m *AuthMiddleware) lookupSession(ctx context.Context, r *http.Request) (*session.Record, bool) {
	if m.sessions == nil {
		return nil, false
	}
	rec, err := m.sessions.Lookup(ctx, r)
	return rec, err == nil
}

func writeAuthError(w http.ResponseWriter, err error, logger *zap.Logger) {
	message := services.GetErrorMessage(err)
	if services.IsUnauthorizedError(err) {
		logger.Debug("authentication failed", zap.Error(err))
		if err := utils.WriteUnauthorized(w, message); err != nil {
			logger.Error("failed to write unauthorized response", zap.Error(err))
		}
		return
	}

	logger.Error("authentication unavailable",
		zap.String("error_type", string(services.GetErrorType(err))),
		zap.Error(err))
	if err := utils.WriteError(w, http.StatusInternalServerError, string(services.GetErrorType(err)), message, nil); err != nil {
		logger.Error("failed to write error response", zap.Error(err))
	}
}

// extractToken reads the access_token cookie, then the Bearer header
func extractToken(r *http.Request) string {
	if cookie, err := r.Cookie(session.AccessTokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return extractBearerToken(r)
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
