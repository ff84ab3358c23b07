// Package auth drives the OpenID Connect authorization-code flow: login
// redirect, callback and logout.
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/upb/validation-portal/config"
	"github.com/upb/validation-portal/internal/observability"
	"github.com/upb/validation-portal/oidc"
	"github.com/upb/validation-portal/services"
	"github.com/upb/validation-portal/session"
	"go.uber.org/zap"
)

// IDTokenVerifier verifies ID tokens against the client id audience
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, token string) (*oidc.Claims, error)
}

// IdentityBinder maps verified claims to a local username
type IdentityBinder interface {
	Upsert(ctx context.Context, claims *oidc.Claims) (string, error)
}

// Handler handles the login, callback and logout steps. Each method
// returns a *services.DomainError for the HTTP layer to render.
type Handler struct {
	cfg       config.SessionConfig
	exchanger services.TokenExchanger
	verifier  IDTokenVerifier
	binder    IdentityBinder
	issuer    *session.Issuer
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewHandler creates a new auth handler. metrics may be nil.
func NewHandler(
	cfg config.SessionConfig,
	exchanger services.TokenExchanger,
	verifier IDTokenVerifier,
	binder IdentityBinder,
	issuer *session.Issuer,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		cfg:       cfg,
		exchanger: exchanger,
		verifier:  verifier,
		binder:    binder,
		issuer:    issuer,
		metrics:   metrics,
		logger:    logger,
	}
}

// HandleLogin sets the state cookie and redirects to the provider's
// authorization endpoint. It makes no call to the provider.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) error {
	if h.exchanger == nil || h.issuer == nil {
		return services.ErrConfiguration
	}

	state, err := h.issuer.StartFlow(r.Context(), w)
	if err != nil {
		return services.WrapInternal("Failed to initiate login", err)
	}

	if h.metrics != nil {
		h.metrics.LoginStarted()
	}
	http.Redirect(w, r, h.exchanger.AuthCodeURL(state), http.StatusFound)
	return nil
}

// HandleCallback completes the flow: state check, code exchange, ID token
// verification, user upsert and session issuance. Nothing reaches the
// token endpoint unless the state matches.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	logger := observability.WithRequest(ctx, h.logger)
	query := r.URL.Query()
	code, state := query.Get("code"), query.Get("state")

	if err := h.issuer.ConsumeState(ctx, r, state); err != nil {
		if errors.Is(err, session.ErrStateMismatch) {
			_, cookieErr := r.Cookie(session.StateCookieName)
			logger.Warn("oauth state mismatch",
				zap.Bool("cookie_present", cookieErr == nil),
				zap.Bool("param_present", state != ""))
			return h.fail(observability.OutcomeStateMismatch,
				services.NewDomainError(services.ErrorTypeStateMismatch, "Invalid state parameter or state mismatch.", err))
		}
		return h.fail(observability.OutcomeStateMismatch, services.WrapInternal("Failed to verify state", err))
	}

	if code == "" {
		return h.fail(observability.OutcomeExchange,
			services.NewDomainError(services.ErrorTypeValidation, "Missing authorization code", nil))
	}

	tokens, err := h.exchanger.Exchange(ctx, code)
	if err != nil {
		logger.Error("token exchange failed", zap.Error(err))
		return h.fail(observability.OutcomeExchange, exchangeError(err))
	}
	if tokens.IDToken == "" || tokens.AccessToken == "" {
		return h.fail(observability.OutcomeExchange,
			services.NewDomainError(services.ErrorTypeTransport, "ID or access token not returned", nil))
	}

	claims, err := h.verifier.VerifyIDToken(ctx, tokens.IDToken)
	if h.metrics != nil {
		h.metrics.TokenVerified(err)
	}
	if err != nil {
		logger.Warn("id token verification failed",
			zap.String("kind", oidc.ErrorKind(err)),
			zap.Error(err))
		return h.fail(observability.OutcomeToken, verificationError(err))
	}

	username, err := h.binder.Upsert(ctx, claims)
	if err != nil {
		outcome := observability.OutcomePersistence
		if services.IsIdentityError(err) {
			outcome = observability.OutcomeIdentity
		}
		return h.fail(outcome, err)
	}

	if err := h.issuer.Establish(ctx, w, username, tokens.AccessToken, tokens.ExpiresIn); err != nil {
		logger.Error("failed to establish session", zap.String("username", username), zap.Error(err))
		return h.fail(observability.OutcomeSession, services.WrapInternal("Failed to establish session", err))
	}
	h.issuer.ClearState(w)

	logger.Info("login completed", zap.String("username", username))
	if h.metrics != nil {
		h.metrics.CallbackOutcome(observability.OutcomeSuccess)
	}
	http.Redirect(w, r, h.cfg.LandingURL(), http.StatusFound)
	return nil
}

// HandleLogout revokes the session and clears cookies. Logging out
// without a session is not an error.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) error {
	if err := h.issuer.Revoke(r.Context(), w, r); err != nil {
		// Cookies are already cleared; a stale server-side entry expires on its own
		observability.WithRequest(r.Context(), h.logger).Warn("failed to revoke session", zap.Error(err))
	}
	http.Redirect(w, r, h.cfg.LogoutURL(), http.StatusFound)
	return nil
}

func (h *Handler) fail(outcome string, err error) error {
	if h.metrics != nil {
		h.metrics.CallbackOutcome(outcome)
	}
	return err
}

func exchangeError(err error) error {
	if services.IsConfigurationError(err) {
		return err
	}
	var exchangeErr *services.ExchangeError
	if errors.As(err, &exchangeErr) {
		return services.NewDomainError(services.ErrorTypeTransport, "Token exchange failed: "+exchangeErr.Body, err).
			WithDetail("status", exchangeErr.Status)
	}
	return services.WrapTransport("Token exchange failed", err)
}

func verificationError(err error) error {
	if !oidc.IsTokenError(err) {
		return services.WrapTransport(oidc.Detail(err), err)
	}
	return services.NewDomainError(services.ErrorTypeToken, oidc.Detail(err), err).
		WithDetail("kind", oidc.ErrorKind(err))
}
