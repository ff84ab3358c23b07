package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/upb/validation-portal/config"
	"github.com/upb/validation-portal/utils"
	"go.uber.org/zap"
)

const (
	// StateCookieName carries the authorization state between login and callback
	StateCookieName = "oauth_state"
	// AccessTokenCookieName carries the provider access token
	AccessTokenCookieName = "access_token"
	// SessionCookieName carries a locally minted session id
	SessionCookieName = "session_id"

	// DefaultTokenLifetime is the cookie lifetime when the provider omits expires_in
	DefaultTokenLifetime = 3600

	stateBytes = 32
)

// Issuer sets, reads and clears the portal's cookies
type Issuer struct {
	cfg      config.SessionConfig
	sessions SessionStore
	states   StateStore
	logger   *zap.Logger
	now      func() time.Time
}

// NewIssuer creates an Issuer. sessions is required for the server and
// hybrid strategies; a nil states store keeps the state in the cookie only.
func NewIssuer(cfg config.SessionConfig, sessions SessionStore, states StateStore, logger *zap.Logger) *Issuer {
	return &Issuer{
		cfg:      cfg,
		sessions: sessions,
		states:   states,
		logger:   logger,
		now:      time.Now,
	}
}

// UsesAccessTokenCookie reports whether the strategy stores the access token in a cookie
func (i *Issuer) UsesAccessTokenCookie() bool {
	return i.cfg.Strategy != config.StrategyServer
}

// UsesServerSessions reports whether the strategy keeps server-side sessions
func (i *Issuer) UsesServerSessions() bool {
	return i.cfg.Strategy == config.StrategyServer || i.cfg.Strategy == config.StrategyHybrid
}

// NewState returns a fresh unguessable state value
func NewState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// StartFlow mints a state, binds it and sets the state cookie
func (i *Issuer) StartFlow(ctx context.Context, w http.ResponseWriter) (string, error) {
	state, err := NewState()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	if i.states != nil {
		if err := i.states.SaveState(ctx, state, i.cfg.StateMaxAge); err != nil {
			return "", fmt.Errorf("failed to bind state: %w", err)
		}
	}

	http.SetCookie(w, i.cookie(StateCookieName, state, int(i.cfg.StateMaxAge.Seconds())))
	return state, nil
}

// ConsumeState checks the returned state against the cookie and, when
// bound server-side, consumes it so it cannot be replayed. Any mismatch
// is ErrStateMismatch.
func (i *Issuer) ConsumeState(ctx context.Context, r *http.Request, received string) error {
	cookie, err := r.Cookie(StateCookieName)
	if err != nil || cookie.Value == "" || received == "" {
		return ErrStateMismatch
	}
	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(received)) != 1 {
		return ErrStateMismatch
	}

	if i.states == nil {
		return nil
	}
	ok, err := i.states.ConsumeState(ctx, received)
	if err != nil {
		return fmt.Errorf("failed to consume state: %w", err)
	}
	if !ok {
		return ErrStateMismatch
	}
	return nil
}

// ClearState deletes the state cookie with the flags it was set with
func (i *Issuer) ClearState(w http.ResponseWriter) {
	http.SetCookie(w, i.cookie(StateCookieName, "", -1))
}

// Establish sets the session credential for a bound user according to the
// configured strategy. expiresIn is the access token lifetime in seconds.
func (i *Issuer) Establish(ctx context.Context, w http.ResponseWriter, username, accessToken string, expiresIn int) error {
	if expiresIn <= 0 {
		expiresIn = DefaultTokenLifetime
	}

	if i.UsesServerSessions() {
		if i.sessions == nil {
			return errors.New("session store not configured")
		}
		id := uuid.NewString()
		rec := Record{Username: username, CreatedAt: i.now().UTC()}
		if err := i.sessions.Create(ctx, id, rec, i.cfg.MaxAge); err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		http.SetCookie(w, i.cookie(SessionCookieName, id, int(i.cfg.MaxAge.Seconds())))
	}

	if i.UsesAccessTokenCookie() {
		http.SetCookie(w, i.cookie(AccessTokenCookieName, accessToken, expiresIn))
	}

	i.logger.Debug("session established",
		zap.String("username", username),
		zap.String("strategy", i.cfg.Strategy))
	return nil
}

// Lookup resolves the session_id cookie to its record
func (i *Issuer) Lookup(ctx context.Context, r *http.Request) (*Record, error) {
	if !i.UsesServerSessions() || i.sessions == nil {
		return nil, ErrNotFound
	}
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || utils.ValidateUUID(cookie.Value) != nil {
		return nil, ErrNotFound
	}
	return i.sessions.Get(ctx, cookie.Value)
}

// Revoke drops the server-side session, if any, and clears every portal
// cookie. Calling it without a session is not an error.
func (i *Issuer) Revoke(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var revokeErr error
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" && i.sessions != nil {
		if err := i.sessions.Delete(ctx, cookie.Value); err != nil {
			revokeErr = fmt.Errorf("failed to revoke session: %w", err)
		}
	}

	for _, name := range []string{AccessTokenCookieName, SessionCookieName, StateCookieName} {
		http.SetCookie(w, i.cookie(name, "", -1))
	}
	return revokeErr
}

// cookie builds a cookie with the configured flags; maxAge < 0 deletes it
func (i *Issuer) cookie(name, value string, maxAge int) *http.Cookie {
	sameSite, secure := i.sameSite()
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   i.cfg.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	}
}

func (i *Issuer) sameSite() (http.SameSite, bool) {
	switch i.cfg.SameSite {
	case "none":
		// Browsers reject SameSite=None without Secure
		return http.SameSiteNoneMode, true
	case "strict":
		return http.SameSiteStrictMode, i.cfg.Secure
	default:
		return http.SameSiteLaxMode, i.cfg.Secure
	}
}
