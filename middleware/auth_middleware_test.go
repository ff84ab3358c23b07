package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/validation-portal/config"
	"github.com/upb/validation-portal/oidc"
	"github.com/upb/validation-portal/repositories"
	"github.com/upb/validation-portal/session"
	"github.com/upb/validation-portal/utils"
	"go.uber.org/zap"
)

// MockAccessTokenVerifier is a mock implementation of AccessTokenVerifier
type MockAccessTokenVerifier struct {
	mock.Mock
}

func (m *MockAccessTokenVerifier) VerifyAccessToken(ctx context.Context, token string) (*oidc.Claims, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oidc.Claims), args.Error(1)
}

// MockUsernameResolver is a mock implementation of UsernameResolver
type MockUsernameResolver struct {
	mock.Mock
}

func (m *MockUsernameResolver) GetUsernameBySubject(ctx context.Context, subject string) (string, error) {
	args := m.Called(ctx, subject)
	return args.String(0), args.Error(1)
}

func claimsFor(subject string) *oidc.Claims {
	return &oidc.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: subject}}
}

// echoUser writes the username the middleware put in the context
func echoUser(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, map[string]string{
		"user":    UsernameFromContext(r.Context()),
		"subject": SubjectFromContext(r.Context()),
	})
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) utils.ErrorResponse {
	t.Helper()
	var body utils.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestRequireUser_AccessToken(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid token in cookie allows request", func(t *testing.T) {
		verifier := new(MockAccessTokenVerifier)
		users := new(MockUsernameResolver)
		verifier.On("VerifyAccessToken", mock.Anything, "cookie-token").Return(claimsFor("kp_ada"), nil)
		users.On("GetUsernameBySubject", mock.Anything, "kp_ada").Return("ada@example.com", nil)

		handler := NewAuthMiddleware(verifier, users, nil, nil, logger).RequireUser(http.HandlerFunc(echoUser))

		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.AddCookie(&http.Cookie{Name: session.AccessTokenCookieName, Value: "cookie-token"})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "ada@example.com", body["user"])
		assert.Equal(t, "kp_ada", body["subject"])
		verifier.AssertExpectations(t)
		users.AssertExpectations(t)
	})

	t.Run("valid token in Authorization header allows request", func(t *testing.T) {
		verifier := new(MockAccessTokenVerifier)
		users := new(MockUsernameResolver)
		verifier.On("VerifyAccessToken", mock.Anything, "header-token").Return(claimsFor("kp_ada"), nil)
		users.On("GetUsernameBySubject", mock.Anything, "kp_ada").Return("ada@example.com", nil)

		handler := NewAuthMiddleware(verifier, users, nil, nil, logger).RequireUser(http.HandlerFunc(echoUser))

		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.Header.Set("Authorization", "Bearer header-token")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("cookie takes precedence over header", func(t *testing.T) {
		verifier := new(MockAccessTokenVerifier)
		users := new(MockUsernameResolver)
		verifier.On("VerifyAccessToken", mock.Anything, "cookie-token").Return(claimsFor("kp_ada"), nil)
		users.On("GetUsernameBySubject", mock.Anything, "kp_ada").Return("ada@example.com", nil)

		handler := NewAuthMiddleware(verifier, users, nil, nil, logger).RequireUser(http.HandlerFunc(echoUser))

		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.AddCookie(&http.Cookie{Name: session.AccessTokenCookieName, Value: "cookie-token"})
		req.Header.Set("Authorization", "Bearer header-token")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		verifier.AssertNotCalled(t, "VerifyAccessToken", mock.Anything, "header-token")
	})
}

func TestRequireUser_Rejections(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		header         string
		verifyErr      error
		lookupErr      error
		expectedStatus int
		expectedCode   string
		expectedDetail string
	}{
		{
			name:           "missing credential",
			expectedStatus: http.StatusUnauthorized,
			expectedCode:   "unauthorized",
			expectedDetail: "Not authenticated",
		},
		{
			name:           "malformed authorization header",
			header:         "Basic dXNlcjpwYXNz",
			expectedStatus: http.StatusUnauthorized,
			expectedCode:   "unauthorized",
			expectedDetail: "Not authenticated",
		},
		{
			name:           "expired token",
			header:         "Bearer tok",
			verifyErr:      fmt.Errorf("verify: %w", oidc.ErrExpiredSignature),
			expectedStatus: http.StatusUnauthorized,
			expectedCode:   "unauthorized",
			expectedDetail: "Token has expired",
		},
		{
			name:           "unknown key",
			header:         "Bearer tok",
			verifyErr:      fmt.Errorf("verify: %w", oidc.ErrUnknownKeyID),
			expectedStatus: http.StatusUnauthorized,
			expectedCode:   "unauthorized",
			expectedDetail: "Token signed with an unknown key",
		},
		{
			name:           "subject without local user",
			header:         "Bearer tok",
			lookupErr:      repositories.ErrNotFound,
			expectedStatus: http.StatusUnauthorized,
			expectedCode:   "unauthorized",
			expectedDetail: "User not found",
		},
		{
			name:           "user lookup fails",
			header:         "Bearer tok",
			lookupErr:      errors.New("driver: bad connection"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   "persistence",
			expectedDetail: "Unable to resolve user",
		},
		{
			name:           "signing keys unavailable",
			header:         "Bearer tok",
			verifyErr:      fmt.Errorf("%w: discovery returned 503", oidc.ErrKeyFetch),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   "transport",
			expectedDetail: "Unable to fetch identity provider signing keys",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := new(MockAccessTokenVerifier)
			users := new(MockUsernameResolver)
			if tt.verifyErr != nil {
				verifier.On("VerifyAccessToken", mock.Anything, "tok").Return(nil, tt.verifyErr)
			} else {
				verifier.On("VerifyAccessToken", mock.Anything, "tok").Return(claimsFor("kp_ghost"), nil)
			}
			users.On("GetUsernameBySubject", mock.Anything, "kp_ghost").Return("", tt.lookupErr)

			called := false
			handler := NewAuthMiddleware(verifier, users, nil, nil, logger).RequireUser(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.False(t, called)
			require.Equal(t, tt.expectedStatus, w.Code)
			body := decodeError(t, w)
			assert.Equal(t, tt.expectedCode, body.Error)
			assert.Equal(t, tt.expectedDetail, body.Detail)
		})
	}
}

const liveSessionID = "0b6a7f0e-3c1e-4d6e-9a8f-2f3b4c5d6e7f"

func TestRequireUser_ServerSession(t *testing.T) {
	logger := zap.NewNop()
	store := session.NewMemoryStore()
	issuer := session.NewIssuer(config.SessionConfig{
		Strategy: config.StrategyServer,
		SameSite: "lax",
		MaxAge:   time.Hour,
	}, store, nil, logger)
	require.NoError(t, store.Create(context.Background(), liveSessionID, session.Record{Username: "ada@example.com"}, time.Hour))

	t.Run("live session allows request without a token", func(t *testing.T) {
		verifier := new(MockAccessTokenVerifier)
		handler := NewAuthMiddleware(verifier, new(MockUsernameResolver), issuer, nil, logger).
			RequireUser(http.HandlerFunc(echoUser))

		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.AddCookie(&http.Cookie{Name: session.SessionCookieName, Value: liveSessionID})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "ada@example.com", body["user"])
		verifier.AssertNotCalled(t, "VerifyAccessToken", mock.Anything, mock.Anything)
	})

	t.Run("unknown session id is rejected", func(t *testing.T) {
		handler := NewAuthMiddleware(new(MockAccessTokenVerifier), new(MockUsernameResolver), issuer, nil, logger).
			RequireUser(http.HandlerFunc(echoUser))

		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.AddCookie(&http.Cookie{Name: session.SessionCookieName, Value: "4f1c2a8e-0000-4000-8000-000000000000"})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired token falls back to the session", func(t *testing.T) {
		verifier := new(MockAccessTokenVerifier)
		verifier.On("VerifyAccessToken", mock.Anything, "stale").Return(nil, oidc.ErrExpiredSignature)
		handler := NewAuthMiddleware(verifier, new(MockUsernameResolver), issuer, nil, logger).
			RequireUser(http.HandlerFunc(echoUser))

		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.AddCookie(&http.Cookie{Name: session.AccessTokenCookieName, Value: "stale"})
		req.AddCookie(&http.Cookie{Name: session.SessionCookieName, Value: liveSessionID})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("key fetch failure falls back to the session", func(t *testing.T) {
		verifier := new(MockAccessTokenVerifier)
		verifier.On("VerifyAccessToken", mock.Anything, "tok").Return(nil, oidc.ErrKeyFetch)
		handler := NewAuthMiddleware(verifier, new(MockUsernameResolver), issuer, nil, logger).
			RequireUser(http.HandlerFunc(echoUser))

		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.AddCookie(&http.Cookie{Name: session.AccessTokenCookieName, Value: "tok"})
		req.AddCookie(&http.Cookie{Name: session.SessionCookieName, Value: liveSessionID})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		assert.Equal(t, tt.want, extractBearerToken(req), tt.header)
	}
}
