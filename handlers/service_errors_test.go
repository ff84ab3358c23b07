package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/validation-portal/services"
	"github.com/upb/validation-portal/utils"
	"go.uber.org/zap"
)

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) utils.ErrorResponse {
	t.Helper()
	var body utils.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestHandleServiceError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedError  string
		expectedDetail string
	}{
		{"state mismatch", services.ErrStateMismatch, http.StatusBadRequest, "state_mismatch", "invalid state parameter"},
		{"identity", services.ErrIdentity, http.StatusBadRequest, "identity", "missing required user info"},
		{"token", services.NewDomainError(services.ErrorTypeToken, "Token has expired", errors.New("exp")), http.StatusUnauthorized, "token", "Token has expired"},
		{"unauthorized", services.ErrUnauthorized, http.StatusUnauthorized, "unauthorized", "authentication required"},
		{"not found", services.ErrUserNotFound, http.StatusNotFound, "not_found", "user not found"},
		{"validation", services.ErrInvalidInput, http.StatusBadRequest, "validation", "invalid input"},
		{"transport", services.WrapTransport("Token exchange failed", errors.New("dial tcp: refused")), http.StatusInternalServerError, "transport", "Token exchange failed"},
		{"persistence", services.WrapPersistence("Failed to store user", errors.New("pq: deadlock")), http.StatusInternalServerError, "persistence", "Failed to store user"},
		{"configuration", services.ErrConfiguration, http.StatusInternalServerError, "configuration", "authentication not configured"},
		{"internal", services.ErrInternal, http.StatusInternalServerError, "internal", "internal server error"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "internal", "An unexpected error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleServiceError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, tt.expectedError, body.Error)
			assert.Equal(t, tt.expectedDetail, body.Detail)
		})
	}
}

func TestHandleServiceError_CauseIsNotLeaked(t *testing.T) {
	w := httptest.NewRecorder()
	HandleServiceError(w, services.WrapPersistence("Failed to store user", errors.New("pq: password authentication failed")), zap.NewNop())

	assert.NotContains(t, w.Body.String(), "password")
}

func TestHandleServiceError_Details(t *testing.T) {
	err := services.NewDomainError(services.ErrorTypeToken, "Token signed with an unknown key", nil).
		WithDetail("kind", "unknown_key_id")

	w := httptest.NewRecorder()
	HandleServiceError(w, err, zap.NewNop())

	body := decodeBody(t, w)
	assert.Equal(t, "unknown_key_id", body.Details["kind"])
}

func TestHandleServiceError_Nil(t *testing.T) {
	w := httptest.NewRecorder()
	HandleServiceError(w, nil, zap.NewNop())
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}
