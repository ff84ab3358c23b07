package handlers

import (
	"net/http"

	"github.com/upb/validation-portal/services"
	"github.com/upb/validation-portal/utils"
	"go.uber.org/zap"
)

// statusForType maps domain error types to HTTP statuses
var statusForType = map[services.ErrorType]int{
	services.ErrorTypeConfiguration: http.StatusInternalServerError,
	services.ErrorTypeTransport:     http.StatusInternalServerError,
	services.ErrorTypeStateMismatch: http.StatusBadRequest,
	services.ErrorTypeToken:         http.StatusUnauthorized,
	services.ErrorTypeIdentity:      http.StatusBadRequest,
	services.ErrorTypePersistence:   http.StatusInternalServerError,
	services.ErrorTypeUnauthorized:  http.StatusUnauthorized,
	services.ErrorTypeNotFound:      http.StatusNotFound,
	services.ErrorTypeValidation:    http.StatusBadRequest,
	services.ErrorTypeInternal:      http.StatusInternalServerError,
}

// HandleServiceError maps domain errors to HTTP responses. The client sees
// the domain message and details; the wrapped cause is only logged.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	errType := services.GetErrorType(err)
	status, ok := statusForType[errType]
	if !ok {
		logger.Error("unhandled error type", zap.Error(err))
		if err := utils.WriteInternalServerError(w, "An unexpected error occurred"); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}
		return
	}

	message := services.GetErrorMessage(err)
	details := services.GetErrorDetails(err)
	if len(details) == 0 {
		details = nil
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("error_type", string(errType)),
			zap.Error(err))
	} else {
		logger.Debug("handled service error",
			zap.String("error_type", string(errType)),
			zap.String("message", message),
			zap.Any("details", details))
	}

	if err := utils.WriteError(w, status, string(errType), message, details); err != nil {
		logger.Error("failed to write error response", zap.Error(err))
	}
}
