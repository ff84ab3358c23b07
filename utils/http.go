package utils

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the JSON body of every API-style failure.
// Detail is stable and safe to show to end users.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Detail  string                 `json:"detail"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes a 200 OK response with data as the body
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteUnauthorized writes a 401 Unauthorized response
func WriteUnauthorized(w http.ResponseWriter, detail string) error {
	if detail == "" {
		detail = "Authentication required"
	}
	return WriteError(w, http.StatusUnauthorized, "unauthorized", detail, nil)
}

// WriteNotFound writes a 404 Not Found response
func WriteNotFound(w http.ResponseWriter, detail string) error {
	if detail == "" {
		detail = "Resource not found"
	}
	return WriteError(w, http.StatusNotFound, "not_found", detail, nil)
}

// WriteInternalServerError writes a 500 Internal Server Error response
func WriteInternalServerError(w http.ResponseWriter, detail string) error {
	if detail == "" {
		detail = "Internal server error"
	}
	return WriteError(w, http.StatusInternalServerError, "internal", detail, nil)
}

// WriteError writes an error response with an explicit error code.
// An empty code is derived from the status.
func WriteError(w http.ResponseWriter, status int, code, detail string, details map[string]interface{}) error {
	if code == "" {
		code = codeForStatus(status)
	}
	return WriteJSON(w, status, ErrorResponse{
		Error:   code,
		Detail:  detail,
		Details: details,
	})
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}
