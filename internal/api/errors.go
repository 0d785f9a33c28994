package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/keystone-auth/internal/auth"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	// Fields maps request fields to validation messages.
	Fields map[string]string `json:"fields,omitempty"`
}

// Error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeValidation         = "validation_error"
	ErrCodeDuplicateEmail     = "duplicate_email"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeMissingToken       = "missing_token"
	ErrCodeInvalidToken       = "invalid_token"
	ErrCodeInvalidUser        = "invalid_user"
	ErrCodeMisconfigured      = "server_misconfigured"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeUnavailable        = "unavailable"
	ErrCodeInternal           = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeMisconfigured writes the 500 returned while token secrets are missing.
func writeMisconfigured(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, ErrCodeMisconfigured, "server misconfigured: missing JWT secrets")
}

// writeAuthError maps an auth.Service error onto the response. Errors outside
// the auth taxonomy are logged in full and answered with fallback, a generic
// message for the operation.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, ErrCodeDuplicateEmail, "user with that email already exists")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "invalid email or password")
	case errors.Is(err, auth.ErrMissingToken):
		writeError(w, http.StatusForbidden, ErrCodeMissingToken, "refresh token is required")
	case errors.Is(err, auth.ErrTokenExpired), errors.Is(err, auth.ErrTokenInvalid):
		writeError(w, http.StatusUnauthorized, ErrCodeInvalidToken, "invalid or expired token")
	case errors.Is(err, auth.ErrInvalidUser), errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusUnauthorized, ErrCodeInvalidUser, "invalid user")
	case errors.Is(err, auth.ErrServerMisconfigured):
		s.logger.Error("token secrets not configured", "path", r.URL.Path)
		writeMisconfigured(w)
	default:
		s.logger.Error("auth request failed",
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
			"error", err,
		)
		writeInternalError(w, fallback)
	}
}
