package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusFor maps a domain error code to an HTTP status.
func StatusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeInvalidCredentials,
		domain.CodeTokenMalformed,
		domain.CodeTokenExpired,
		domain.CodeTokenRevoked:
		return http.StatusUnauthorized
	case domain.CodeAccountLocked:
		return http.StatusLocked
	case domain.CodeAccountInactive,
		domain.CodeTenantAccessDenied,
		domain.CodeInsufficientPermissions:
		return http.StatusForbidden
	case domain.CodeResourceNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err with its code. System errors never expose their
// cause.
func WriteError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	message := "internal error"
	var de *domain.Error
	if code != domain.CodeSystemError && errors.As(err, &de) {
		message = de.Message
	}

	w.Header().Set("Content-Type", "application/json")
	if code == domain.CodeInvalidCredentials || code == domain.CodeTokenMalformed ||
		code == domain.CodeTokenExpired || code == domain.CodeTokenRevoked {
		w.Header().Set("WWW-Authenticate", `Bearer realm="identitycore"`)
	}
	w.WriteHeader(StatusFor(code))
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: string(code), Message: message})
}
