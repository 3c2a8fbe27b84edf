package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
	"github.com/aryan0dhankhar/identitycore/internal/security/middleware"
	"github.com/aryan0dhankhar/identitycore/internal/service"
)

// MessageResponse acknowledges a request that returns no resource.
type MessageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decode reads a single JSON object, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.Validation("invalid request body")
	}
	return nil
}

// fail writes err and logs system errors with their cause.
func fail(w http.ResponseWriter, r *http.Request, err error, log *slog.Logger) {
	if domain.CodeOf(err) == domain.CodeSystemError {
		log.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	middleware.WriteError(w, err)
}

func caller(r *http.Request) (*domain.Identity, error) {
	id, ok := service.IdentityFromContext(r.Context())
	if !ok {
		return nil, domain.ErrTokenMalformed
	}
	return id, nil
}
