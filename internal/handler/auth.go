package handler

import (
	"log/slog"
	"net/http"

	"github.com/aryan0dhankhar/identitycore/internal/security/middleware"
	"github.com/aryan0dhankhar/identitycore/internal/service"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService *service.AuthService
	logger      *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *service.AuthService, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// LoginRequest carries a username, email or phone plus password.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// ChangePasswordRequest represents change password request
type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterInput
	if err := decode(r, &req); err != nil {
		fail(w, r, err, h.logger)
		return
	}

	user, err := h.authService.Register(r.Context(), req)
	if err != nil {
		fail(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, user, h.logger)
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err, h.logger)
		return
	}

	result, err := h.authService.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		fail(w, r, err, h.logger)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, result, h.logger)
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r)
	if err != nil {
		fail(w, r, err, h.logger)
		return
	}
	if err := h.authService.Logout(r.Context(), middleware.TokenFromContext(r.Context()), id); err != nil {
		fail(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r)
	if err != nil {
		fail(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, id, h.logger)
}

// ChangePassword handles POST /api/auth/password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r)
	if err != nil {
		fail(w, r, err, h.logger)
		return
	}

	var req ChangePasswordRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err, h.logger)
		return
	}

	if err := h.authService.ChangePassword(r.Context(), id, req.OldPassword, req.NewPassword); err != nil {
		fail(w, r, err, h.logger)
		return
	}

	h.logger.Info("user changed password", slog.String("user_id", id.UserID))
	writeJSON(w, http.StatusOK, MessageResponse{Message: "password changed"}, h.logger)
}
