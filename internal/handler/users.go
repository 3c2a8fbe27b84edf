package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
	"github.com/aryan0dhankhar/identitycore/internal/service"
)

// UserHandler exposes the administrative user operations.
type UserHandler struct {
	users  *service.UserService
	logger *slog.Logger
}

// NewUserHandler creates a user handler.
func NewUserHandler(users *service.UserService, logger *slog.Logger) *UserHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserHandler{users: users, logger: logger}
}

// RolesRequest replaces a user's roles.
type RolesRequest struct {
	Roles []string `json:"roles"`
}

// PermissionsRequest replaces a role's permissions.
type PermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

// PermissionsResponse lists effective permission codes.
type PermissionsResponse struct {
	UserID      string   `json:"userId"`
	Permissions []string `json:"permissions"`
}

// LockRequest locks an account; zero minutes means the lockout window.
type LockRequest struct {
	Minutes int `json:"minutes"`
}

// ResetPasswordRequest sets a new password for another user.
type ResetPasswordRequest struct {
	Password string `json:"password"`
}

// Register mounts the routes on mux. Every route needs an authenticated
// caller. Role permission edits are mounted by NewAPI behind the admin
// role check.
func (h *UserHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/users/{id}", h.Get)
	mux.HandleFunc("PATCH /api/users/{id}", h.UpdateProfile)
	mux.HandleFunc("DELETE /api/users/{id}", h.Delete)
	mux.HandleFunc("GET /api/users/{id}/permissions", h.Permissions)
	mux.HandleFunc("PUT /api/users/{id}/roles", h.AssignRoles)
	mux.HandleFunc("POST /api/users/{id}/lock", h.Lock)
	mux.HandleFunc("POST /api/users/{id}/unlock", h.Unlock)
	mux.HandleFunc("POST /api/users/{id}/disable", h.Disable)
	mux.HandleFunc("POST /api/users/{id}/enable", h.Enable)
	mux.HandleFunc("POST /api/users/{id}/password", h.ResetPassword)
}

// Get handles GET /api/users/{id}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, err := caller(r)
	if err != nil {
		fail(w, r, err, h.logger)
		return
	}
	user, err := h.users.GetUser(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		fail(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, user, h.logger)
}

// UpdateProfile handles PATCH /api/users/{id}
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	actor, err := caller(r)
	if err != nil {
		fail(w, r, err, h.logger)
		return
	}
	var req service.ProfileUpdate
	if err := decode(r, &req); err != nil {
		fail(w, r, err, h.logger)
		return
	}
	user, err := h.users.UpdateProfile(r.Context(), actor, r.PathValue("id"), req)
	if err != nil {
		fail(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, user, h.logger)
}

// Permissions handles GET /api/users/{id}/permissions
func (h *UserHandler) Permissions(w http.ResponseWriter, r *http.Request) {
	actor, err := caller(r)
	if err != nil {
		fail(w, r, err, h.logger)
		return
	}
	userID := r.PathValue("id")
	perms, err := h.users.Permissions(r.Context(), actor, userID)
	if err != nil {
		fail(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, PermissionsResponse{UserID: userID, Permissions: perms}, h.logger)
}

// AssignRoles handles PUT /api/users/{id}/roles
func (h *UserHandler) AssignRoles(w http.ResponseWriter, r *http.Request) {
	actor, err := caller(r)
	if err != nil {
		fail(w, r, err, h.logger)
		return
	}
	var req RolesRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err, h.logger)
		return
	}
	h.done(w, r, h.users.AssignRoles(r.Context(), actor, r.PathValue("id"), req.Roles))
}

// SetRolePermissions handles PUT /api/roles/{code}/permissions
func (h *UserHandler) SetRolePermissions(w http.ResponseWriter, r *http.Request) {
	actor, err := caller(r)
	if err != nil {
		fail(w, r, err, h.logger)
		return
	}
	var req PermissionsRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err, h.logger)
		return
	}
	h.done(w, r, h.users.SetRolePermissions(r.Context(), actor, r.PathValue("code"), req.Permissions))
}

// Lock handles POST /api/users/{id}/lock
func (h *UserHandler) Lock(w http.ResponseWriter, r *http.Request) {
	actor, err := caller(r)
	if err != nil {
		fail(w, r, err, h.logger)
		return
	}
	var req LockRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			fail(w, r, err, h.logger)
			return
		}
	}
	if req.Minutes < 0 {
		fail(w, r, domain.Validation("minutes must not be negative"), h.logger)
		return
	}
	d := time.Duration(req.Minutes) * time.Minute
	h.done(w, r, h.users.LockUser(r.Context(), actor, r.PathValue("id"), d))
}

// Unlock handles POST /api/users/{id}/unlock
func (h *UserHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.users.UnlockUser)
}

// Disable handles POST /api/users/{id}/disable
func (h *UserHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.users.DisableUser)
}

// Enable handles POST /api/users/{id}/enable
func (h *UserHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.users.EnableUser)
}

// Delete handles DELETE /api/users/{id}
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.users.DeleteUser)
}

// ResetPassword handles POST /api/users/{id}/password
func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	actor, err := caller(r)
	if err != nil {
		fail(w, r, err, h.logger)
		return
	}
	var req ResetPasswordRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err, h.logger)
		return
	}
	h.done(w, r, h.users.ResetPassword(r.Context(), actor, r.PathValue("id"), req.Password))
}

func (h *UserHandler) lifecycle(w http.ResponseWriter, r *http.Request, op func(context.Context, *domain.Identity, string) error) {
	actor, err := caller(r)
	if err != nil {
		fail(w, r, err, h.logger)
		return
	}
	h.done(w, r, op(r.Context(), actor, r.PathValue("id")))
}

func (h *UserHandler) done(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		fail(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
