package handler

import (
	"log/slog"
	"net/http"

	"github.com/aryan0dhankhar/identitycore/internal/security/middleware"
	"github.com/aryan0dhankhar/identitycore/internal/service"
)

// PublicPaths are served without a bearer token.
var PublicPaths = []string{
	"/api/auth/login",
	"/api/auth/register",
}

// NewAPI mounts the auth and user routes behind the request gate.
func NewAPI(core *service.Core, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	authHandler := NewAuthHandler(core.Auth, logger)
	userHandler := NewUserHandler(core.Users, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/logout", authHandler.Logout)
	mux.HandleFunc("GET /api/auth/me", authHandler.Me)
	mux.HandleFunc("POST /api/auth/password", authHandler.ChangePassword)
	userHandler.Register(mux)
	adminOnly := middleware.RequireRoles(core.Gate, core.Resolver.Policy().AdminRole)
	mux.Handle("PUT /api/roles/{code}/permissions", adminOnly(http.HandlerFunc(userHandler.SetRolePermissions)))

	return middleware.ValidateJSONContentType(logger)(
		middleware.Authenticate(core.Gate, PublicPaths, logger)(mux),
	)
}
