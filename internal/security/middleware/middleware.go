package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
	"github.com/aryan0dhankhar/identitycore/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/identitycore/internal/security/auth"
	"github.com/aryan0dhankhar/identitycore/internal/security/ratelimit"
	"github.com/aryan0dhankhar/identitycore/internal/service"
)

type tokenKey struct{}

// TokenFromContext returns the raw bearer token of an authenticated request.
func TokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey{}).(string)
	return t
}

// isPublic matches exact paths, or prefixes when the entry ends in "/".
func isPublic(public []string, path string) bool {
	for _, p := range public {
		if p == path || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}

// Authenticate runs the request gate on every non-public path and attaches
// the caller identity and token to the request context.
func Authenticate(gate *service.Gate, public []string, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(public, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token, err := auth.ExtractToken(r.Header.Get("Authorization"))
			if err != nil {
				WriteError(w, err)
				return
			}

			id, err := gate.Authenticate(r.Context(), token)
			if err != nil {
				log.Debug("request rejected",
					slog.String("path", r.URL.Path),
					slog.String("code", string(domain.CodeOf(err))),
					slog.String("request_id", logger.RequestID(r.Context())),
				)
				WriteError(w, err)
				return
			}

			ctx := service.ContextWithIdentity(r.Context(), id)
			ctx = context.WithValue(ctx, tokenKey{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRoles admits callers holding at least one of roles. It must run
// after Authenticate.
func RequireRoles(gate *service.Gate, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := service.IdentityFromContext(r.Context())
			if !ok {
				WriteError(w, domain.ErrTokenMalformed)
				return
			}
			if err := gate.RequireRole(id, roles...); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit throttles the listed paths per client address.
func RateLimit(limiter *ratelimit.Limiter, paths []string, proxies TrustedProxies, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isPublic(paths, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			ip := proxies.ClientIP(r)
			if !limiter.Allow(ip) {
				log.Warn("rate limit exceeded",
					slog.String("client_ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				http.Error(w, `{"error":"RATE_LIMITED","message":"too many requests"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID tags each request with an id, taken from X-Request-ID when the
// caller supplies one, and logs its completion.
func RequestID(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" || len(reqID) > 128 {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", reqID)

			ctx := logger.WithRequestID(r.Context(), reqID)
			start := time.Now()

			next.ServeHTTP(w, r.WithContext(ctx))

			log.Info("request completed",
				slog.String("request_id", reqID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// CORS honors the configured origins.
func CORS(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if originAllowed(allowed, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, X-Request-ID")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return false
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}
