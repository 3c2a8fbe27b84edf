package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/aryan0dhankhar/identitycore/internal/app"
	"github.com/aryan0dhankhar/identitycore/internal/handler"
	"github.com/aryan0dhankhar/identitycore/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/identitycore/internal/observability/metrics"
	"github.com/aryan0dhankhar/identitycore/internal/observability/tracing"
	"github.com/aryan0dhankhar/identitycore/internal/security/middleware"
	"github.com/aryan0dhankhar/identitycore/internal/security/ratelimit"
	"github.com/aryan0dhankhar/identitycore/pkg/config"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize structured logger
	log := logger.NewLogger(cfg.LogLevel)
	log.Info("starting identitycore server", slog.String("environment", cfg.Environment))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Initialize tracing
	shutdownTracing, err := tracing.Init(ctx, log, tracing.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: "identitycore",
		Environment: cfg.Environment,
	})
	if err != nil {
		log.Error("failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Connect the credential store and cache, build the core
	rt, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Error("failed to start identity core", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. Seed the first administrator
	if cfg.BootstrapAdmin.Username != "" {
		if _, err := rt.Core.Bootstrap.EnsureAdmin(ctx, app.Seed(cfg)); err != nil {
			log.Error("admin bootstrap failed", slog.String("error", err.Error()))
			_ = rt.Close()
			os.Exit(1)
		}
	}

	// 6. Setup HTTP routes
	proxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Error("invalid TRUSTED_PROXIES", slog.String("error", err.Error()))
		_ = rt.Close()
		os.Exit(1)
	}
	limiter := ratelimit.NewLimiter(cfg.LoginRateLimit, time.Minute)
	rootHandler := newRouter(rt, cfg, limiter, proxies, log)

	// 7. Start HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      otelhttp.NewHandler(rootHandler, "identitycore"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info("server starting",
		slog.Int("port", cfg.ServerPort),
		slog.String("store", cfg.StoreDriver),
		slog.String("cache", cfg.CacheDriver),
		slog.Int("login_rate_limit", cfg.LoginRateLimit),
	)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", slog.String("error", err.Error()))
			sigChan <- syscall.SIGTERM
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}

	cancel()
	limiter.Stop()
	if err := rt.Close(); err != nil {
		log.Error("failed to close connections", slog.String("error", err.Error()))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("failed to flush traces", slog.String("error", err.Error()))
	}
	log.Info("server stopped")
}

// newRouter mounts health, metrics and the API, then chains middleware:
// request ID -> CORS -> metrics -> login throttle.
func newRouter(rt *app.Runtime, cfg *config.Config, limiter *ratelimit.Limiter, proxies middleware.TrustedProxies, log *slog.Logger) http.Handler {
	health := handler.NewHealthHandler(rt.Checks, log)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health.Health)
	mux.HandleFunc("GET /readyz", health.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/api/", handler.NewAPI(rt.Core, log))

	return middleware.RequestID(log)(
		middleware.CORS(cfg.CORSAllowedOrigins)(
			metrics.HTTPMetricsMiddleware(
				middleware.RateLimit(limiter, handler.PublicPaths, proxies, log)(mux),
			),
		),
	)
}
