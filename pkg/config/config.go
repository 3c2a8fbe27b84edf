package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store and cache drivers.
const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Config holds the application configuration
type Config struct {
	Environment        string
	ServerPort         int
	LogLevel           string
	CORSAllowedOrigins []string
	TrustedProxies     []string

	StoreDriver string
	Database    DatabaseConfig

	CacheDriver string
	RedisURL    string

	JWTSecret   string
	JWTIssuer   string
	TokenTTL    time.Duration
	SnapshotTTL time.Duration
	BcryptCost  int

	LockoutThreshold int
	LockoutWindow    time.Duration

	AdminRole    string
	ManagerRoles []string
	DefaultRole  string

	BootstrapAdmin BootstrapAdmin

	CacheBreakerFailures    int
	CacheBreakerOpenTimeout time.Duration

	StartupRetryAttempts int

	LoginRateLimit int

	OTLPEndpoint string
}

// DatabaseConfig locates the Postgres credential store. URL wins over the
// individual fields when set.
type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// BootstrapAdmin seeds the first administrator when Username is set.
type BootstrapAdmin struct {
	Username string
	Email    string
	Password string
	TenantID string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	port, err := intEnv("SERVER_PORT", 8080)
	if err != nil {
		return nil, err
	}
	dbPort, err := intEnv("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}
	tokenTTL, err := minutesEnv("TOKEN_TTL_MINUTES", 60)
	if err != nil {
		return nil, err
	}
	snapshotTTL, err := minutesEnv("SNAPSHOT_TTL_MINUTES", 30)
	if err != nil {
		return nil, err
	}
	lockoutWindow, err := minutesEnv("LOCKOUT_WINDOW_MINUTES", 15)
	if err != nil {
		return nil, err
	}
	lockoutThreshold, err := intEnv("LOCKOUT_THRESHOLD", 5)
	if err != nil {
		return nil, err
	}
	bcryptCost, err := intEnv("BCRYPT_COST", 12)
	if err != nil {
		return nil, err
	}
	breakerFailures, err := intEnv("CACHE_BREAKER_FAILURES", 5)
	if err != nil {
		return nil, err
	}
	breakerOpenSeconds, err := intEnv("CACHE_BREAKER_OPEN_SECONDS", 10)
	if err != nil {
		return nil, err
	}
	retryAttempts, err := intEnv("STARTUP_RETRY_ATTEMPTS", 5)
	if err != nil {
		return nil, err
	}
	loginRateLimit, err := intEnv("LOGIN_RATE_LIMIT_PER_MINUTE", 30)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment:        getEnv("ENVIRONMENT", "development"),
		ServerPort:         port,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: parseCSVEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		TrustedProxies:     parseCSVEnv("TRUSTED_PROXIES", nil),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", DriverPostgres)),
		Database: DatabaseConfig{
			URL:      os.Getenv("DATABASE_URL"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "identitycore"),
			Password: getEnv("DB_PASSWORD", "dev"),
			Name:     getEnv("DB_NAME", "identitycore"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},

		CacheDriver: strings.ToLower(getEnv("CACHE_DRIVER", DriverRedis)),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),

		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTIssuer:   getEnv("JWT_ISSUER", "identitycore"),
		TokenTTL:    tokenTTL,
		SnapshotTTL: snapshotTTL,
		BcryptCost:  bcryptCost,

		LockoutThreshold: lockoutThreshold,
		LockoutWindow:    lockoutWindow,

		AdminRole:    getEnv("ADMIN_ROLE", "admin"),
		ManagerRoles: parseCSVEnv("MANAGER_ROLES", []string{"manager"}),
		DefaultRole:  getEnv("DEFAULT_ROLE", "member"),

		BootstrapAdmin: BootstrapAdmin{
			Username: os.Getenv("BOOTSTRAP_ADMIN_USERNAME"),
			Email:    os.Getenv("BOOTSTRAP_ADMIN_EMAIL"),
			Password: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),
			TenantID: getEnv("BOOTSTRAP_ADMIN_TENANT", "default"),
		},

		CacheBreakerFailures:    breakerFailures,
		CacheBreakerOpenTimeout: time.Duration(breakerOpenSeconds) * time.Second,

		StartupRetryAttempts: retryAttempts,
		LoginRateLimit:       loginRateLimit,

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 bytes")
	}
	switch c.StoreDriver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.CacheDriver {
	case DriverRedis, DriverMemory:
	default:
		return fmt.Errorf("invalid CACHE_DRIVER %q", c.CacheDriver)
	}
	if c.TokenTTL <= 0 || c.SnapshotTTL <= 0 || c.LockoutWindow <= 0 {
		return fmt.Errorf("token, snapshot and lockout durations must be positive")
	}
	if c.LockoutThreshold <= 0 {
		return fmt.Errorf("LOCKOUT_THRESHOLD must be positive")
	}
	if c.BootstrapAdmin.Username != "" && c.BootstrapAdmin.Password == "" {
		return fmt.Errorf("BOOTSTRAP_ADMIN_PASSWORD is required with BOOTSTRAP_ADMIN_USERNAME")
	}
	return nil
}

// DSN returns the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func intEnv(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func minutesEnv(key string, defaultMinutes int) (time.Duration, error) {
	v, err := intEnv(key, defaultMinutes)
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * time.Minute, nil
}

func parseCSVEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
