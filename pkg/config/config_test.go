package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, DriverRedis, cfg.CacheDriver)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, 30*time.Minute, cfg.SnapshotTTL)
	assert.Equal(t, 5, cfg.LockoutThreshold)
	assert.Equal(t, 15*time.Minute, cfg.LockoutWindow)
	assert.Equal(t, "admin", cfg.AdminRole)
	assert.Equal(t, []string{"manager"}, cfg.ManagerRoles)
	assert.Empty(t, cfg.TrustedProxies)
	assert.Equal(t, "host=localhost port=5432 user=identitycore password=dev dbname=identitycore sslmode=disable", cfg.Database.DSN())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("CACHE_DRIVER", "memory")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/idc?sslmode=require")
	t.Setenv("TOKEN_TTL_MINUTES", "5")
	t.Setenv("LOCKOUT_THRESHOLD", "3")
	t.Setenv("MANAGER_ROLES", "manager, support ,")
	t.Setenv("CACHE_BREAKER_OPEN_SECONDS", "2")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, 5*time.Minute, cfg.TokenTTL)
	assert.Equal(t, 3, cfg.LockoutThreshold)
	assert.Equal(t, []string{"manager", "support"}, cfg.ManagerRoles)
	assert.Equal(t, 2*time.Second, cfg.CacheBreakerOpenTimeout)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.1"}, cfg.TrustedProxies)
	assert.Equal(t, "postgres://u:p@db:5432/idc?sslmode=require", cfg.Database.DSN())
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{}},
		{"short secret", map[string]string{"JWT_SECRET": "short"}},
		{"bad port", map[string]string{"SERVER_PORT": "eighty"}},
		{"bad driver", map[string]string{"STORE_DRIVER": "mysql"}},
		{"zero ttl", map[string]string{"TOKEN_TTL_MINUTES": "0"}},
		{"admin without password", map[string]string{"BOOTSTRAP_ADMIN_USERNAME": "root"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "0123456789abcdef0123")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if tc.name == "missing secret" {
				t.Setenv("JWT_SECRET", "")
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
