package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
)

func memoryEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-test-secret-0123456789")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("CACHE_DRIVER", "memory")
	t.Setenv("BCRYPT_COST", "4")
	t.Setenv("LOG_LEVEL", "error")
}

func TestHashPassword(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"hash-password", "-password", "Correct1!", "-cost", "4"}, &out))

	hash := strings.TrimSpace(out.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("Correct1!")))
}

func TestHashPasswordRejectsWeakPassword(t *testing.T) {
	err := run(context.Background(), []string{"hash-password", "-password", "x"}, &bytes.Buffer{})
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
}

func TestUsageErrors(t *testing.T) {
	assert.ErrorIs(t, run(context.Background(), nil, &bytes.Buffer{}), errUsage)
	assert.ErrorIs(t, run(context.Background(), []string{"frobnicate"}, &bytes.Buffer{}), errUsage)

	memoryEnv(t)
	assert.ErrorIs(t, run(context.Background(), []string{"unlock"}, &bytes.Buffer{}), errUsage)
	assert.ErrorIs(t, run(context.Background(), []string{"invalidate"}, &bytes.Buffer{}), errUsage)
}

func TestBootstrapCommand(t *testing.T) {
	memoryEnv(t)
	t.Setenv("BOOTSTRAP_ADMIN_USERNAME", "root")
	t.Setenv("BOOTSTRAP_ADMIN_EMAIL", "root@example.com")
	t.Setenv("BOOTSTRAP_ADMIN_PASSWORD", "Bootstrap1!")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"bootstrap"}, &out))
	assert.Contains(t, out.String(), "administrator root bootstrapped")
}

func TestOperatorCommandsOnUnknownUser(t *testing.T) {
	memoryEnv(t)

	err := run(context.Background(), []string{"unlock", "-user", "missing"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"invalidate", "u-1", "u-2"}, &out))
	assert.Contains(t, out.String(), "invalidated 2 snapshot(s)")

	err = run(context.Background(), []string{"revoke", "-token", "not-a-jwt"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, domain.ErrTokenMalformed)
}
