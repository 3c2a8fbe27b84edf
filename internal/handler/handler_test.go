package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
	"github.com/aryan0dhankhar/identitycore/internal/repository"
	"github.com/aryan0dhankhar/identitycore/internal/security/middleware"
	"github.com/aryan0dhankhar/identitycore/internal/service"
	"github.com/aryan0dhankhar/identitycore/pkg/cache"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type testAPI struct {
	store   *repository.MemoryStore
	handler http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := repository.NewMemoryStore()
	store.AddRole("admin", "Administrator", "")
	store.AddRole("member", "Member", "")
	store.AddPermission("user:read", domain.PermissionActive)
	require.NoError(t, store.SetRolePermissions(context.Background(), "member", []string{"user:read"}))

	core, err := service.NewCore(service.NewCollaborators(store, cache.New()), service.Options{
		TokenSecret: "handler-test-secret-0123456789",
		TokenTTL:    time.Hour,
		BcryptCost:  bcrypt.MinCost,
		DefaultRole: "member",
	}, quietLogger())
	require.NoError(t, err)

	return &testAPI{store: store, handler: NewAPI(core, quietLogger())}
}

func (a *testAPI) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) register(t *testing.T, username, tenantID string) domain.PublicUser {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/auth/register", "",
		`{"username":"`+username+`","email":"`+username+`@example.com","password":"Correct1!","tenantId":"`+tenantID+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var pub domain.PublicUser
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&pub))
	return pub
}

func (a *testAPI) login(t *testing.T, identifier string) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/auth/login", "", `{"identifier":"`+identifier+`","password":"Correct1!"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res service.LoginResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	return res.Token
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body middleware.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error
}

func TestLoginFlow(t *testing.T) {
	api := newTestAPI(t)
	api.register(t, "alice", "tenant-a")

	rec := api.do(t, http.MethodPost, "/api/auth/login", "", `{"identifier":"alice","password":"Wr0ng!"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, rec))

	token := api.login(t, "alice@example.com")

	rec = api.do(t, http.MethodGet, "/api/auth/me", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var me domain.Identity
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&me))
	assert.Equal(t, "alice", me.Username)
	assert.Equal(t, []string{"user:read"}, me.Permissions)

	rec = api.do(t, http.MethodPost, "/api/auth/logout", token, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/auth/me", token, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_REVOKED", errorCode(t, rec))
}

func TestLockedAccountResponse(t *testing.T) {
	api := newTestAPI(t)
	api.register(t, "alice", "tenant-a")

	var rec *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		rec = api.do(t, http.MethodPost, "/api/auth/login", "", `{"identifier":"alice","password":"Wr0ng!"}`)
	}
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "ACCOUNT_LOCKED", errorCode(t, rec))
}

func TestRegisterValidation(t *testing.T) {
	api := newTestAPI(t)
	api.register(t, "alice", "tenant-a")

	rec := api.do(t, http.MethodPost, "/api/auth/register", "",
		`{"username":"alice","email":"new@example.com","password":"Correct1!","tenantId":"tenant-a"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))

	rec = api.do(t, http.MethodPost, "/api/auth/register", "", `{"username":"bob","unexpected":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChangePasswordEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.register(t, "alice", "tenant-a")
	token := api.login(t, "alice")

	rec := api.do(t, http.MethodPost, "/api/auth/password", token, `{"oldPassword":"nope","newPassword":"N3wPassword"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/auth/password", token, `{"oldPassword":"Correct1!","newPassword":"N3wPassword"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUserEndpoints(t *testing.T) {
	api := newTestAPI(t)
	root := api.register(t, "root", "tenant-root")
	alice := api.register(t, "alice", "tenant-a")
	bob := api.register(t, "bob", "tenant-b")
	require.NoError(t, api.store.AssignRoles(context.Background(), root.ID, []string{"admin"}))
	rootToken := api.login(t, "root")
	aliceToken := api.login(t, "alice")

	rec := api.do(t, http.MethodGet, "/api/users/"+alice.ID, aliceToken, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/users/"+bob.ID, aliceToken, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "INSUFFICIENT_PERMISSIONS", errorCode(t, rec))

	rec = api.do(t, http.MethodGet, "/api/users/"+bob.ID+"/permissions", rootToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var perms PermissionsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&perms))
	assert.Equal(t, []string{"user:read"}, perms.Permissions)

	rec = api.do(t, http.MethodPatch, "/api/users/"+alice.ID, aliceToken, `{"phone":"+15550100"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/users/"+alice.ID+"/lock", rootToken, `{"minutes":30}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = api.do(t, http.MethodPost, "/api/auth/login", "", `{"identifier":"alice","password":"Correct1!"}`)
	assert.Equal(t, http.StatusLocked, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/users/"+alice.ID+"/unlock", rootToken, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	api.login(t, "alice")

	rec = api.do(t, http.MethodPost, "/api/users/"+bob.ID+"/disable", rootToken, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = api.do(t, http.MethodPost, "/api/users/"+bob.ID+"/enable", rootToken, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodPut, "/api/users/"+alice.ID+"/roles", aliceToken, `{"roles":["admin"]}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodPut, "/api/roles/member/permissions", aliceToken, `{"permissions":[]}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "INSUFFICIENT_PERMISSIONS", errorCode(t, rec))

	rec = api.do(t, http.MethodPut, "/api/roles/member/permissions", rootToken, `{"permissions":[]}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = api.do(t, http.MethodGet, "/api/auth/me", aliceToken, "")
	var me domain.Identity
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&me))
	assert.Empty(t, me.Permissions)

	rec = api.do(t, http.MethodPost, "/api/users/"+bob.ID+"/password", rootToken, `{"password":"Reset2Password"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodDelete, "/api/users/"+bob.ID, rootToken, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = api.do(t, http.MethodGet, "/api/users/"+bob.ID, rootToken, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/api/auth/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_MALFORMED", errorCode(t, rec))
}

func TestReadiness(t *testing.T) {
	healthy := PingFunc(func(context.Context) error { return nil })
	broken := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	h := NewHealthHandler(map[string]Pinger{"postgres": healthy, "redis": healthy}, quietLogger())
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h = NewHealthHandler(map[string]Pinger{"postgres": healthy, "redis": broken}, quietLogger())
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body ReadinessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Equal(t, "error: connection refused", body.Checks["redis"])

	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
