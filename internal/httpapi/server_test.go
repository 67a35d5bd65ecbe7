package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/bloomkart/backend/internal/auth"
	"github.com/bloomkart/backend/internal/blacklist"
	"github.com/bloomkart/backend/internal/identity"
	"github.com/bloomkart/backend/internal/password"
	"github.com/bloomkart/backend/internal/token"
)

type testServer struct {
	handler    http.Handler
	identities *identity.MemoryStore
	revoked    *blacklist.MemoryStore
	hasher     password.Hasher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	codec, err := token.NewCodec(token.Config{
		SecretKey: []byte("0123456789abcdef0123456789abcdef"),
		Issuer:    "bloomkart",
	})
	require.NoError(t, err)

	identities := identity.NewMemoryStore()
	revoked := blacklist.NewMemoryStore()
	hasher := password.NewArgon2()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	authority, err := auth.NewAuthority(codec, identities, revoked, hasher, auth.Config{}, auth.Options{Logger: logger})
	require.NoError(t, err)

	handler := NewRouter(RouterConfig{
		Authority:      authority,
		Logger:         logger,
		AllowedOrigins: []string{"*"},
	})
	return &testServer{handler: handler, identities: identities, revoked: revoked, hasher: hasher}
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) registerUser(t *testing.T, email string) authResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name":     "Test User",
		"email":    email,
		"password": "pw-sufficiently-long",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)
	resp := s.registerUser(t, "a@x.com")
	require.Equal(t, "Bearer", resp.Type)
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)
	require.Equal(t, "a@x.com", resp.User.Email)
	require.Equal(t, "USER", resp.User.Role)
	require.Equal(t, (24 * time.Hour).Milliseconds(), resp.ExpiresIn)

	rec := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "a@x.com", "password": "pw-sufficiently-long",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Wrong password and unknown email produce identical responses.
	recWrong := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "a@x.com", "password": "wrong-password!!",
	})
	recUnknown := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "ghost@x.com", "password": "wrong-password!!",
	})
	require.Equal(t, http.StatusUnauthorized, recWrong.Code)
	require.Equal(t, recWrong.Body.String(), recUnknown.Body.String())
}

func TestRegisterDuplicateAndValidation(t *testing.T) {
	s := newTestServer(t)
	s.registerUser(t, "a@x.com")

	rec := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Again", "email": "A@X.COM", "password": "pw-sufficiently-long",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "X", "email": "not-an-email", "password": "short",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshRotationOverHTTP(t *testing.T) {
	s := newTestServer(t)
	resp := s.registerUser(t, "a@x.com")

	rec := s.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refreshToken": resp.RefreshToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var rotated authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rotated))
	require.NotEqual(t, resp.RefreshToken, rotated.RefreshToken)

	// Replay of the consumed token: generic 401, indistinguishable from a
	// forged or expired token.
	replay := s.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refreshToken": resp.RefreshToken,
	})
	forged := s.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refreshToken": "forged.token.value",
	})
	require.Equal(t, http.StatusUnauthorized, replay.Code)
	require.Equal(t, http.StatusUnauthorized, forged.Code)
	require.Equal(t, replay.Body.String(), forged.Body.String())
}

func TestProtectedRoutes(t *testing.T) {
	s := newTestServer(t)
	resp := s.registerUser(t, "a@x.com")

	// No token.
	rec := s.do(t, http.MethodGet, "/api/auth/profile", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Garbage token passes through the gate anonymously and is rejected by
	// the handler guard.
	rec = s.do(t, http.MethodGet, "/api/auth/profile", "garbage", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid token.
	rec = s.do(t, http.MethodGet, "/api/auth/profile", resp.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var user userResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	require.Equal(t, "a@x.com", user.Email)

	// A refresh token is not an access credential.
	rec = s.do(t, http.MethodGet, "/api/auth/profile", resp.RefreshToken, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBlacklistedAccessTokenShortCircuits(t *testing.T) {
	s := newTestServer(t)
	resp := s.registerUser(t, "a@x.com")

	require.NoError(t, s.revoked.Insert(context.Background(), blacklist.Entry{
		Token:     resp.AccessToken,
		UserID:    resp.User.ID,
		ExpiresAt: time.Now().Add(time.Hour),
		Reason:    blacklist.ReasonLogout,
	}))

	rec := s.do(t, http.MethodGet, "/api/auth/profile", resp.AccessToken, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "revoked")
}

func TestProfileUpdateOverHTTP(t *testing.T) {
	s := newTestServer(t)
	resp := s.registerUser(t, "a@x.com")

	rec := s.do(t, http.MethodPut, "/api/auth/profile", resp.AccessToken, map[string]string{
		"name": "Renamed", "phoneNumber": "+15550100",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var user userResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	require.Equal(t, "Renamed", user.Name)

	// Validation still applies behind the gate.
	rec = s.do(t, http.MethodPut, "/api/auth/profile", resp.AccessToken, map[string]string{
		"name": "",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogoutEndpoints(t *testing.T) {
	s := newTestServer(t)
	resp := s.registerUser(t, "a@x.com")

	rec := s.do(t, http.MethodPost, "/api/auth/logout", "", map[string]string{
		"refreshToken": resp.RefreshToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Logged out successfully")

	// The consumed token can no longer rotate.
	rec = s.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refreshToken": resp.RefreshToken,
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/logout-all", resp.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "All sessions logged out")
}

func TestSessionCount(t *testing.T) {
	s := newTestServer(t)
	resp := s.registerUser(t, "a@x.com")

	rec := s.do(t, http.MethodGet, "/api/auth/sessions/count", resp.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var count sessionCountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &count))
	require.Equal(t, int64(1), count.ActiveSessions)
}

func TestAdminLogoutAllRequiresRole(t *testing.T) {
	s := newTestServer(t)
	user := s.registerUser(t, "user@x.com")

	hash, err := s.hasher.Hash("admin-password-long")
	require.NoError(t, err)
	adminPrincipal, err := s.identities.Save(context.Background(), &identity.Principal{
		Name:         "Admin",
		Email:        "admin@x.com",
		Role:         identity.RoleAdmin,
		PasswordHash: hash,
		Enabled:      true,
	})
	require.NoError(t, err)

	rec := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "admin@x.com", "password": "admin-password-long",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var admin authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &admin))
	require.Equal(t, "ADMIN", admin.User.Role)
	require.Equal(t, adminPrincipal.ID, admin.User.ID)

	target := fmt.Sprintf("/api/admin/users/%d/logout-all", user.User.ID)

	rec = s.do(t, http.MethodPost, target, user.AccessToken, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, target, "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, target, admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// A stale bearer on a public route does not block it.
	rec = s.do(t, http.MethodGet, "/health", "garbage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
