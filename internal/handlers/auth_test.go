package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lockdown-auth/lockdown/internal/handlers"
	"github.com/lockdown-auth/lockdown/internal/models"
	"github.com/lockdown-auth/lockdown/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockLoginGate implements LoginGateInterface for testing
type MockLoginGate struct {
	AuthenticateFunc     func(ctx context.Context, verifier services.CredentialVerifier, username, password, ip, userAgent string) (*services.Decision, error)
	RegisterPreCheckFunc func(ctx context.Context, ip, username, userAgent string) *services.Decision
}

func (m *MockLoginGate) Authenticate(ctx context.Context, verifier services.CredentialVerifier, username, password, ip, userAgent string) (*services.Decision, error) {
	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx, verifier, username, password, ip, userAgent)
	}
	return &services.Decision{Allowed: true}, nil
}

func (m *MockLoginGate) RegisterPreCheck(ctx context.Context, ip, username, userAgent string) *services.Decision {
	if m.RegisterPreCheckFunc != nil {
		return m.RegisterPreCheckFunc(ctx, ip, username, userAgent)
	}
	return &services.Decision{Allowed: true}
}

type allowVerifier struct{}

func (allowVerifier) Verify(ctx context.Context, username, password string) error { return nil }

func newAuthHandler(gate *MockLoginGate) *handlers.AuthHandler {
	return handlers.NewAuthHandler(gate, allowVerifier{}, nil, nil)
}

func doLogin(t *testing.T, handler *handlers.AuthHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.Login(rec, req)
	return rec
}

func TestAuthHandlerLogin_Success(t *testing.T) {
	gate := &MockLoginGate{}
	rec := doLogin(t, newAuthHandler(gate), `{"username":"alice","password":"hunter2"}`)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Authenticated)
	assert.Equal(t, "alice", resp.Username)
}

func TestAuthHandlerLogin_InvalidBody(t *testing.T) {
	rec := doLogin(t, newAuthHandler(&MockLoginGate{}), `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthHandlerLogin_MissingPassword(t *testing.T) {
	rec := doLogin(t, newAuthHandler(&MockLoginGate{}), `{"username":"alice"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthHandlerLogin_WrongCredentials(t *testing.T) {
	gate := &MockLoginGate{
		AuthenticateFunc: func(ctx context.Context, verifier services.CredentialVerifier, username, password, ip, userAgent string) (*services.Decision, error) {
			return &services.Decision{Allowed: true, RemainingAttempts: 2}, models.ErrUnauthorized
		},
	}

	rec := doLogin(t, newAuthHandler(gate), `{"username":"alice","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp handlers.GateDeniedResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.RemainingAttempts)
	assert.Equal(t, 2, *resp.RemainingAttempts)
}

func TestAuthHandlerLogin_LockedOutIncludesRetryAfter(t *testing.T) {
	gate := &MockLoginGate{
		AuthenticateFunc: func(ctx context.Context, verifier services.CredentialVerifier, username, password, ip, userAgent string) (*services.Decision, error) {
			return &services.Decision{LockoutRemaining: 30 * time.Minute, Reason: models.ErrLockedOut}, models.ErrLockedOut
		},
	}

	rec := doLogin(t, newAuthHandler(gate), `{"username":"alice","password":"hunter2"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	var resp handlers.GateDeniedResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "locked_out", resp.Error)
	require.NotNil(t, resp.RetryAfterSeconds)
	assert.Equal(t, int64(1800), *resp.RetryAfterSeconds)
}

func TestAuthHandlerLogin_BlacklistedIPForbidden(t *testing.T) {
	gate := &MockLoginGate{
		AuthenticateFunc: func(ctx context.Context, verifier services.CredentialVerifier, username, password, ip, userAgent string) (*services.Decision, error) {
			return &services.Decision{Reason: models.ErrIPBlacklisted}, models.ErrIPBlacklisted
		},
	}

	rec := doLogin(t, newAuthHandler(gate), `{"username":"alice","password":"hunter2"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthHandlerLogin_StorageUnavailable(t *testing.T) {
	gate := &MockLoginGate{
		AuthenticateFunc: func(ctx context.Context, verifier services.CredentialVerifier, username, password, ip, userAgent string) (*services.Decision, error) {
			return &services.Decision{Reason: models.ErrStorageUnavailable}, models.ErrStorageUnavailable
		},
	}

	rec := doLogin(t, newAuthHandler(gate), `{"username":"alice","password":"hunter2"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuthHandlerRegister_Allowed(t *testing.T) {
	gate := &MockLoginGate{}
	handler := newAuthHandler(gate)

	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(`{"username":"carol"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.Register(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthHandlerRegister_BlockedUsername(t *testing.T) {
	gate := &MockLoginGate{
		RegisterPreCheckFunc: func(ctx context.Context, ip, username, userAgent string) *services.Decision {
			return &services.Decision{Allowed: false, Reason: models.ErrUsernameBlocked}
		},
	}
	handler := newAuthHandler(gate)

	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(`{"username":"admin"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.Register(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
