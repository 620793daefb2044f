package middleware_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lockdown-auth/lockdown/internal/middleware"
	"github.com/stretchr/testify/assert"
)

func serveLogged(t *testing.T, target string, redact ...string) string {
	t.Helper()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := middleware.SecureLogger(logger, redact...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, target, nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return buf.String()
}

func TestSecureLogger_RedactsConfiguredSlug(t *testing.T) {
	logged := serveLogged(t, "/?secure-login", "secure-login")

	assert.Contains(t, logged, "[REDACTED]")
	assert.NotContains(t, logged, "secure-login")
}

func TestSecureLogger_RedactsFixedKeywords(t *testing.T) {
	logged := serveLogged(t, "/auth/login?password=hunter2")

	assert.Contains(t, logged, "[REDACTED]")
	assert.NotContains(t, logged, "hunter2")
}

func TestSecureLogger_KeepsHarmlessQueries(t *testing.T) {
	logged := serveLogged(t, "/admin/attempts?page=2", "secure-login")

	assert.Contains(t, logged, "/admin/attempts?page=2")
	assert.NotContains(t, logged, "[REDACTED]")
}
