package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lockdown-auth/lockdown/internal/auth"
	"github.com/lockdown-auth/lockdown/internal/models"
	"github.com/lockdown-auth/lockdown/internal/services"
	pkghttp "github.com/lockdown-auth/lockdown/pkg/http"
)

// LoginGateInterface defines the gate operations the handler drives
type LoginGateInterface interface {
	Authenticate(ctx context.Context, verifier services.CredentialVerifier, username, password, ip, userAgent string) (*services.Decision, error)
	RegisterPreCheck(ctx context.Context, ip, username, userAgent string) *services.Decision
}

// AuthHandler handles the protected login and registration endpoints
type AuthHandler struct {
	gate     LoginGateInterface
	verifier services.CredentialVerifier
	timing   *auth.TimingDelay
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(gate LoginGateInterface, verifier services.CredentialVerifier, timing *auth.TimingDelay, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		gate:     gate,
		verifier: verifier,
		timing:   timing,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=255"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest represents the request body for a registration pre-check
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=1,max=255"`
}

// LoginResponse represents a successful login
type LoginResponse struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username"`
}

// GateDeniedResponse tells the caller why and for how long access is denied
type GateDeniedResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RemainingAttempts *int   `json:"remaining_attempts,omitempty"`
	RetryAfterSeconds *int64 `json:"retry_after_seconds,omitempty"`
}

// Login verifies credentials through the gate
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	ipAddress := pkghttp.ResolveClientIP(r, h.ipConfig)
	userAgent := r.Header.Get("User-Agent")

	decision, err := h.gate.Authenticate(r.Context(), h.verifier, req.Username, req.Password, ipAddress, userAgent)

	if h.timing != nil {
		h.timing.WaitFrom(start, err == nil)
	}

	if err != nil {
		h.writeGateError(w, decision, err)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Authenticated: true,
		Username:      req.Username,
	})
}

// Register runs the registration pre-check for a prospective username
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	ipAddress := pkghttp.ResolveClientIP(r, h.ipConfig)
	userAgent := r.Header.Get("User-Agent")

	decision := h.gate.RegisterPreCheck(r.Context(), ipAddress, req.Username, userAgent)
	if !decision.Allowed {
		h.writeGateError(w, decision, decision.Reason)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"allowed":  true,
		"username": req.Username,
	})
}

// writeGateError maps gate errors to HTTP responses. Credential failures and
// blocked usernames share one message to prevent user enumeration.
func (h *AuthHandler) writeGateError(w http.ResponseWriter, decision *services.Decision, err error) {
	switch {
	case errors.Is(err, models.ErrLockedOut):
		resp := GateDeniedResponse{
			Error:   "locked_out",
			Message: "Too many failed login attempts. Please try again later.",
		}
		if decision != nil && decision.LockoutRemaining > 0 {
			secs := int64(decision.LockoutRemaining.Round(time.Second).Seconds())
			resp.RetryAfterSeconds = &secs
		}
		writeJSON(w, http.StatusTooManyRequests, resp)

	case errors.Is(err, models.ErrIPBlacklisted):
		pkghttp.WriteForbidden(w, "Access denied")

	case errors.Is(err, models.ErrUsernameBlocked):
		pkghttp.WriteForbidden(w, "This username is not allowed")

	case errors.Is(err, models.ErrStorageUnavailable):
		pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")

	case errors.Is(err, models.ErrUnauthorized):
		resp := GateDeniedResponse{
			Error:   "unauthorized",
			Message: "Authentication failed",
		}
		if decision != nil {
			remaining := decision.RemainingAttempts
			resp.RemainingAttempts = &remaining
			if decision.LockoutRemaining > 0 {
				secs := int64(decision.LockoutRemaining.Round(time.Second).Seconds())
				resp.RetryAfterSeconds = &secs
				resp.Error = "locked_out"
				resp.Message = "Too many failed login attempts. Please try again later."
				writeJSON(w, http.StatusTooManyRequests, resp)
				return
			}
		}
		writeJSON(w, http.StatusUnauthorized, resp)

	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}
