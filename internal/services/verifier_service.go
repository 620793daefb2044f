package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lockdown-auth/lockdown/internal/models"
)

// UpstreamVerifier checks credentials against the host credential store over
// HTTP. A 2xx response means the credentials are valid, 401 and 403 mean they
// are not; anything else is a transport error and surfaces as such.
type UpstreamVerifier struct {
	client    *http.Client
	verifyURL string
}

// NewUpstreamVerifier creates a new UpstreamVerifier
func NewUpstreamVerifier(verifyURL string, timeout time.Duration) *UpstreamVerifier {
	return &UpstreamVerifier{
		client:    &http.Client{Timeout: timeout},
		verifyURL: verifyURL,
	}
}

// Verify posts the credentials to the upstream endpoint
func (v *UpstreamVerifier) Verify(ctx context.Context, username, password string) error {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return fmt.Errorf("failed to encode verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("upstream verification failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return models.ErrUnauthorized
	default:
		return fmt.Errorf("upstream verification returned status %d", resp.StatusCode)
	}
}

// DenyAllVerifier refuses every credential pair. Used until an upstream
// credential store is configured so the service never accidentally fails open.
type DenyAllVerifier struct{}

// Verify always reports invalid credentials
func (DenyAllVerifier) Verify(ctx context.Context, username, password string) error {
	return models.ErrUnauthorized
}
