// Package emailhttp sends alert emails through a transactional email
// provider's HTTP API.
package emailhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const httpTimeout = 10 * time.Second

// ErrNotConfigured is returned when no provider URL is set.
var ErrNotConfigured = errors.New("emailhttp: provider URL not configured")

// Sender posts emails to the provider API.
type Sender struct {
	url    string
	apiKey string
	from   string
	client *http.Client
}

// New creates a new email sender. An empty URL leaves the channel disabled.
func New(url, apiKey, from string) *Sender {
	return &Sender{
		url:    url,
		apiKey: apiKey,
		from:   from,
		client: &http.Client{Timeout: httpTimeout},
	}
}

// SendEmail posts one HTML email to the provider.
func (s *Sender) SendEmail(ctx context.Context, to, subject, htmlBody string) error {
	if s.url == "" {
		return ErrNotConfigured
	}

	payload, err := json.Marshal(map[string]string{
		"from":    s.from,
		"to":      to,
		"subject": subject,
		"html":    htmlBody,
	})
	if err != nil {
		return fmt.Errorf("emailhttp: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("emailhttp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req) //nolint:gosec // G704: provider URL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("emailhttp: post provider: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("emailhttp: provider returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
