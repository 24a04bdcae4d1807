// Package pushhttp sends push notifications through a push provider's HTTP
// API. The provider resolves the recipient phone number to the user's
// registered devices.
package pushhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/beacon/internal/notify"
)

const httpTimeout = 10 * time.Second

// ErrNotConfigured is returned when no provider URL is set.
var ErrNotConfigured = errors.New("pushhttp: provider URL not configured")

// Sender posts push notifications to the provider API.
type Sender struct {
	url    string
	apiKey string
	client *http.Client
}

// New creates a new push sender. An empty URL leaves the channel disabled.
func New(url, apiKey string) *Sender {
	return &Sender{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: httpTimeout},
	}
}

// SendPush posts one notification to the provider.
func (s *Sender) SendPush(ctx context.Context, to string, payload notify.PushPayload) error {
	if s.url == "" {
		return ErrNotConfigured
	}

	body, err := json.Marshal(map[string]any{
		"to":   to,
		"data": payload,
	})
	if err != nil {
		return fmt.Errorf("pushhttp: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("pushhttp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req) //nolint:gosec // G704: provider URL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("pushhttp: post provider: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pushhttp: provider returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
