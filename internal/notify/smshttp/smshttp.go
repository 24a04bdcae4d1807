// Package smshttp sends SMS messages through an HTTP gateway that accepts
// JSON webhooks.
package smshttp

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

// ErrNotConfigured is returned when no gateway URL is set. The dispatcher
// records it as a failed outcome.
var ErrNotConfigured = errors.New("smshttp: gateway URL not configured")

// Sender posts SMS messages to the gateway webhook.
type Sender struct {
	url    string
	apiKey string
	from   string
	client *http.Client
}

// New creates a new SMS sender. An empty URL leaves the channel disabled;
// from is the sender number and may be empty when the gateway assigns one.
func New(url, apiKey, from string) *Sender {
	return &Sender{
		url:    url,
		apiKey: apiKey,
		from:   from,
		client: &http.Client{Timeout: httpTimeout},
	}
}

// SendSMS posts one message to the gateway.
func (s *Sender) SendSMS(ctx context.Context, to, body string) error {
	if s.url == "" {
		return ErrNotConfigured
	}

	msg := map[string]string{
		"to":   to,
		"body": body,
	}
	if s.from != "" {
		msg["from"] = s.from
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("smshttp: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("smshttp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req) //nolint:gosec // G704: gateway URL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("smshttp: post gateway: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("smshttp: gateway returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
