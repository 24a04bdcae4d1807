// Package notify implements the contact-notification fan-out: given an
// alert and the user's contacts, it attempts each enabled channel per
// contact independently and concurrently, capturing every outcome and
// never failing the caller.
package notify

import "context"

// SMSSender delivers a plain-text message to a phone number.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// EmailSender delivers an HTML message to an address.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, htmlBody string) error
}

// PushPayload is the push notification body for an alert.
type PushPayload struct {
	AlertID   string  `json:"alert_id"`
	UserID    string  `json:"user_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Title     string  `json:"title"`
	Body      string  `json:"body"`
}

// PushSender delivers a push notification addressed by phone number, which
// the provider maps to registered devices.
type PushSender interface {
	SendPush(ctx context.Context, to string, payload PushPayload) error
}

// Hooks are optional observation points the dispatcher calls as it works.
// Wired to Prometheus by the emergency metrics; nil funcs are skipped.
type Hooks struct {
	// OnAttempt fires once per channel attempt with its final status.
	OnAttempt func(channel, status string)

	// OnDispatch fires once per dispatch with the contact count, total
	// outcome count and wall time in seconds.
	OnDispatch func(contacts, outcomes int, duration float64)
}
