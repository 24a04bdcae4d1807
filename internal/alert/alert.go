// Package alert defines the emergency alert domain: the alert record, its
// status state machine, and the per-contact notification outcomes collected
// during dispatch.
package alert

import "time"

// Type categorizes what kind of emergency the user reported.
type Type string

const (
	TypePanic      Type = "panic"
	TypeMedical    Type = "medical"
	TypeAccident   Type = "accident"
	TypeHarassment Type = "harassment"
	TypeOther      Type = "other"
)

// Valid reports whether t is a known alert type.
func (t Type) Valid() bool {
	switch t {
	case TypePanic, TypeMedical, TypeAccident, TypeHarassment, TypeOther:
		return true
	}
	return false
}

// Status tracks where an alert is in its lifecycle. The only non-terminal
// state is active; every transition out of it is final.
type Status string

const (
	// StatusActive means the alert is live and contacts have been (or are
	// being) notified.
	StatusActive Status = "active"

	// StatusResolved means the situation was handled.
	StatusResolved Status = "resolved"

	// StatusFalseAlarm means the user marked the activation as accidental.
	StatusFalseAlarm Status = "false-alarm"

	// StatusCancelled means the alert was withdrawn before resolution.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are permitted from s.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusFalseAlarm || s == StatusCancelled
}

// Channel is a notification transport.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelCall  Channel = "call"
)

// DeliveryStatus is the recorded result of one channel attempt.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Location is where the alert was raised.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// Valid reports whether the coordinates are inside the WGS84 ranges.
func (l Location) Valid() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 &&
		l.Longitude >= -180 && l.Longitude <= 180
}

// Ack records a contact acknowledging an alert notification.
type Ack struct {
	Acknowledged bool      `json:"acknowledged"`
	At           time.Time `json:"at,omitempty"`
	Response     string    `json:"response,omitempty"`
}

// Outcome is the result of one channel attempt against one contact for one
// alert. Outcomes are append-only per alert.
type Outcome struct {
	ContactID   string         `json:"contact_id"`
	ContactName string         `json:"contact_name,omitempty"`
	Channel     Channel        `json:"channel"`
	Status      DeliveryStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	AttemptedAt time.Time      `json:"attempted_at"`
	Ack         *Ack           `json:"ack,omitempty"`
}

// Resolution captures how an active alert was closed out.
type Resolution struct {
	Outcome    string    `json:"outcome,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	ResolvedBy string    `json:"resolved_by,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Alert is one panic activation and everything that happened to it.
// Alerts are never deleted by the normal flow.
type Alert struct {
	ID       string   `json:"id"`
	UserID   string   `json:"user_id"`
	Type     Type     `json:"type"`
	Status   Status   `json:"status"`
	Location Location `json:"location"`
	Message  string   `json:"message,omitempty"`

	Outcomes   []Outcome   `json:"outcomes,omitempty"`
	Resolution *Resolution `json:"resolution,omitempty"`

	ActivatedAt   time.Time `json:"activated_at"`
	DeactivatedAt time.Time `json:"deactivated_at,omitempty"`

	// DurationSeconds is deactivation minus activation in whole seconds.
	DurationSeconds int64 `json:"duration_seconds,omitempty"`
}
