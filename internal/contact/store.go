package contact

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a contact does not exist or belongs to a
// different user.
var ErrNotFound = errors.New("contact not found")

// ErrDuplicatePhone is returned when the phone number is already registered
// for the same user. The same phone under a different user is fine.
var ErrDuplicatePhone = errors.New("contact phone already registered")

// Store is the persistence interface for emergency contacts.
type Store interface {
	// Add creates a contact. When Primary is set, any existing primary
	// for the user is demoted in the same atomic step.
	Add(ctx context.Context, userID string, p Params) (*Contact, error)

	// ListActive returns the user's active contacts, primary first, then
	// creation order.
	ListActive(ctx context.Context, userID string) ([]*Contact, error)

	// Update applies a patch to a contact owned by userID. Primary
	// exclusivity is enforced the same way as Add.
	Update(ctx context.Context, id, userID string, patch Patch) (*Contact, error)

	// Delete removes a contact owned by userID.
	Delete(ctx context.Context, id, userID string) error

	// RecordAlert bumps the contact's alert counter and last-alert
	// timestamp after a successful notification. Best-effort; not atomic
	// with the send.
	RecordAlert(ctx context.Context, id string, at time.Time) error
}
