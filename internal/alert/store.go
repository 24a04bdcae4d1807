package alert

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an alert does not exist or is not owned by
// the calling user. Ownership failures are indistinguishable from absence
// on purpose.
var ErrNotFound = errors.New("alert not found")

// ErrInvalidTransition is returned when a lifecycle change is attempted on
// an alert that is not in the active state.
var ErrInvalidTransition = errors.New("alert is not active")

// Store is the persistence interface for alert records.
type Store interface {
	// Create persists a new alert. The caller sets ID, status and
	// activation timestamp.
	Create(ctx context.Context, al *Alert) error

	// Get retrieves an alert by ID, scoped to the owning user.
	Get(ctx context.Context, id, userID string) (*Alert, bool, error)

	// ActiveForUser returns the user's alerts still in the active state,
	// most recent first.
	ActiveForUser(ctx context.Context, userID string) ([]*Alert, error)

	// History returns up to limit alerts for the user, most recent first.
	// A limit <= 0 applies the store default.
	History(ctx context.Context, userID string, limit int) ([]*Alert, error)

	// Resolve transitions an active alert to resolved, recording the
	// resolution block, the deactivation timestamp and the duration.
	// Fails with ErrInvalidTransition unless the current status is active.
	Resolve(ctx context.Context, id, userID string, res Resolution) (*Alert, error)

	// MarkFalseAlarm transitions an active alert to false-alarm. Same
	// precondition as Resolve.
	MarkFalseAlarm(ctx context.Context, id, userID string) (*Alert, error)

	// SetOutcomes replaces the alert's notification outcome list. Called
	// once by the orchestrator after dispatch settles.
	SetOutcomes(ctx context.Context, id string, outcomes []Outcome) error
}
