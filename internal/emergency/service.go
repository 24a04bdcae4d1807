package emergency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/beacon/internal/alert"
	"github.com/linnemanlabs/beacon/internal/contact"
	"github.com/linnemanlabs/beacon/internal/live"
	"github.com/linnemanlabs/beacon/internal/user"
)

// ErrInvalidLocation is returned when activation coordinates are missing or
// out of range.
var ErrInvalidLocation = errors.New("invalid location")

// ErrInvalidType is returned when the activation names an unknown alert type.
var ErrInvalidType = errors.New("invalid alert type")

// ErrNoContacts is returned when a user with no active contacts tries to
// activate an alert. The activation is refused before any record is
// created: an alert nobody would be notified about is not an alert.
var ErrNoContacts = errors.New("no emergency contacts configured")

// Dispatcher fans an alert out to a contact set. Satisfied by
// notify.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, u *user.User, al *alert.Alert, contacts []*contact.Contact) []alert.Outcome
	SendResolutionSMS(ctx context.Context, u *user.User, al *alert.Alert, contacts []*contact.Contact)
}

// Publisher delivers best-effort live events. Satisfied by live.Hub.
type Publisher interface {
	Publish(userID string, ev live.Event)
}

// LocationStore is the slice of user.Store the orchestrator needs to keep
// the user's last known location fresh.
type LocationStore interface {
	SetLocation(ctx context.Context, id string, loc user.Location) error
}

// ActivateParams carries a panic activation request.
type ActivateParams struct {
	Location alert.Location
	Type     alert.Type // empty means panic
	Message  string
}

// Summary is what an activation returns to the caller: enough to render a
// confirmation, deliberately not per-channel results.
type Summary struct {
	AlertID          string         `json:"alert_id"`
	Status           alert.Status   `json:"status"`
	Location         alert.Location `json:"location"`
	NotifiedContacts int            `json:"notified_contacts"`
	ActivatedAt      time.Time      `json:"activated_at"`
}

// Service is the alert orchestrator.
type Service struct {
	alerts     alert.Store
	contacts   contact.Store
	users      LocationStore
	dispatcher Dispatcher
	hub        Publisher // optional
	logger     log.Logger
	metrics    *Metrics // optional
	now        func() time.Time
}

// NewService creates the orchestrator. hub and metrics may be nil.
func NewService(alerts alert.Store, contacts contact.Store, users LocationStore, dispatcher Dispatcher, hub Publisher, logger log.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		alerts:     alerts,
		contacts:   contacts,
		users:      users,
		dispatcher: dispatcher,
		hub:        hub,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Activate runs the panic flow: validate, load contacts, create the record,
// refresh the user's location, dispatch, persist outcomes, emit the live
// event.
//
// Validation and the empty-contact check happen before any side effect.
// Everything after record creation is best-effort: a user who managed to
// press the panic button gets an active alert even if a follow-up write
// fails.
func (s *Service) Activate(ctx context.Context, u *user.User, p ActivateParams) (*Summary, error) {
	if !p.Location.Valid() {
		s.countActivation("invalid_location")
		return nil, fmt.Errorf("latitude %v, longitude %v: %w",
			p.Location.Latitude, p.Location.Longitude, ErrInvalidLocation)
	}
	if p.Type == "" {
		p.Type = alert.TypePanic
	}
	if !p.Type.Valid() {
		s.countActivation("invalid_type")
		return nil, fmt.Errorf("alert type %q: %w", p.Type, ErrInvalidType)
	}

	contacts, err := s.contacts.ListActive(ctx, u.ID)
	if err != nil {
		s.countActivation("error")
		return nil, fmt.Errorf("load contacts: %w", err)
	}
	if len(contacts) == 0 {
		s.countActivation("no_contacts")
		return nil, ErrNoContacts
	}

	al := &alert.Alert{
		ID:          ulid.Make().String(),
		UserID:      u.ID,
		Type:        p.Type,
		Status:      alert.StatusActive,
		Location:    p.Location,
		Message:     p.Message,
		ActivatedAt: s.now(),
	}
	if err := s.alerts.Create(ctx, al); err != nil {
		s.countActivation("error")
		return nil, fmt.Errorf("create alert: %w", err)
	}

	L := s.logger.With("alert_id", al.ID, "user_id", u.ID)
	L.Info(ctx, "alert activated", "type", string(al.Type), "contacts", len(contacts))

	if err := s.users.SetLocation(ctx, u.ID, user.Location{
		Latitude:  p.Location.Latitude,
		Longitude: p.Location.Longitude,
		Address:   p.Location.Address,
		At:        al.ActivatedAt,
	}); err != nil {
		L.Warn(ctx, "refresh user location failed", "error", err)
	}

	outcomes := s.dispatcher.Dispatch(ctx, u, al, contacts)

	if err := s.alerts.SetOutcomes(ctx, al.ID, outcomes); err != nil {
		L.Error(ctx, err, "persist notification outcomes failed")
	}
	al.Outcomes = outcomes

	s.publish(u.ID, live.EventAlertActivated, al)
	s.countActivation("activated")

	return &Summary{
		AlertID:          al.ID,
		Status:           al.Status,
		Location:         al.Location,
		NotifiedContacts: len(contacts),
		ActivatedAt:      al.ActivatedAt,
	}, nil
}

// Resolve transitions an active alert to resolved and sends the all-clear.
func (s *Service) Resolve(ctx context.Context, u *user.User, alertID, outcome, notes string) (*alert.Alert, error) {
	if outcome == "" {
		outcome = "resolved"
	}
	al, err := s.alerts.Resolve(ctx, alertID, u.ID, alert.Resolution{
		Outcome:    outcome,
		Notes:      notes,
		ResolvedBy: u.ID,
		ResolvedAt: s.now(),
	})
	if err != nil {
		return nil, err
	}
	s.countResolution(string(alert.StatusResolved))
	s.logger.Info(ctx, "alert resolved",
		"alert_id", al.ID, "user_id", u.ID, "duration_s", al.DurationSeconds)

	s.afterDeactivation(ctx, u, al, live.EventAlertResolved)
	return al, nil
}

// MarkFalseAlarm transitions an active alert to false-alarm and sends the
// all-clear.
func (s *Service) MarkFalseAlarm(ctx context.Context, u *user.User, alertID string) (*alert.Alert, error) {
	al, err := s.alerts.MarkFalseAlarm(ctx, alertID, u.ID)
	if err != nil {
		return nil, err
	}
	s.countResolution(string(alert.StatusFalseAlarm))
	s.logger.Info(ctx, "alert marked false alarm", "alert_id", al.ID, "user_id", u.ID)

	s.afterDeactivation(ctx, u, al, live.EventAlertFalseAlarm)
	return al, nil
}

// Get retrieves one of the caller's alerts.
func (s *Service) Get(ctx context.Context, u *user.User, alertID string) (*alert.Alert, error) {
	al, ok, err := s.alerts.Get(ctx, alertID, u.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, alert.ErrNotFound
	}
	return al, nil
}

// Active returns the caller's active alerts, most recent first.
func (s *Service) Active(ctx context.Context, u *user.User) ([]*alert.Alert, error) {
	return s.alerts.ActiveForUser(ctx, u.ID)
}

// History returns the caller's alerts, most recent first.
func (s *Service) History(ctx context.Context, u *user.User, limit int) ([]*alert.Alert, error) {
	return s.alerts.History(ctx, u.ID, limit)
}

// afterDeactivation publishes the live event and kicks off the async
// all-clear SMS. The notice outlives the request on purpose; there is no
// way to cancel it once the transition committed.
func (s *Service) afterDeactivation(ctx context.Context, u *user.User, al *alert.Alert, eventType string) {
	s.publish(u.ID, eventType, al)

	noticeCtx := context.WithoutCancel(ctx)
	go func() {
		contacts, err := s.contacts.ListActive(noticeCtx, u.ID)
		if err != nil {
			s.logger.Warn(noticeCtx, "load contacts for resolution notice failed",
				"alert_id", al.ID, "error", err)
			return
		}
		s.dispatcher.SendResolutionSMS(noticeCtx, u, al, contacts)
	}()
}

func (s *Service) publish(userID, eventType string, al *alert.Alert) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(userID, live.Event{Type: eventType, Data: al})
}

func (s *Service) countActivation(result string) {
	if s.metrics != nil {
		s.metrics.ActivationsTotal.WithLabelValues(result).Inc()
	}
}

func (s *Service) countResolution(status string) {
	if s.metrics != nil {
		s.metrics.ResolutionsTotal.WithLabelValues(status).Inc()
	}
}
