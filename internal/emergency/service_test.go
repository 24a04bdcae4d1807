package emergency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/beacon/internal/alert"
	alertmem "github.com/linnemanlabs/beacon/internal/alert/memstore"
	"github.com/linnemanlabs/beacon/internal/contact"
	contactmem "github.com/linnemanlabs/beacon/internal/contact/memstore"
	"github.com/linnemanlabs/beacon/internal/live"
	"github.com/linnemanlabs/beacon/internal/user"
	usermem "github.com/linnemanlabs/beacon/internal/user/memstore"
)

// fakeDispatcher records dispatch calls and returns canned outcomes.
type fakeDispatcher struct {
	mu          sync.Mutex
	dispatched  int
	resolutions int
	lastAlert   *alert.Alert
	outcomes    []alert.Outcome
	resolved    chan struct{} // closed signal per resolution notice
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{resolved: make(chan struct{}, 4)}
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ *user.User, al *alert.Alert, contacts []*contact.Contact) []alert.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched++
	f.lastAlert = al
	if f.outcomes != nil {
		return f.outcomes
	}
	var out []alert.Outcome
	for _, c := range contacts {
		out = append(out, alert.Outcome{
			ContactID: c.ID,
			Channel:   alert.ChannelSMS,
			Status:    alert.DeliverySent,
		})
	}
	return out
}

func (f *fakeDispatcher) SendResolutionSMS(context.Context, *user.User, *alert.Alert, []*contact.Contact) {
	f.mu.Lock()
	f.resolutions++
	f.mu.Unlock()
	select {
	case f.resolved <- struct{}{}:
	default:
	}
}

// fakeHub collects published live events.
type fakeHub struct {
	mu     sync.Mutex
	events []live.Event
}

func (f *fakeHub) Publish(_ string, ev live.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeHub) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	svc        *Service
	alerts     *alertmem.Store
	contacts   *contactmem.Store
	users      *usermem.Store
	dispatcher *fakeDispatcher
	hub        *fakeHub
	user       *user.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		alerts:     alertmem.New(),
		contacts:   contactmem.New(),
		users:      usermem.New(),
		dispatcher: newFakeDispatcher(),
		hub:        &fakeHub{},
		user:       &user.User{ID: "u-1", Name: "Alice", Phone: "+15559999", Active: true},
	}
	if err := f.users.Create(context.Background(), f.user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	f.svc = NewService(f.alerts, f.contacts, f.users, f.dispatcher, f.hub, nil, nil)
	return f
}

func (f *fixture) addContact(t *testing.T, name, phone string) *contact.Contact {
	t.Helper()
	c, err := f.contacts.Add(context.Background(), f.user.ID, contact.Params{
		Name:     name,
		Phone:    phone,
		Relation: contact.RelationFriend,
		Prefs:    contact.Prefs{SMS: true},
	})
	if err != nil {
		t.Fatalf("add contact: %v", err)
	}
	return c
}

func validParams() ActivateParams {
	return ActivateParams{
		Location: alert.Location{Latitude: 40.7, Longitude: -74.0, Address: "1 Main St"},
		Message:  "need help",
	}
}

func TestActivate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addContact(t, "Bob", "+15550001")
	f.addContact(t, "Carol", "+15550002")

	sum, err := f.svc.Activate(context.Background(), f.user, validParams())
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}

	if sum.AlertID == "" {
		t.Error("summary has empty alert ID")
	}
	if sum.Status != alert.StatusActive {
		t.Errorf("summary status = %q, want active", sum.Status)
	}
	if sum.NotifiedContacts != 2 {
		t.Errorf("NotifiedContacts = %d, want 2", sum.NotifiedContacts)
	}
	if sum.ActivatedAt.IsZero() {
		t.Error("ActivatedAt is zero")
	}

	// The record was created with type defaulted to panic and outcomes
	// persisted.
	al, err := f.svc.Get(context.Background(), f.user, sum.AlertID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if al.Type != alert.TypePanic {
		t.Errorf("Type = %q, want defaulted panic", al.Type)
	}
	if len(al.Outcomes) != 2 {
		t.Errorf("persisted outcomes = %d, want 2", len(al.Outcomes))
	}

	// User's last known location was refreshed.
	u, _, _ := f.users.GetByID(context.Background(), f.user.ID)
	if u.LastLocation == nil || u.LastLocation.Latitude != 40.7 {
		t.Errorf("LastLocation = %+v, want refreshed", u.LastLocation)
	}

	// A live event went out.
	if got := f.hub.types(); len(got) != 1 || got[0] != live.EventAlertActivated {
		t.Errorf("events = %v, want one activation event", got)
	}
}

func TestActivate_InvalidLocation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addContact(t, "Bob", "+15550001")

	for _, p := range []ActivateParams{
		{Location: alert.Location{Latitude: 91, Longitude: 0}},
		{Location: alert.Location{Latitude: 0, Longitude: 181}},
		{Location: alert.Location{Latitude: -91, Longitude: 0}},
	} {
		if _, err := f.svc.Activate(context.Background(), f.user, p); !errors.Is(err, ErrInvalidLocation) {
			t.Errorf("Activate(%+v) err = %v, want ErrInvalidLocation", p.Location, err)
		}
	}
	if f.dispatcher.dispatched != 0 {
		t.Error("dispatch ran for invalid activation")
	}
}

func TestActivate_InvalidType(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addContact(t, "Bob", "+15550001")

	p := validParams()
	p.Type = "tornado"
	if _, err := f.svc.Activate(context.Background(), f.user, p); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("Activate err = %v, want ErrInvalidType", err)
	}
}

func TestActivate_NoContacts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.svc.Activate(context.Background(), f.user, validParams())
	if !errors.Is(err, ErrNoContacts) {
		t.Fatalf("Activate err = %v, want ErrNoContacts", err)
	}

	// Refused before any record was created.
	hist, _ := f.alerts.History(context.Background(), f.user.ID, 10)
	if len(hist) != 0 {
		t.Fatalf("alerts = %d after refused activation, want 0", len(hist))
	}
	if f.dispatcher.dispatched != 0 {
		t.Error("dispatch ran without contacts")
	}
}

func TestActivate_AllDeliveriesFailedStillActive(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.addContact(t, "Bob", "+15550001")
	f.dispatcher.outcomes = []alert.Outcome{
		{ContactID: c.ID, Channel: alert.ChannelSMS, Status: alert.DeliveryFailed, Error: "down"},
	}

	sum, err := f.svc.Activate(context.Background(), f.user, validParams())
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if sum.Status != alert.StatusActive {
		t.Errorf("status = %q, want active even with every delivery failed", sum.Status)
	}

	al, _ := f.svc.Get(context.Background(), f.user, sum.AlertID)
	if len(al.Outcomes) != 1 || al.Outcomes[0].Status != alert.DeliveryFailed {
		t.Errorf("outcomes = %+v, want the failure captured", al.Outcomes)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addContact(t, "Bob", "+15550001")

	sum, err := f.svc.Activate(context.Background(), f.user, validParams())
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}

	al, err := f.svc.Resolve(context.Background(), f.user, sum.AlertID, "", "made it home")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if al.Status != alert.StatusResolved {
		t.Errorf("status = %q, want resolved", al.Status)
	}
	if al.Resolution == nil {
		t.Fatal("Resolution is nil")
	}
	if al.Resolution.Outcome != "resolved" {
		t.Errorf("Outcome = %q, want defaulted %q", al.Resolution.Outcome, "resolved")
	}
	if al.Resolution.Notes != "made it home" {
		t.Errorf("Notes = %q", al.Resolution.Notes)
	}
	if al.Resolution.ResolvedBy != f.user.ID {
		t.Errorf("ResolvedBy = %q, want caller", al.Resolution.ResolvedBy)
	}

	// Live event for the resolution.
	if got := f.hub.types(); len(got) != 2 || got[1] != live.EventAlertResolved {
		t.Errorf("events = %v, want activation then resolution", got)
	}

	// Async all-clear went out.
	select {
	case <-f.dispatcher.resolved:
	case <-time.After(2 * time.Second):
		t.Fatal("resolution notice never dispatched")
	}
}

func TestResolve_ExactlyOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addContact(t, "Bob", "+15550001")

	sum, _ := f.svc.Activate(context.Background(), f.user, validParams())
	if _, err := f.svc.Resolve(context.Background(), f.user, sum.AlertID, "safe", ""); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}

	if _, err := f.svc.Resolve(context.Background(), f.user, sum.AlertID, "safe", ""); !errors.Is(err, alert.ErrInvalidTransition) {
		t.Fatalf("second Resolve err = %v, want ErrInvalidTransition", err)
	}
	if _, err := f.svc.MarkFalseAlarm(context.Background(), f.user, sum.AlertID); !errors.Is(err, alert.ErrInvalidTransition) {
		t.Fatalf("MarkFalseAlarm after resolve err = %v, want ErrInvalidTransition", err)
	}
}

func TestResolve_NotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.Resolve(context.Background(), f.user, "nonexistent", "", "")
	if !errors.Is(err, alert.ErrNotFound) {
		t.Fatalf("Resolve err = %v, want ErrNotFound", err)
	}
}

func TestMarkFalseAlarm(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addContact(t, "Bob", "+15550001")

	sum, _ := f.svc.Activate(context.Background(), f.user, validParams())
	al, err := f.svc.MarkFalseAlarm(context.Background(), f.user, sum.AlertID)
	if err != nil {
		t.Fatalf("MarkFalseAlarm: %v", err)
	}
	if al.Status != alert.StatusFalseAlarm {
		t.Errorf("status = %q, want false-alarm", al.Status)
	}

	if got := f.hub.types(); len(got) != 2 || got[1] != live.EventAlertFalseAlarm {
		t.Errorf("events = %v, want activation then false-alarm", got)
	}
}

func TestGet_WrongUser(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addContact(t, "Bob", "+15550001")
	sum, _ := f.svc.Activate(context.Background(), f.user, validParams())

	other := &user.User{ID: "u-2", Active: true}
	_, err := f.svc.Get(context.Background(), other, sum.AlertID)
	if !errors.Is(err, alert.ErrNotFound) {
		t.Fatalf("Get err = %v, want ErrNotFound for another user", err)
	}
}

func TestActiveAndHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addContact(t, "Bob", "+15550001")
	ctx := context.Background()

	first, _ := f.svc.Activate(ctx, f.user, validParams())
	second, _ := f.svc.Activate(ctx, f.user, validParams())
	if _, err := f.svc.Resolve(ctx, f.user, first.AlertID, "safe", ""); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	active, err := f.svc.Active(ctx, f.user)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(active) != 1 || active[0].ID != second.AlertID {
		t.Fatalf("active = %+v, want just the second alert", active)
	}

	hist, err := f.svc.History(ctx, f.user, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history = %d, want 2", len(hist))
	}
}

func TestActivate_NilHub(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.svc = NewService(f.alerts, f.contacts, f.users, f.dispatcher, nil, nil, nil)
	f.addContact(t, "Bob", "+15550001")

	if _, err := f.svc.Activate(context.Background(), f.user, validParams()); err != nil {
		t.Fatalf("Activate with nil hub: %v", err)
	}
}
