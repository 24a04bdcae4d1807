package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/beacon/internal/alert"
)

func newAlert(id, userID string, activatedAt time.Time) *alert.Alert {
	return &alert.Alert{
		ID:          id,
		UserID:      userID,
		Type:        alert.TypePanic,
		Status:      alert.StatusActive,
		Location:    alert.Location{Latitude: 40.7, Longitude: -74.0},
		ActivatedAt: activatedAt,
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, newAlert("a-1", "u-1", time.Now())); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, ok, err := s.Get(ctx, "a-1", "u-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected alert to be found")
	}
	if got.ID != "a-1" {
		t.Errorf("ID = %q, want %q", got.ID, "a-1")
	}
	if got.Status != alert.StatusActive {
		t.Errorf("Status = %q, want %q", got.Status, alert.StatusActive)
	}
}

func TestStore_GetWrongUser(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, newAlert("a-1", "u-1", time.Now())); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, ok, err := s.Get(ctx, "a-1", "u-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for another user's alert")
	}
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()

	s := New()
	_, ok, err := s.Get(context.Background(), "nonexistent", "u-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing ID")
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, newAlert("a-1", "u-1", time.Now())); err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, _, _ := s.Get(ctx, "a-1", "u-1")
	first.Status = alert.StatusCancelled
	first.Outcomes = append(first.Outcomes, alert.Outcome{ContactID: "c-1"})

	second, _, _ := s.Get(ctx, "a-1", "u-1")
	if second.Status != alert.StatusActive {
		t.Errorf("Status = %q after mutating a returned copy, want %q", second.Status, alert.StatusActive)
	}
	if len(second.Outcomes) != 0 {
		t.Errorf("Outcomes = %d after mutating a returned copy, want 0", len(second.Outcomes))
	}
}

func TestStore_Resolve(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	activated := time.Now().Add(-90 * time.Second)
	if err := s.Create(ctx, newAlert("a-1", "u-1", activated)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Resolve(ctx, "a-1", "u-1", alert.Resolution{
		Outcome:    "safe",
		Notes:      "false scare",
		ResolvedBy: "u-1",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Status != alert.StatusResolved {
		t.Errorf("Status = %q, want %q", got.Status, alert.StatusResolved)
	}
	if got.Resolution == nil || got.Resolution.Outcome != "safe" {
		t.Errorf("Resolution = %+v, want outcome %q", got.Resolution, "safe")
	}
	if got.DeactivatedAt.IsZero() {
		t.Error("DeactivatedAt is zero after resolve")
	}
	if got.DurationSeconds < 89 || got.DurationSeconds > 91 {
		t.Errorf("DurationSeconds = %d, want ~90", got.DurationSeconds)
	}
}

func TestStore_ResolveTwice(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, newAlert("a-1", "u-1", time.Now())); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := s.Resolve(ctx, "a-1", "u-1", alert.Resolution{Outcome: "safe"}); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	_, err := s.Resolve(ctx, "a-1", "u-1", alert.Resolution{Outcome: "safe"})
	if !errors.Is(err, alert.ErrInvalidTransition) {
		t.Fatalf("second Resolve err = %v, want ErrInvalidTransition", err)
	}
}

func TestStore_ResolveMissing(t *testing.T) {
	t.Parallel()

	s := New()
	_, err := s.Resolve(context.Background(), "nonexistent", "u-1", alert.Resolution{})
	if !errors.Is(err, alert.ErrNotFound) {
		t.Fatalf("Resolve err = %v, want ErrNotFound", err)
	}
}

func TestStore_ResolveWrongUser(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, newAlert("a-1", "u-1", time.Now())); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err := s.Resolve(ctx, "a-1", "u-2", alert.Resolution{})
	if !errors.Is(err, alert.ErrNotFound) {
		t.Fatalf("Resolve err = %v, want ErrNotFound for another user's alert", err)
	}
}

func TestStore_MarkFalseAlarm(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, newAlert("a-1", "u-1", time.Now())); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.MarkFalseAlarm(ctx, "a-1", "u-1")
	if err != nil {
		t.Fatalf("MarkFalseAlarm: %v", err)
	}
	if got.Status != alert.StatusFalseAlarm {
		t.Errorf("Status = %q, want %q", got.Status, alert.StatusFalseAlarm)
	}

	// A false-alarm record cannot be resolved afterwards.
	if _, err := s.Resolve(ctx, "a-1", "u-1", alert.Resolution{}); !errors.Is(err, alert.ErrInvalidTransition) {
		t.Fatalf("Resolve after false alarm err = %v, want ErrInvalidTransition", err)
	}
}

func TestStore_FalseAlarmAfterResolve(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, newAlert("a-1", "u-1", time.Now())); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := s.Resolve(ctx, "a-1", "u-1", alert.Resolution{Outcome: "safe"}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := s.MarkFalseAlarm(ctx, "a-1", "u-1"); !errors.Is(err, alert.ErrInvalidTransition) {
		t.Fatalf("MarkFalseAlarm after resolve err = %v, want ErrInvalidTransition", err)
	}
}

func TestStore_DurationNeverNegative(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	// Activation timestamped in the future, e.g. from a client with clock skew.
	if err := s.Create(ctx, newAlert("a-1", "u-1", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.MarkFalseAlarm(ctx, "a-1", "u-1")
	if err != nil {
		t.Fatalf("MarkFalseAlarm: %v", err)
	}
	if got.DurationSeconds != 0 {
		t.Errorf("DurationSeconds = %d for future activation, want 0", got.DurationSeconds)
	}
}

func TestStore_ActiveForUser(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	base := time.Now()
	for i := 0; i < 3; i++ {
		al := newAlert(fmt.Sprintf("a-%d", i), "u-1", base.Add(time.Duration(i)*time.Minute))
		if err := s.Create(ctx, al); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := s.Resolve(ctx, "a-1", "u-1", alert.Resolution{Outcome: "safe"}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	active, err := s.ActiveForUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("ActiveForUser: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("len(active) = %d, want 2", len(active))
	}
	// Most recent first.
	if active[0].ID != "a-2" || active[1].ID != "a-0" {
		t.Errorf("active order = [%s %s], want [a-2 a-0]", active[0].ID, active[1].ID)
	}
}

func TestStore_HistoryOrderAndLimit(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	base := time.Now()
	for i := 0; i < 5; i++ {
		al := newAlert(fmt.Sprintf("a-%d", i), "u-1", base.Add(time.Duration(i)*time.Minute))
		if err := s.Create(ctx, al); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	hist, err := s.History(ctx, "u-1", 3)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("len(hist) = %d, want 3", len(hist))
	}
	for i, want := range []string{"a-4", "a-3", "a-2"} {
		if hist[i].ID != want {
			t.Errorf("hist[%d].ID = %q, want %q", i, hist[i].ID, want)
		}
	}
}

func TestStore_HistoryOtherUserEmpty(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, newAlert("a-1", "u-1", time.Now())); err != nil {
		t.Fatalf("Create: %v", err)
	}

	hist, err := s.History(ctx, "u-2", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 0 {
		t.Fatalf("len(hist) = %d for another user, want 0", len(hist))
	}
}

func TestStore_SetOutcomes(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, newAlert("a-1", "u-1", time.Now())); err != nil {
		t.Fatalf("Create: %v", err)
	}

	outcomes := []alert.Outcome{
		{ContactID: "c-1", Channel: alert.ChannelSMS, Status: alert.DeliverySent},
		{ContactID: "c-1", Channel: alert.ChannelEmail, Status: alert.DeliveryFailed, Error: "bounce"},
	}
	if err := s.SetOutcomes(ctx, "a-1", outcomes); err != nil {
		t.Fatalf("SetOutcomes: %v", err)
	}

	got, _, _ := s.Get(ctx, "a-1", "u-1")
	if len(got.Outcomes) != 2 {
		t.Fatalf("len(Outcomes) = %d, want 2", len(got.Outcomes))
	}
	if got.Outcomes[1].Error != "bounce" {
		t.Errorf("Outcomes[1].Error = %q, want %q", got.Outcomes[1].Error, "bounce")
	}
}

func TestStore_SetOutcomesMissing(t *testing.T) {
	t.Parallel()

	s := New()
	err := s.SetOutcomes(context.Background(), "nonexistent", nil)
	if !errors.Is(err, alert.ErrNotFound) {
		t.Fatalf("SetOutcomes err = %v, want ErrNotFound", err)
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("a-%d", n)
			_ = s.Create(ctx, newAlert(id, "u-1", time.Now()))
			_, _, _ = s.Get(ctx, id, "u-1")
			_, _ = s.ActiveForUser(ctx, "u-1")
			_, _ = s.MarkFalseAlarm(ctx, id, "u-1")
		}(i)
	}
	wg.Wait()

	hist, err := s.History(ctx, "u-1", 100)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 20 {
		t.Fatalf("len(hist) = %d, want 20", len(hist))
	}
}
