// Package memstore provides an in-memory implementation of alert.Store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/beacon/internal/alert"
)

const defaultHistoryLimit = 50

// Store holds alert records in memory. Suitable for dev/testing.
type Store struct {
	mu     sync.RWMutex
	alerts map[string]*alert.Alert // alert ID -> record
	byUser map[string][]string     // user ID -> alert IDs in creation order
	now    func() time.Time
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		alerts: make(map[string]*alert.Alert),
		byUser: make(map[string][]string),
		now:    time.Now,
	}
}

// SetClock overrides the store clock. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Create stores a copy of the alert.
func (s *Store) Create(_ context.Context, al *alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := clone(al)
	s.alerts[al.ID] = cp
	s.byUser[al.UserID] = append(s.byUser[al.UserID], al.ID)
	return nil
}

// Get retrieves an alert by ID scoped to the owning user. Returns a copy.
func (s *Store) Get(_ context.Context, id, userID string) (*alert.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	al, ok := s.alerts[id]
	if !ok || al.UserID != userID {
		return nil, false, nil
	}
	return clone(al), true, nil
}

// ActiveForUser returns the user's active alerts, most recent first.
func (s *Store) ActiveForUser(_ context.Context, userID string) ([]*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*alert.Alert
	for _, id := range s.byUser[userID] {
		if al := s.alerts[id]; al.Status == alert.StatusActive {
			out = append(out, clone(al))
		}
	}
	sortRecentFirst(out)
	return out, nil
}

// History returns up to limit alerts for the user, most recent first.
func (s *Store) History(_ context.Context, userID string, limit int) ([]*alert.Alert, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*alert.Alert
	for _, id := range s.byUser[userID] {
		out = append(out, clone(s.alerts[id]))
	}
	sortRecentFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Resolve transitions an active alert to resolved.
func (s *Store) Resolve(_ context.Context, id, userID string, res alert.Resolution) (*alert.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	al, err := s.activeAlert(id, userID)
	if err != nil {
		return nil, err
	}
	al.Status = alert.StatusResolved
	r := res
	if r.ResolvedAt.IsZero() {
		r.ResolvedAt = s.now()
	}
	al.Resolution = &r
	al.DeactivatedAt = r.ResolvedAt
	al.DurationSeconds = durationSeconds(al.ActivatedAt, al.DeactivatedAt)
	return clone(al), nil
}

// MarkFalseAlarm transitions an active alert to false-alarm.
func (s *Store) MarkFalseAlarm(_ context.Context, id, userID string) (*alert.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	al, err := s.activeAlert(id, userID)
	if err != nil {
		return nil, err
	}
	al.Status = alert.StatusFalseAlarm
	al.DeactivatedAt = s.now()
	al.DurationSeconds = durationSeconds(al.ActivatedAt, al.DeactivatedAt)
	return clone(al), nil
}

// durationSeconds clamps at zero so client clock skew on the activation
// timestamp cannot produce a negative duration.
func durationSeconds(from, to time.Time) int64 {
	d := int64(to.Sub(from) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}

// SetOutcomes replaces the alert's notification outcome list.
func (s *Store) SetOutcomes(_ context.Context, id string, outcomes []alert.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	al, ok := s.alerts[id]
	if !ok {
		return alert.ErrNotFound
	}
	al.Outcomes = append([]alert.Outcome(nil), outcomes...)
	return nil
}

// activeAlert looks up an alert owned by userID and verifies it is still
// active. Callers must hold the write lock.
func (s *Store) activeAlert(id, userID string) (*alert.Alert, error) {
	al, ok := s.alerts[id]
	if !ok || al.UserID != userID {
		return nil, alert.ErrNotFound
	}
	if al.Status != alert.StatusActive {
		return nil, alert.ErrInvalidTransition
	}
	return al, nil
}

func sortRecentFirst(alerts []*alert.Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].ActivatedAt.After(alerts[j].ActivatedAt)
	})
}

func clone(al *alert.Alert) *alert.Alert {
	cp := *al
	cp.Outcomes = append([]alert.Outcome(nil), al.Outcomes...)
	if al.Resolution != nil {
		r := *al.Resolution
		cp.Resolution = &r
	}
	return &cp
}
