// Package memstore provides an in-memory implementation of contact.Store.
// The single store mutex makes the primary-exclusivity swap atomic, which
// is the same guarantee the PostgreSQL store gets from its transaction plus
// partial unique index.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/beacon/internal/contact"
)

// Store holds contacts in memory. Suitable for dev/testing.
type Store struct {
	mu       sync.RWMutex
	contacts map[string]*contact.Contact // contact ID -> record
	seq      map[string]int              // contact ID -> insertion order
	nextSeq  int
	now      func() time.Time
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		contacts: make(map[string]*contact.Contact),
		seq:      make(map[string]int),
		now:      time.Now,
	}
}

// SetClock overrides the store clock. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Add creates a contact, enforcing per-user phone uniqueness and primary
// exclusivity under the store lock.
func (s *Store) Add(_ context.Context, userID string, p contact.Params) (*contact.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.contacts {
		if c.UserID == userID && c.Phone == p.Phone {
			return nil, fmt.Errorf("phone %s: %w", p.Phone, contact.ErrDuplicatePhone)
		}
	}

	if p.Primary {
		s.demotePrimary(userID)
	}

	now := s.now()
	c := &contact.Contact{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Name:      p.Name,
		Phone:     p.Phone,
		Email:     p.Email,
		Relation:  p.Relation,
		Primary:   p.Primary,
		Active:    true,
		Prefs:     p.Prefs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.contacts[c.ID] = c
	s.seq[c.ID] = s.nextSeq
	s.nextSeq++

	cp := *c
	return &cp, nil
}

// ListActive returns the user's active contacts, primary first, then
// creation order.
func (s *Store) ListActive(_ context.Context, userID string) ([]*contact.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*contact.Contact
	for _, c := range s.contacts {
		if c.UserID == userID && c.Active {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Primary != out[j].Primary {
			return out[i].Primary
		}
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	return out, nil
}

// Update applies a patch to a contact owned by userID.
func (s *Store) Update(_ context.Context, id, userID string, patch contact.Patch) (*contact.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contacts[id]
	if !ok || c.UserID != userID {
		return nil, contact.ErrNotFound
	}

	if patch.Phone != nil && *patch.Phone != c.Phone {
		for _, other := range s.contacts {
			if other.ID != id && other.UserID == userID && other.Phone == *patch.Phone {
				return nil, fmt.Errorf("phone %s: %w", *patch.Phone, contact.ErrDuplicatePhone)
			}
		}
		c.Phone = *patch.Phone
	}
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Email != nil {
		c.Email = *patch.Email
	}
	if patch.Relation != nil {
		c.Relation = *patch.Relation
	}
	if patch.Prefs != nil {
		c.Prefs = *patch.Prefs
	}
	if patch.Active != nil {
		c.Active = *patch.Active
	}
	if patch.Primary != nil {
		if *patch.Primary && !c.Primary {
			s.demotePrimary(userID)
		}
		c.Primary = *patch.Primary
	}
	c.UpdatedAt = s.now()

	cp := *c
	return &cp, nil
}

// Delete removes a contact owned by userID.
func (s *Store) Delete(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contacts[id]
	if !ok || c.UserID != userID {
		return contact.ErrNotFound
	}
	delete(s.contacts, id)
	delete(s.seq, id)
	return nil
}

// RecordAlert bumps the alert counter and last-alert timestamp.
func (s *Store) RecordAlert(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contacts[id]
	if !ok {
		return contact.ErrNotFound
	}
	c.AlertCount++
	c.LastAlertAt = at
	return nil
}

// DeleteForUser removes all contacts owned by userID, mirroring the
// database cascade on user deletion.
func (s *Store) DeleteForUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.contacts {
		if c.UserID == userID {
			delete(s.contacts, id)
			delete(s.seq, id)
		}
	}
	return nil
}

// demotePrimary clears the primary flag across the user's contacts.
// Callers must hold the write lock.
func (s *Store) demotePrimary(userID string) {
	for _, c := range s.contacts {
		if c.UserID == userID && c.Primary {
			c.Primary = false
			c.UpdatedAt = s.now()
		}
	}
}
