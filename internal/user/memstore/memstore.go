// Package memstore provides an in-memory implementation of user.Store.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/beacon/internal/user"
)

// Store holds accounts in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	users   map[string]*user.User // user ID -> record
	byEmail map[string]string     // email -> user ID
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		users:   make(map[string]*user.User),
		byEmail: make(map[string]string),
	}
}

// Create persists a copy of the user.
func (s *Store) Create(_ context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[u.Email]; taken {
		return fmt.Errorf("email %s: %w", u.Email, user.ErrEmailTaken)
	}
	cp := clone(u)
	s.users[u.ID] = cp
	s.byEmail[u.Email] = u.ID
	return nil
}

// GetByID retrieves a user by ID. Returns a copy.
func (s *Store) GetByID(_ context.Context, id string) (*user.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, false, nil
	}
	return clone(u), true, nil
}

// GetByEmail retrieves a user by email. Returns a copy.
func (s *Store) GetByEmail(_ context.Context, email string) (*user.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, false, nil
	}
	return clone(s.users[id]), true, nil
}

// SetLocation updates the user's last known location.
func (s *Store) SetLocation(_ context.Context, id string, loc user.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return user.ErrNotFound
	}
	l := loc
	u.LastLocation = &l
	u.UpdatedAt = time.Now()
	return nil
}

// SetActive toggles the account flag. Test hook for deactivated-account
// paths.
func (s *Store) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return user.ErrNotFound
	}
	u.Active = active
	return nil
}

func clone(u *user.User) *user.User {
	cp := *u
	cp.PasswordHash = append([]byte(nil), u.PasswordHash...)
	if u.LastLocation != nil {
		l := *u.LastLocation
		cp.LastLocation = &l
	}
	return &cp
}
