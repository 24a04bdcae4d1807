// Package user defines the account domain: registration, login and the
// last-known-location record that alert activation keeps fresh.
package user

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a user does not exist.
var ErrNotFound = errors.New("user not found")

// ErrEmailTaken is returned when registering with an email that already has
// an account.
var ErrEmailTaken = errors.New("email already registered")

// ErrInvalidCredentials is returned when login fails. Unknown email and
// wrong password are indistinguishable on purpose.
var ErrInvalidCredentials = errors.New("invalid email or password")

// ErrAccountDisabled is returned when acting as a deactivated account.
var ErrAccountDisabled = errors.New("account is deactivated")

// Location is the user's last known position.
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Address   string    `json:"address,omitempty"`
	At        time.Time `json:"at"`
}

// User is one registered account.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone,omitempty"`
	PasswordHash []byte    `json:"-"`
	Active       bool      `json:"is_active"`
	LastLocation *Location `json:"last_location,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store is the persistence interface for accounts.
type Store interface {
	// Create persists a new user. Fails with ErrEmailTaken on email
	// collision.
	Create(ctx context.Context, u *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id string) (*User, bool, error)

	// GetByEmail retrieves a user by email.
	GetByEmail(ctx context.Context, email string) (*User, bool, error)

	// SetLocation updates the user's last known location.
	SetLocation(ctx context.Context, id string, loc Location) error
}
