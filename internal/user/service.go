package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/linnemanlabs/go-core/log"
)

// ErrInvalidInput is returned when registration input is malformed.
var ErrInvalidInput = errors.New("invalid registration input")

const minPasswordLen = 8

// TokenIssuer mints an auth token for a user ID. Satisfied by auth.Tokens.
type TokenIssuer interface {
	Issue(userID string) (string, error)
}

// Service is the business boundary for account operations.
type Service struct {
	store  Store
	tokens TokenIssuer
	logger log.Logger
	cost   int
	now    func() time.Time
}

// NewService creates a new account service. cost <= 0 selects the bcrypt
// default.
func NewService(store Store, tokens TokenIssuer, logger log.Logger, cost int) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		store:  store,
		tokens: tokens,
		logger: logger,
		cost:   cost,
		now:    time.Now,
	}
}

// RegisterParams holds the fields for creating an account.
type RegisterParams struct {
	Name     string
	Email    string
	Phone    string
	Password string
}

// Register creates an account with a bcrypt-hashed credential.
func (s *Service) Register(ctx context.Context, p RegisterParams) (*User, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))

	if p.Name == "" || p.Email == "" || !strings.Contains(p.Email, "@") {
		return nil, fmt.Errorf("name and email are required: %w", ErrInvalidInput)
	}
	if len(p.Password) < minPasswordLen {
		return nil, fmt.Errorf("password must be at least %d characters: %w", minPasswordLen, ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	u := &User{
		ID:           ulid.Make().String(),
		Name:         p.Name,
		Email:        p.Email,
		Phone:        strings.TrimSpace(p.Phone),
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "user registered", "user_id", u.ID)
	return u, nil
}

// Login verifies the credential and issues a bearer token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	u, ok, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}
	if !u.Active {
		return "", nil, ErrAccountDisabled
	}

	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}
	return token, u, nil
}

// Get retrieves a user by ID.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	u, ok, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

// RefreshLocation updates the user's last known location.
func (s *Service) RefreshLocation(ctx context.Context, id string, loc Location) error {
	if loc.At.IsZero() {
		loc.At = s.now()
	}
	return s.store.SetLocation(ctx, id, loc)
}
