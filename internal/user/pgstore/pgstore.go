// Package pgstore provides a PostgreSQL implementation of user.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/beacon/internal/user"
)

var tracer = otel.Tracer("github.com/linnemanlabs/beacon/internal/user/pgstore")

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// Store persists accounts in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store. The pool is owned by
// the caller. Apply this store's schema before the contact and alert
// stores; their tables reference users(id).
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const userColumns = `id, name, email, phone, password_hash, is_active,
	loc_latitude, loc_longitude, loc_address, loc_at, created_at, updated_at`

// Create inserts a new user.
func (s *Store) Create(ctx context.Context, u *user.User) error {
	ctx, span := tracer.Start(ctx, "pgstore.Create", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx, `INSERT INTO users (
		id, name, email, phone, password_hash, is_active, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		u.ID, u.Name, u.Email, u.Phone, u.PasswordHash, u.Active, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("email %s: %w", u.Email, user.ErrEmailTaken)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (s *Store) GetByID(ctx context.Context, id string) (*user.User, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetByID", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return s.getOne(ctx, span, query, id)
}

// GetByEmail retrieves a user by email.
func (s *Store) GetByEmail(ctx context.Context, email string) (*user.User, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetByEmail", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return s.getOne(ctx, span, query, email)
}

// SetLocation updates the user's last known location.
func (s *Store) SetLocation(ctx context.Context, id string, loc user.Location) error {
	ctx, span := tracer.Start(ctx, "pgstore.SetLocation", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	tag, err := s.pool.Exec(ctx, `UPDATE users SET
		loc_latitude = $2, loc_longitude = $3, loc_address = $4, loc_at = $5, updated_at = now()
	WHERE id = $1`,
		id, loc.Latitude, loc.Longitude, loc.Address, loc.At,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("update location: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (s *Store) getOne(ctx context.Context, span trace.Span, query string, arg any) (*user.User, bool, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	return u, true, nil
}

func scanUser(row pgx.Row) (*user.User, error) {
	var (
		u        user.User
		lat, lon *float64
		addr     *string
		locAt    *time.Time
	)

	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &u.Active,
		&lat, &lon, &addr, &locAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	if lat != nil && lon != nil {
		u.LastLocation = &user.Location{Latitude: *lat, Longitude: *lon}
		if addr != nil {
			u.LastLocation.Address = *addr
		}
		if locAt != nil {
			u.LastLocation.At = *locAt
		}
	}
	return &u, nil
}
