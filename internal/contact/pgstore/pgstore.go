// Package pgstore provides a PostgreSQL implementation of contact.Store.
//
// Primary exclusivity is enforced twice: the demote-then-set runs inside a
// transaction, and a partial unique index on (user_id) WHERE is_primary
// rejects any writer that would leave two primaries behind.
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
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/beacon/internal/contact"
)

var tracer = otel.Tracer("github.com/linnemanlabs/beacon/internal/contact/pgstore")

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// Store persists contacts in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store. The pool is owned by
// the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const contactColumns = `id, user_id, name, phone, email, relation, is_primary, is_active,
	notify_sms, notify_email, notify_push, alert_count, last_alert_at, created_at, updated_at`

// Add creates a contact inside one transaction, demoting the previous
// primary when needed.
func (s *Store) Add(ctx context.Context, userID string, p contact.Params) (*contact.Contact, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Add", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if p.Primary {
		if err := demotePrimary(ctx, tx, userID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	now := time.Now()
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

	_, err = tx.Exec(ctx, `INSERT INTO contacts (
		id, user_id, name, phone, email, relation, is_primary, is_active,
		notify_sms, notify_email, notify_push, alert_count, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,0,$12,$13)`,
		c.ID, c.UserID, c.Name, c.Phone, c.Email, string(c.Relation), c.Primary, c.Active,
		c.Prefs.SMS, c.Prefs.Email, c.Prefs.Push, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, mapInsertError(err, p.Phone)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

// ListActive returns the user's active contacts, primary first, then
// creation order.
func (s *Store) ListActive(ctx context.Context, userID string) ([]*contact.Contact, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListActive", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + contactColumns + ` FROM contacts
		WHERE user_id = $1 AND is_active ORDER BY is_primary DESC, created_at, id`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*contact.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return contacts, nil
}

// Update applies a patch to a contact owned by userID inside one
// transaction.
func (s *Store) Update(ctx context.Context, id, userID string, patch contact.Patch) (*contact.Contact, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Update", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	c, err := getForUpdate(ctx, tx, id, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Phone != nil {
		c.Phone = *patch.Phone
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
			if err := demotePrimary(ctx, tx, userID); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
		}
		c.Primary = *patch.Primary
	}
	c.UpdatedAt = time.Now()

	_, err = tx.Exec(ctx, `UPDATE contacts SET
		name = $3, phone = $4, email = $5, relation = $6, is_primary = $7, is_active = $8,
		notify_sms = $9, notify_email = $10, notify_push = $11, updated_at = $12
	WHERE id = $1 AND user_id = $2`,
		id, userID, c.Name, c.Phone, c.Email, string(c.Relation), c.Primary, c.Active,
		c.Prefs.SMS, c.Prefs.Email, c.Prefs.Push, c.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, mapInsertError(err, c.Phone)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

// Delete removes a contact owned by userID.
func (s *Store) Delete(ctx context.Context, id, userID string) error {
	ctx, span := tracer.Start(ctx, "pgstore.Delete", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "DELETE"),
	))
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM contacts WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("delete contact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return contact.ErrNotFound
	}
	return nil
}

// RecordAlert bumps the alert counter and last-alert timestamp.
func (s *Store) RecordAlert(ctx context.Context, id string, at time.Time) error {
	ctx, span := tracer.Start(ctx, "pgstore.RecordAlert", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE contacts SET alert_count = alert_count + 1, last_alert_at = $2 WHERE id = $1`,
		id, at)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("record alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return contact.ErrNotFound
	}
	return nil
}

func getForUpdate(ctx context.Context, tx pgx.Tx, id, userID string) (*contact.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts
		WHERE id = $1 AND user_id = $2 FOR UPDATE`
	c, err := scanContact(tx.QueryRow(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, contact.ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func demotePrimary(ctx context.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx,
		`UPDATE contacts SET is_primary = FALSE, updated_at = now()
		 WHERE user_id = $1 AND is_primary`, userID)
	if err != nil {
		return fmt.Errorf("demote primary: %w", err)
	}
	return nil
}

func mapInsertError(err error, phone string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation &&
		pgErr.ConstraintName == "contacts_user_phone_key" {
		return fmt.Errorf("phone %s: %w", phone, contact.ErrDuplicatePhone)
	}
	return fmt.Errorf("write contact: %w", err)
}

func scanContact(row pgx.Row) (*contact.Contact, error) {
	var (
		c           contact.Contact
		relation    string
		lastAlertAt *time.Time
	)

	err := row.Scan(
		&c.ID, &c.UserID, &c.Name, &c.Phone, &c.Email, &relation, &c.Primary, &c.Active,
		&c.Prefs.SMS, &c.Prefs.Email, &c.Prefs.Push, &c.AlertCount, &lastAlertAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("scan contact: %w", err)
	}

	c.Relation = contact.Relation(relation)
	if lastAlertAt != nil {
		c.LastAlertAt = *lastAlertAt
	}
	return &c, nil
}
