// Package pgstore provides a PostgreSQL implementation of alert.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/beacon/internal/alert"
)

var tracer = otel.Tracer("github.com/linnemanlabs/beacon/internal/alert/pgstore")

//go:embed schema.sql
var schema string

const defaultHistoryLimit = 50

// Store persists alert records in PostgreSQL.
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

const alertColumns = `id, user_id, alert_type, status, latitude, longitude, address, accuracy,
	message, outcomes, res_outcome, res_notes, resolved_by, resolved_at,
	activated_at, deactivated_at, duration_s`

// Create inserts a new alert record.
func (s *Store) Create(ctx context.Context, al *alert.Alert) error {
	ctx, span := tracer.Start(ctx, "pgstore.Create", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	outcomesJSON, err := json.Marshal(al.Outcomes)
	if err != nil {
		return fmt.Errorf("marshal outcomes: %w", err)
	}
	if al.Outcomes == nil {
		outcomesJSON = []byte("[]")
	}

	query := `INSERT INTO alerts (
		id, user_id, alert_type, status, latitude, longitude, address, accuracy,
		message, outcomes, activated_at, duration_s
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	_, err = s.pool.Exec(ctx, query,
		al.ID, al.UserID, string(al.Type), string(al.Status),
		al.Location.Latitude, al.Location.Longitude, al.Location.Address, al.Location.Accuracy,
		al.Message, outcomesJSON, al.ActivatedAt, al.DurationSeconds,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// Get retrieves an alert by ID scoped to the owning user.
func (s *Store) Get(ctx context.Context, id, userID string) (*alert.Alert, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1 AND user_id = $2`
	al, err := scanAlertRow(s.pool.QueryRow(ctx, query, id, userID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if al == nil {
		return nil, false, nil
	}
	return al, true, nil
}

// ActiveForUser returns the user's active alerts, most recent first.
func (s *Store) ActiveForUser(ctx context.Context, userID string) ([]*alert.Alert, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ActiveForUser", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE user_id = $1 AND status = 'active' ORDER BY activated_at DESC`
	alerts, err := s.queryAlerts(ctx, query, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return alerts, nil
}

// History returns up to limit alerts for the user, most recent first.
func (s *Store) History(ctx context.Context, userID string, limit int) ([]*alert.Alert, error) {
	ctx, span := tracer.Start(ctx, "pgstore.History", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE user_id = $1 ORDER BY activated_at DESC LIMIT $2`
	alerts, err := s.queryAlerts(ctx, query, userID, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return alerts, nil
}

// Resolve transitions an active alert to resolved. The status check and the
// update are a single conditional statement so a lost race surfaces as
// ErrInvalidTransition instead of a double resolution.
func (s *Store) Resolve(ctx context.Context, id, userID string, res alert.Resolution) (*alert.Alert, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Resolve", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	if res.ResolvedAt.IsZero() {
		res.ResolvedAt = time.Now()
	}

	query := `UPDATE alerts SET
		status = 'resolved',
		res_outcome = $3,
		res_notes = $4,
		resolved_by = $5,
		resolved_at = $6,
		deactivated_at = $6,
		duration_s = GREATEST(0, EXTRACT(EPOCH FROM ($6::timestamptz - activated_at))::bigint)
	WHERE id = $1 AND user_id = $2 AND status = 'active'
	RETURNING ` + alertColumns

	al, err := scanAlertRow(s.pool.QueryRow(ctx, query,
		id, userID, res.Outcome, res.Notes, res.ResolvedBy, res.ResolvedAt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if al == nil {
		return nil, s.transitionError(ctx, id, userID)
	}
	return al, nil
}

// MarkFalseAlarm transitions an active alert to false-alarm.
func (s *Store) MarkFalseAlarm(ctx context.Context, id, userID string) (*alert.Alert, error) {
	ctx, span := tracer.Start(ctx, "pgstore.MarkFalseAlarm", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	query := `UPDATE alerts SET
		status = 'false-alarm',
		deactivated_at = now(),
		duration_s = GREATEST(0, EXTRACT(EPOCH FROM (now() - activated_at))::bigint)
	WHERE id = $1 AND user_id = $2 AND status = 'active'
	RETURNING ` + alertColumns

	al, err := scanAlertRow(s.pool.QueryRow(ctx, query, id, userID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if al == nil {
		return nil, s.transitionError(ctx, id, userID)
	}
	return al, nil
}

// SetOutcomes replaces the alert's notification outcome list.
func (s *Store) SetOutcomes(ctx context.Context, id string, outcomes []alert.Outcome) error {
	ctx, span := tracer.Start(ctx, "pgstore.SetOutcomes", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	outcomesJSON, err := json.Marshal(outcomes)
	if err != nil {
		return fmt.Errorf("marshal outcomes: %w", err)
	}
	if outcomes == nil {
		outcomesJSON = []byte("[]")
	}

	tag, err := s.pool.Exec(ctx, `UPDATE alerts SET outcomes = $2 WHERE id = $1`, id, outcomesJSON)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("update outcomes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return alert.ErrNotFound
	}
	return nil
}

// transitionError distinguishes a missing alert from one already terminal
// after a conditional update matched no rows.
func (s *Store) transitionError(ctx context.Context, id, userID string) error {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM alerts WHERE id = $1 AND user_id = $2`, id, userID,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return alert.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup alert status: %w", err)
	}
	return alert.ErrInvalidTransition
}

func (s *Store) queryAlerts(ctx context.Context, query string, args ...any) ([]*alert.Alert, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*alert.Alert
	for rows.Next() {
		al, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, al)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, nil
}

// scanAlertRow scans a single row into an alert.Alert.
// Returns (nil, nil) when no row is found.
func scanAlertRow(row pgx.Row) (*alert.Alert, error) {
	al, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return al, nil
}

func scanAlert(row pgx.Row) (*alert.Alert, error) {
	var (
		al            alert.Alert
		alertType     string
		status        string
		outcomesJSON  []byte
		resOutcome    *string
		resNotes      *string
		resolvedBy    *string
		resolvedAt    *time.Time
		deactivatedAt *time.Time
	)

	err := row.Scan(
		&al.ID, &al.UserID, &alertType, &status,
		&al.Location.Latitude, &al.Location.Longitude, &al.Location.Address, &al.Location.Accuracy,
		&al.Message, &outcomesJSON, &resOutcome, &resNotes, &resolvedBy, &resolvedAt,
		&al.ActivatedAt, &deactivatedAt, &al.DurationSeconds,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	al.Type = alert.Type(alertType)
	al.Status = alert.Status(status)

	if err := json.Unmarshal(outcomesJSON, &al.Outcomes); err != nil {
		return nil, fmt.Errorf("unmarshal outcomes: %w", err)
	}

	if resolvedAt != nil {
		al.Resolution = &alert.Resolution{ResolvedAt: *resolvedAt}
		if resOutcome != nil {
			al.Resolution.Outcome = *resOutcome
		}
		if resNotes != nil {
			al.Resolution.Notes = *resNotes
		}
		if resolvedBy != nil {
			al.Resolution.ResolvedBy = *resolvedBy
		}
	}
	if deactivatedAt != nil {
		al.DeactivatedAt = *deactivatedAt
	}

	return &al, nil
}
