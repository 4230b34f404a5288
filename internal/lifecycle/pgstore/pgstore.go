// Package pgstore provides a PostgreSQL implementation of lifecycle.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Al3x2023/AlertaRaven4/internal/alert"
	"github.com/Al3x2023/AlertaRaven4/internal/lifecycle"
)

var tracer = otel.Tracer("github.com/Al3x2023/AlertaRaven4/internal/lifecycle/pgstore")

//go:embed schema.sql
var schema string

// isoFormat fixes the fractional-second precision so stored timestamps
// compare lexicographically. All timestamps are stored as ISO-8601 text
// in UTC, matching the wire contract.
const isoFormat = "2006-01-02T15:04:05.000000Z"

// Store persists alerts in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store. The pool stays owned
// by the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const alertColumns = `alert_id, device_id, user_id, accident_type, timestamp, confidence,
	acceleration_magnitude, gyroscope_magnitude, location_data, medical_info,
	emergency_contacts, status, created_at, updated_at, additional_data`

// Create inserts the alert. Re-creating an existing ID is a no-op, which
// makes retried submissions safe.
func (s *Store) Create(ctx context.Context, a *alert.Alert) error {
	ctx, span := tracer.Start(ctx, "pgstore.Create", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	locationJSON, err := marshalNullable(a.Location)
	if err != nil {
		return fmt.Errorf("marshal location: %w", err)
	}
	medicalJSON, err := marshalNullable(a.MedicalInfo)
	if err != nil {
		return fmt.Errorf("marshal medical info: %w", err)
	}
	contacts := a.EmergencyContacts
	if contacts == nil {
		contacts = []alert.EmergencyContact{}
	}
	contactsJSON, err := json.Marshal(contacts)
	if err != nil {
		return fmt.Errorf("marshal contacts: %w", err)
	}
	additionalJSON, err := marshalNullable(a.AdditionalData)
	if err != nil {
		return fmt.Errorf("marshal additional data: %w", err)
	}

	query := `INSERT INTO emergency_alerts (` + alertColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (alert_id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query,
		a.ID, a.DeviceID, nullable(a.UserID), string(a.AccidentType),
		a.Timestamp.UTC().Format(isoFormat), a.Confidence,
		a.AccelerationMagnitude, a.GyroscopeMagnitude,
		locationJSON, medicalJSON, contactsJSON,
		string(a.Status),
		a.CreatedAt.UTC().Format(isoFormat), a.UpdatedAt.UTC().Format(isoFormat),
		additionalJSON,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// Get retrieves an alert by ID.
func (s *Store) Get(ctx context.Context, id string) (*alert.Alert, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM emergency_alerts WHERE alert_id = $1`
	a, err := scanAlertRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if a == nil {
		return nil, false, nil
	}
	return a, true, nil
}

// UpdateStatus overwrites the status unconditionally, bumps updated_at,
// and returns the updated record.
func (s *Store) UpdateStatus(ctx context.Context, id string, status alert.Status) (*alert.Alert, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.UpdateStatus", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	query := `UPDATE emergency_alerts SET status = $1, updated_at = $2
		WHERE alert_id = $3
		RETURNING ` + alertColumns

	a, err := scanAlertRow(s.pool.QueryRow(ctx, query,
		string(status), time.Now().UTC().Format(isoFormat), id,
	))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if a == nil {
		return nil, false, nil
	}
	return a, true, nil
}

// List returns alerts newest first. Set filter fields combine with AND
// and match exactly.
func (s *Store) List(ctx context.Context, f lifecycle.Filter) ([]*alert.Alert, error) {
	ctx, span := tracer.Start(ctx, "pgstore.List", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM emergency_alerts WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if f.AccidentType != "" {
		args = append(args, f.AccidentType)
		query += ` AND accident_type = $` + strconv.Itoa(len(args))
	}
	args = append(args, f.Limit)
	query += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args))
	args = append(args, f.Offset)
	query += ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []*alert.Alert
	for rows.Next() {
		a, err := scanAlertRow(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	if out == nil {
		out = []*alert.Alert{}
	}
	return out, nil
}

// Statistics aggregates counts over every stored alert. Nothing is
// excluded from the aggregation.
func (s *Store) Statistics(ctx context.Context) (*lifecycle.Statistics, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Statistics", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	stats := &lifecycle.Statistics{
		ByStatus: make(map[string]int),
		ByType:   make(map[string]int),
	}

	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM emergency_alerts`,
	).Scan(&stats.TotalAlerts); err != nil {
		return nil, fmt.Errorf("count alerts: %w", err)
	}

	if err := s.countGrouped(ctx, `status`, stats.ByStatus); err != nil {
		return nil, err
	}
	if err := s.countGrouped(ctx, `accident_type`, stats.ByType); err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour).Format(isoFormat)
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM emergency_alerts WHERE created_at >= $1`, cutoff,
	).Scan(&stats.Last24h); err != nil {
		return nil, fmt.Errorf("count last 24h: %w", err)
	}

	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM emergency_alerts WHERE status NOT IN ('COMPLETED','CANCELLED','FAILED')`,
	).Scan(&stats.ActiveAlerts); err != nil {
		return nil, fmt.Errorf("count active: %w", err)
	}

	return stats, nil
}

func (s *Store) countGrouped(ctx context.Context, column string, into map[string]int) error {
	rows, err := s.pool.Query(ctx,
		`SELECT `+column+`, count(*) FROM emergency_alerts GROUP BY `+column,
	)
	if err != nil {
		return fmt.Errorf("group by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		into[key] = n
	}
	return rows.Err()
}

// scanAlertRow scans a single row into an alert. Returns (nil, nil) when
// no row is found.
func scanAlertRow(row pgx.Row) (*alert.Alert, error) {
	var (
		a              alert.Alert
		userID         *string
		accidentType   string
		status         string
		ts             string
		createdAt      string
		updatedAt      string
		locationJSON   []byte
		medicalJSON    []byte
		contactsJSON   []byte
		additionalJSON []byte
	)

	err := row.Scan(
		&a.ID, &a.DeviceID, &userID, &accidentType, &ts, &a.Confidence,
		&a.AccelerationMagnitude, &a.GyroscopeMagnitude,
		&locationJSON, &medicalJSON, &contactsJSON,
		&status, &createdAt, &updatedAt, &additionalJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	if userID != nil {
		a.UserID = *userID
	}
	a.AccidentType = alert.AccidentType(accidentType)
	a.Status = alert.Status(status)

	if a.Timestamp, err = parseISO(ts); err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}
	if a.CreatedAt, err = parseISO(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if a.UpdatedAt, err = parseISO(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	if locationJSON != nil {
		if err := json.Unmarshal(locationJSON, &a.Location); err != nil {
			return nil, fmt.Errorf("unmarshal location: %w", err)
		}
	}
	if medicalJSON != nil {
		if err := json.Unmarshal(medicalJSON, &a.MedicalInfo); err != nil {
			return nil, fmt.Errorf("unmarshal medical info: %w", err)
		}
	}
	if err := json.Unmarshal(contactsJSON, &a.EmergencyContacts); err != nil {
		return nil, fmt.Errorf("unmarshal contacts: %w", err)
	}
	if additionalJSON != nil {
		if err := json.Unmarshal(additionalJSON, &a.AdditionalData); err != nil {
			return nil, fmt.Errorf("unmarshal additional data: %w", err)
		}
	}

	return &a, nil
}

func parseISO(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// marshalNullable returns nil for nil pointers/maps so the column stores
// SQL NULL instead of the JSON literal "null".
func marshalNullable(v any) ([]byte, error) {
	switch x := v.(type) {
	case *alert.Location:
		if x == nil {
			return nil, nil
		}
	case *alert.MedicalInfo:
		if x == nil {
			return nil, nil
		}
	case map[string]any:
		if x == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
