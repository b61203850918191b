package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"clubattend/internal/payload"
)

const uniqueViolation = "23505"

const sessionColumns = `id, identity_id, scope_kind, scope_date, event_id, attendee_type, display_name, contact_email,
	check_in_time, check_out_time, duration_minutes, scan_method, device_id`

// PostgresLedger persists sessions in the attendance_sessions table. The
// partial unique index attendance_sessions_one_open backs the one open session
// per identity and scope rule.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger creates a ledger over db.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// FindOpen returns the open session for identityID in scope, or nil.
func (r *PostgresLedger) FindOpen(ctx context.Context, identityID string, scope Scope) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE identity_id = $1 AND scope_key = $2 AND check_out_time IS NULL
		ORDER BY check_in_time DESC
		LIMIT 1
	`, identityID, scope.Key())
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Insert writes a new open session.
func (r *PostgresLedger) Insert(ctx context.Context, s Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_sessions
			(id, identity_id, scope_kind, scope_date, event_id, attendee_type, scope_key,
			 display_name, contact_email, check_in_time, scan_method, device_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, s.ID, s.IdentityID, string(s.Scope.Kind), s.Scope.Date, s.Scope.EventID, string(s.Scope.AttendeeType), s.Scope.Key(),
		s.DisplayName, s.ContactEmail, s.CheckIn, string(s.Method), s.DeviceID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrOpenSessionExists
	}
	return err
}

// Close sets the check-out time and duration of an open session.
func (r *PostgresLedger) Close(ctx context.Context, id string, checkOut time.Time, durationMinutes int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_sessions
		SET check_out_time = $2, duration_minutes = $3
		WHERE id = $1 AND check_out_time IS NULL
	`, id, checkOut, durationMinutes)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionClosed
	}
	return nil
}

// Get returns a single session by id.
func (r *PostgresLedger) Get(ctx context.Context, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM attendance_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	return s, err
}

// List returns sessions matching f, newest check-in first.
func (r *PostgresLedger) List(ctx context.Context, f Filter) ([]Session, error) {
	where, args := filterClause(f)
	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions WHERE ` + where + ` ORDER BY check_in_time DESC`
	if f.Limit > 0 {
		query += " LIMIT $" + strconv.Itoa(len(args)+1)
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET $" + strconv.Itoa(len(args)+1)
		args = append(args, f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// Stats aggregates sessions matching f in the database.
func (r *PostgresLedger) Stats(ctx context.Context, f Filter) (Summary, error) {
	where, args := filterClause(f)
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE check_out_time IS NULL),
			AVG(duration_minutes)::float8
		FROM attendance_sessions
		WHERE `+where, args...)
	var (
		sum Summary
		avg sql.NullFloat64
	)
	if err := row.Scan(&sum.Total, &sum.CurrentlyPresent, &avg); err != nil {
		return Summary{}, err
	}
	if avg.Valid {
		sum.AvgDurationMinutes = &avg.Float64
	}
	return sum, nil
}

func filterClause(f Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Date != "" {
		add("scope_kind = 'daily' AND scope_date = $%d", f.Date)
	} else {
		add("scope_kind = 'event' AND event_id = $%d", f.EventID)
		if f.AttendeeType != "" {
			add("attendee_type = $%d", string(f.AttendeeType))
		}
	}
	if f.IdentityID != "" {
		add("identity_id = $%d", f.IdentityID)
	}
	return strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		s            Session
		kind, method string
		attendeeType string
	)
	if err := row.Scan(&s.ID, &s.IdentityID, &kind, &s.Scope.Date, &s.Scope.EventID, &attendeeType,
		&s.DisplayName, &s.ContactEmail, &s.CheckIn, &s.CheckOut, &s.DurationMinutes, &method, &s.DeviceID); err != nil {
		return Session{}, err
	}
	s.Scope.Kind = ScopeKind(kind)
	s.Scope.AttendeeType = payload.AttendeeType(attendeeType)
	s.Method = ScanMethod(method)
	return s, nil
}
