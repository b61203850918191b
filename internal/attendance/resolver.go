package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"clubattend/internal/payload"
)

// Directory looks up people referenced by scan payloads. Lookups return
// (nil, nil) when the record does not exist.
type Directory interface {
	TeamMember(ctx context.Context, memberID string) (*Attendee, error)
	EventAttendee(ctx context.Context, eventID string, t payload.AttendeeType, attendeeID string) (*Attendee, error)
	ListTeamMembers(ctx context.Context) ([]Attendee, error)
	ListEventAttendees(ctx context.Context, eventID string) ([]Attendee, error)
}

// Resolver turns decoded payloads into attendees.
type Resolver struct {
	dir Directory
}

// NewResolver creates a resolver over dir.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve returns ErrNotFound when the payload references nobody.
func (r *Resolver) Resolve(ctx context.Context, p payload.Payload) (Attendee, error) {
	var (
		who *Attendee
		err error
	)
	switch v := p.(type) {
	case payload.Team:
		who, err = r.dir.TeamMember(ctx, v.MemberID)
	case payload.Event:
		who, err = r.dir.EventAttendee(ctx, v.EventID, v.Type, v.AttendeeID)
	default:
		return Attendee{}, fmt.Errorf("%w: unsupported payload %T", ErrInvalidCode, p)
	}
	if err != nil {
		return Attendee{}, fmt.Errorf("lookup identity: %w", err)
	}
	if who == nil {
		return Attendee{}, ErrNotFound
	}
	return *who, nil
}

// Roster lists the team, or every attendee of eventID when it is set.
func (r *Resolver) Roster(ctx context.Context, eventID string) ([]Attendee, error) {
	var (
		people []Attendee
		err    error
	)
	if eventID == "" {
		people, err = r.dir.ListTeamMembers(ctx)
	} else {
		people, err = r.dir.ListEventAttendees(ctx, eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}
	return people, nil
}

// attendeeTables maps attendee types to the table holding their records.
var attendeeTables = map[payload.AttendeeType]string{
	payload.Participant: "event_registrations",
	payload.Volunteer:   "event_volunteers",
	payload.TeamMember:  "event_team",
}

// PostgresDirectory reads team and event rosters from Postgres.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a directory over db.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) TeamMember(ctx context.Context, memberID string) (*Attendee, error) {
	row := d.db.QueryRowContext(ctx, `SELECT id, name, email FROM team_members WHERE id = $1`, memberID)
	var a Attendee
	if err := row.Scan(&a.ID, &a.Name, &a.Email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (d *PostgresDirectory) EventAttendee(ctx context.Context, eventID string, t payload.AttendeeType, attendeeID string) (*Attendee, error) {
	table, ok := attendeeTables[t]
	if !ok {
		return nil, fmt.Errorf("unknown attendee type %q", t)
	}
	row := d.db.QueryRowContext(ctx, `SELECT id, name, email FROM `+table+` WHERE event_id = $1 AND id = $2`, eventID, attendeeID)
	a := Attendee{Type: t}
	if err := row.Scan(&a.ID, &a.Name, &a.Email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (d *PostgresDirectory) ListTeamMembers(ctx context.Context) ([]Attendee, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, name, email FROM team_members ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Attendee
	for rows.Next() {
		var a Attendee
		if err := rows.Scan(&a.ID, &a.Name, &a.Email); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (d *PostgresDirectory) ListEventAttendees(ctx context.Context, eventID string) ([]Attendee, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, name, email, 'participant' FROM event_registrations WHERE event_id = $1
		UNION ALL
		SELECT id, name, email, 'volunteer' FROM event_volunteers WHERE event_id = $1
		UNION ALL
		SELECT id, name, email, 'team' FROM event_team WHERE event_id = $1
		ORDER BY 2
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Attendee
	for rows.Next() {
		var (
			a Attendee
			t string
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Email, &t); err != nil {
			return nil, err
		}
		a.Type = payload.AttendeeType(t)
		res = append(res, a)
	}
	return res, rows.Err()
}
