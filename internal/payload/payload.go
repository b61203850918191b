// Package payload encodes and decodes the text embedded in attendance QR codes
// and NFC tags.
package payload

import (
	"errors"
	"fmt"
	"strings"
)

const (
	teamPrefix  = "ATTENDANCE:"
	adminPrefix = "ADMIN:"
	eventPrefix = "EVENT_ATTENDANCE:"
	eventFields = 4
)

// ErrMalformed is returned for any payload that does not match a known format.
var ErrMalformed = errors.New("malformed attendance payload")

// AttendeeType classifies an event attendee.
type AttendeeType string

const (
	Participant AttendeeType = "participant"
	Volunteer   AttendeeType = "volunteer"
	TeamMember  AttendeeType = "team"
)

// Valid reports whether t is one of the known attendee types.
func (t AttendeeType) Valid() bool {
	switch t {
	case Participant, Volunteer, TeamMember:
		return true
	}
	return false
}

// ParseAttendeeType validates s as an attendee type.
func ParseAttendeeType(s string) (AttendeeType, error) {
	t := AttendeeType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown attendee type %q", ErrMalformed, s)
	}
	return t, nil
}

// Payload is the decoded form of a scan. It is either Team or Event.
type Payload interface {
	isPayload()
}

// Team is a team-wide (daily) attendance badge.
type Team struct {
	MemberID string
	// AdminCard is set for ADMIN: badges.
	AdminCard bool
}

// Event is an event-scoped attendance pass.
type Event struct {
	EventID    string
	Type       AttendeeType
	AttendeeID string
}

func (Team) isPayload()  {}
func (Event) isPayload() {}

// EncodeTeam returns the payload for a team member badge.
func EncodeTeam(memberID string) (string, error) {
	if err := checkField("member id", memberID); err != nil {
		return "", err
	}
	return teamPrefix + memberID, nil
}

// EncodeAdmin returns the payload for an administrator badge.
func EncodeAdmin(memberID string) (string, error) {
	if err := checkField("member id", memberID); err != nil {
		return "", err
	}
	return adminPrefix + memberID, nil
}

// EncodeEvent returns the payload for an event attendee pass.
func EncodeEvent(eventID string, t AttendeeType, attendeeID string) (string, error) {
	if err := checkField("event id", eventID); err != nil {
		return "", err
	}
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown attendee type %q", ErrMalformed, t)
	}
	if err := checkField("attendee id", attendeeID); err != nil {
		return "", err
	}
	return eventPrefix + eventID + ":" + string(t) + ":" + attendeeID, nil
}

// Encode is the inverse of Decode.
func Encode(p Payload) (string, error) {
	switch v := p.(type) {
	case Team:
		if v.AdminCard {
			return EncodeAdmin(v.MemberID)
		}
		return EncodeTeam(v.MemberID)
	case Event:
		return EncodeEvent(v.EventID, v.Type, v.AttendeeID)
	default:
		return "", fmt.Errorf("%w: unsupported payload %T", ErrMalformed, p)
	}
}

// Decode parses a scanned payload. It never panics; every unrecognised input
// yields an error wrapping ErrMalformed.
func Decode(raw string) (Payload, error) {
	s := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(s, eventPrefix):
		parts := strings.Split(s, ":")
		if len(parts) != eventFields {
			return nil, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformed, eventFields, len(parts))
		}
		t, err := ParseAttendeeType(parts[2])
		if err != nil {
			return nil, err
		}
		if parts[1] == "" || parts[3] == "" {
			return nil, fmt.Errorf("%w: empty event or attendee id", ErrMalformed)
		}
		return Event{EventID: parts[1], Type: t, AttendeeID: parts[3]}, nil
	case strings.HasPrefix(s, teamPrefix):
		id := strings.TrimPrefix(s, teamPrefix)
		if id == "" {
			return nil, fmt.Errorf("%w: empty member id", ErrMalformed)
		}
		return Team{MemberID: id}, nil
	case strings.HasPrefix(s, adminPrefix):
		id := strings.TrimPrefix(s, adminPrefix)
		if id == "" {
			return nil, fmt.Errorf("%w: empty member id", ErrMalformed)
		}
		return Team{MemberID: id, AdminCard: true}, nil
	}
	return nil, ErrMalformed
}

func checkField(name, v string) error {
	if v == "" {
		return fmt.Errorf("%w: %s required", ErrMalformed, name)
	}
	if strings.ContainsAny(v, ": \t\r\n") {
		return fmt.Errorf("%w: %s contains reserved characters", ErrMalformed, name)
	}
	return nil
}
