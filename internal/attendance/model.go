package attendance

import (
	"errors"
	"fmt"
	"time"

	"clubattend/internal/payload"
)

const dateLayout = "2006-01-02"

// ScopeKind is the partition family a session belongs to.
type ScopeKind string

const (
	ScopeDaily ScopeKind = "daily"
	ScopeEvent ScopeKind = "event"
)

// Scope identifies one ledger partition: a calendar day for team attendance,
// or an event plus attendee type for event attendance.
type Scope struct {
	Kind         ScopeKind            `json:"kind"`
	Date         string               `json:"date,omitempty"`
	EventID      string               `json:"event_id,omitempty"`
	AttendeeType payload.AttendeeType `json:"attendee_type,omitempty"`
}

// DailyScope returns the team attendance scope for the calendar day of t.
func DailyScope(t time.Time) Scope {
	return Scope{Kind: ScopeDaily, Date: t.Format(dateLayout)}
}

// EventScope returns the scope of an event attendee type.
func EventScope(eventID string, t payload.AttendeeType) Scope {
	return Scope{Kind: ScopeEvent, EventID: eventID, AttendeeType: t}
}

// Key is the partition key used for storage and locking.
func (s Scope) Key() string {
	if s.Kind == ScopeEvent {
		return "event:" + s.EventID + ":" + string(s.AttendeeType)
	}
	return "daily:" + s.Date
}

// Validate checks that the scope names exactly one partition.
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeDaily:
		if _, err := time.Parse(dateLayout, s.Date); err != nil {
			return fmt.Errorf("invalid scope date %q", s.Date)
		}
		return nil
	case ScopeEvent:
		if s.EventID == "" {
			return errors.New("event scope requires an event id")
		}
		if !s.AttendeeType.Valid() {
			return fmt.Errorf("invalid attendee type %q", s.AttendeeType)
		}
		return nil
	}
	return fmt.Errorf("unknown scope kind %q", s.Kind)
}

// ScanMethod records how an identity was presented. It never affects logic.
type ScanMethod string

const (
	MethodQR  ScanMethod = "qr"
	MethodNFC ScanMethod = "nfc"
)

// ParseScanMethod defaults an empty method to qr.
func ParseScanMethod(s string) (ScanMethod, error) {
	switch ScanMethod(s) {
	case "", MethodQR:
		return MethodQR, nil
	case MethodNFC:
		return MethodNFC, nil
	}
	return "", fmt.Errorf("%w: unknown scan method %q", ErrInvalidRequest, s)
}

// Session is one check-in/check-out pair for an identity within a scope.
// CheckOut and DurationMinutes are nil while the session is open.
type Session struct {
	ID              string     `json:"id"`
	IdentityID      string     `json:"identity_id"`
	Scope           Scope      `json:"scope"`
	DisplayName     string     `json:"display_name"`
	ContactEmail    string     `json:"contact_email"`
	CheckIn         time.Time  `json:"check_in_time"`
	CheckOut        *time.Time `json:"check_out_time,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	Method          ScanMethod `json:"scan_method"`
	DeviceID        string     `json:"device_id,omitempty"`
}

// Open reports whether the session has not been checked out yet.
func (s Session) Open() bool { return s.CheckOut == nil }

// FloorMinutes truncates d to whole minutes. Negative durations count as zero.
func FloorMinutes(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}

// Attendee is a resolved identity with the contact details snapshotted onto
// new sessions.
type Attendee struct {
	ID    string               `json:"id"`
	Name  string               `json:"name"`
	Email string               `json:"email"`
	Type  payload.AttendeeType `json:"type,omitempty"`
}

// Filter selects sessions for listing and aggregation. Exactly one of Date or
// EventID must be set; AttendeeType and IdentityID narrow the result.
type Filter struct {
	Date         string
	EventID      string
	AttendeeType payload.AttendeeType
	IdentityID   string
	Limit        int
	Offset       int
}

// Validate checks the filter selects a single day or a single event.
func (f Filter) Validate() error {
	switch {
	case f.Date != "" && f.EventID != "":
		return fmt.Errorf("%w: date and event_id are mutually exclusive", ErrInvalidRequest)
	case f.Date != "":
		if _, err := time.Parse(dateLayout, f.Date); err != nil {
			return fmt.Errorf("%w: invalid date %q", ErrInvalidRequest, f.Date)
		}
	case f.EventID != "":
		if f.AttendeeType != "" && !f.AttendeeType.Valid() {
			return fmt.Errorf("%w: invalid attendee type %q", ErrInvalidRequest, f.AttendeeType)
		}
	default:
		return fmt.Errorf("%w: date or event_id required", ErrInvalidRequest)
	}
	return nil
}

func (f Filter) matches(s Session) bool {
	if f.IdentityID != "" && s.IdentityID != f.IdentityID {
		return false
	}
	if f.Date != "" {
		return s.Scope.Kind == ScopeDaily && s.Scope.Date == f.Date
	}
	if s.Scope.Kind != ScopeEvent || s.Scope.EventID != f.EventID {
		return false
	}
	return f.AttendeeType == "" || s.Scope.AttendeeType == f.AttendeeType
}
