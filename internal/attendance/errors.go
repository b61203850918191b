package attendance

import "errors"

var (
	// ErrInvalidCode wraps payload.ErrMalformed for unreadable scans.
	ErrInvalidCode = errors.New("invalid attendance code")
	// ErrScopeMismatch is returned when a pass belongs to a different event or
	// attendance mode than the scanner is operating in.
	ErrScopeMismatch = errors.New("code does not belong to this scanner's scope")
	// ErrNotFound is returned by the resolver for unknown identities.
	ErrNotFound = errors.New("person not found")
	// ErrRecordFailed wraps any ledger or locking failure during a toggle.
	ErrRecordFailed = errors.New("failed to record attendance")
	// ErrInvalidRequest covers malformed filters and request fields.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrOpenSessionExists is returned by Ledger.Insert when the identity
	// already has an open session in the scope.
	ErrOpenSessionExists = errors.New("open session already exists")
	// ErrSessionClosed is returned by Ledger.Close for sessions already closed.
	ErrSessionClosed = errors.New("session already closed")
	// ErrSessionNotFound is returned by Ledger.Get.
	ErrSessionNotFound = errors.New("session not found")
	// ErrLockTimeout is returned when a toggle lock could not be acquired in time.
	ErrLockTimeout = errors.New("timed out waiting for attendance lock")
)
