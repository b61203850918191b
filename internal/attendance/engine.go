package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action is the transition a toggle performed.
type Action string

const (
	ActionOpened Action = "checked_in"
	ActionClosed Action = "checked_out"
)

// Outcome is the result of a toggle. Session reflects the stored state after
// the transition.
type Outcome struct {
	Action  Action
	Session Session
}

// Engine toggles attendance sessions. It is the only writer of the ledger.
type Engine struct {
	ledger Ledger
	locker Locker
	newID  func() string
}

// NewEngine creates an engine. A nil locker falls back to an in-process
// KeyedMutex.
func NewEngine(ledger Ledger, locker Locker) *Engine {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &Engine{ledger: ledger, locker: locker, newID: uuid.NewString}
}

// Toggle closes the open session of who in scope, or opens a new one when
// none is open. now is the authoritative timestamp for the transition.
func (e *Engine) Toggle(ctx context.Context, who Attendee, scope Scope, method ScanMethod, deviceID string, now time.Time) (Outcome, error) {
	if who.ID == "" {
		return Outcome{}, fmt.Errorf("%w: identity required", ErrInvalidRequest)
	}
	if err := scope.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	now = now.UTC().Truncate(time.Second)

	unlock, err := e.locker.Lock(ctx, lockKey(who.ID, scope))
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrRecordFailed, err)
	}
	defer unlock()

	open, err := e.ledger.FindOpen(ctx, who.ID, scope)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: find open session: %w", ErrRecordFailed, err)
	}
	if open != nil {
		return e.close(ctx, *open, now)
	}

	s := Session{
		ID:           e.newID(),
		IdentityID:   who.ID,
		Scope:        scope,
		DisplayName:  who.Name,
		ContactEmail: who.Email,
		CheckIn:      now,
		Method:       method,
		DeviceID:     deviceID,
	}
	if err := e.ledger.Insert(ctx, s); err != nil {
		return Outcome{}, fmt.Errorf("%w: insert session: %w", ErrRecordFailed, err)
	}
	return Outcome{Action: ActionOpened, Session: s}, nil
}

func (e *Engine) close(ctx context.Context, s Session, now time.Time) (Outcome, error) {
	out := now
	if out.Before(s.CheckIn) {
		out = s.CheckIn
	}
	d := FloorMinutes(out.Sub(s.CheckIn))
	if err := e.ledger.Close(ctx, s.ID, out, d); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return Outcome{}, fmt.Errorf("%w: session %s closed concurrently: %w", ErrRecordFailed, s.ID, err)
		}
		return Outcome{}, fmt.Errorf("%w: close session: %w", ErrRecordFailed, err)
	}
	s.CheckOut = &out
	s.DurationMinutes = &d
	return Outcome{Action: ActionClosed, Session: s}, nil
}
