package attendance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Ledger stores attendance sessions. Implementations must reject a second open
// session for the same identity and scope, and must only close open sessions.
type Ledger interface {
	FindOpen(ctx context.Context, identityID string, scope Scope) (*Session, error)
	Insert(ctx context.Context, s Session) error
	Close(ctx context.Context, id string, checkOut time.Time, durationMinutes int) error
	Get(ctx context.Context, id string) (Session, error)
	List(ctx context.Context, f Filter) ([]Session, error)
	Stats(ctx context.Context, f Filter) (Summary, error)
}

// MemoryLedger is an in-process Ledger for development and tests.
type MemoryLedger struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{sessions: make(map[string]Session)}
}

func (m *MemoryLedger) FindOpen(ctx context.Context, identityID string, scope Scope) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.findOpenLocked(identityID, scope.Key()); ok {
		return &s, nil
	}
	return nil, nil
}

func (m *MemoryLedger) findOpenLocked(identityID, key string) (Session, bool) {
	for _, s := range m.sessions {
		if s.Open() && s.IdentityID == identityID && s.Scope.Key() == key {
			return s, true
		}
	}
	return Session{}, false
}

func (m *MemoryLedger) Insert(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.findOpenLocked(s.IdentityID, s.Scope.Key()); ok {
		return ErrOpenSessionExists
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryLedger) Close(ctx context.Context, id string, checkOut time.Time, durationMinutes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if !s.Open() {
		return ErrSessionClosed
	}
	s.CheckOut = &checkOut
	s.DurationMinutes = &durationMinutes
	m.sessions[id] = s
	return nil
}

func (m *MemoryLedger) Get(ctx context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *MemoryLedger) List(ctx context.Context, f Filter) ([]Session, error) {
	m.mu.RLock()
	var res []Session
	for _, s := range m.sessions {
		if f.matches(s) {
			res = append(res, s)
		}
	}
	m.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].CheckIn.After(res[j].CheckIn) })
	if f.Offset > 0 {
		if f.Offset >= len(res) {
			return nil, nil
		}
		res = res[f.Offset:]
	}
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}

func (m *MemoryLedger) Stats(ctx context.Context, f Filter) (Summary, error) {
	f.Limit, f.Offset = 0, 0
	sessions, err := m.List(ctx, f)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(sessions), nil
}
