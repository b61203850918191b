package attendance

import (
	"context"
	"sort"
	"sync"

	"clubattend/internal/payload"
)

// MemoryDirectory is an in-process Directory for development and tests.
type MemoryDirectory struct {
	mu     sync.RWMutex
	team   map[string]Attendee
	events map[string]map[string]Attendee // event id -> type:id -> attendee
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		team:   make(map[string]Attendee),
		events: make(map[string]map[string]Attendee),
	}
}

// AddTeamMember registers a team member.
func (d *MemoryDirectory) AddTeamMember(a Attendee) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a.Type = ""
	d.team[a.ID] = a
}

// AddEventAttendee registers an attendee of eventID. a.Type must be set.
func (d *MemoryDirectory) AddEventAttendee(eventID string, a Attendee) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.events[eventID] == nil {
		d.events[eventID] = make(map[string]Attendee)
	}
	d.events[eventID][string(a.Type)+":"+a.ID] = a
}

func (d *MemoryDirectory) TeamMember(ctx context.Context, memberID string) (*Attendee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if a, ok := d.team[memberID]; ok {
		return &a, nil
	}
	return nil, nil
}

func (d *MemoryDirectory) EventAttendee(ctx context.Context, eventID string, t payload.AttendeeType, attendeeID string) (*Attendee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if a, ok := d.events[eventID][string(t)+":"+attendeeID]; ok {
		return &a, nil
	}
	return nil, nil
}

func (d *MemoryDirectory) ListTeamMembers(ctx context.Context) ([]Attendee, error) {
	d.mu.RLock()
	res := make([]Attendee, 0, len(d.team))
	for _, a := range d.team {
		res = append(res, a)
	}
	d.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (d *MemoryDirectory) ListEventAttendees(ctx context.Context, eventID string) ([]Attendee, error) {
	d.mu.RLock()
	res := make([]Attendee, 0, len(d.events[eventID]))
	for _, a := range d.events[eventID] {
		res = append(res, a)
	}
	d.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}
