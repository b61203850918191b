package app

import (
	"encoding/json"
	"fmt"
	"os"

	"clubattend/internal/attendance"
)

// roster is the JSON shape of ROSTER_FILE, used to seed the memory directory.
type roster struct {
	Team   []attendance.Attendee            `json:"team"`
	Events map[string][]attendance.Attendee `json:"events"`
}

// SeedDirectory loads people from path into dir.
func SeedDirectory(dir *attendance.MemoryDirectory, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read roster: %w", err)
	}
	var r roster
	if err := json.Unmarshal(data, &r); err != nil {
		return 0, fmt.Errorf("parse roster: %w", err)
	}
	n := 0
	for _, a := range r.Team {
		dir.AddTeamMember(a)
		n++
	}
	for eventID, people := range r.Events {
		for _, a := range people {
			if !a.Type.Valid() {
				return n, fmt.Errorf("roster: %s in event %s has invalid type %q", a.ID, eventID, a.Type)
			}
			dir.AddEventAttendee(eventID, a)
			n++
		}
	}
	return n, nil
}
