// Package notify composes and sends attendance confirmation emails, one at a
// time or as a throttled batch.
package notify

import (
	"fmt"
	"time"
)

// Kind selects the message template.
type Kind string

const (
	KindCheckIn  Kind = "check_in"
	KindCheckOut Kind = "check_out"
	// KindPass distributes an attendance QR payload to its holder.
	KindPass Kind = "pass"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindCheckIn || k == KindCheckOut || k == KindPass
}

// Job is one notification for one recipient. It is never persisted.
type Job struct {
	RecipientName   string    `json:"recipient_name"`
	RecipientEmail  string    `json:"recipient_email"`
	Kind            Kind      `json:"kind"`
	DurationMinutes *int      `json:"duration_minutes,omitempty"`
	Payload         string    `json:"payload,omitempty"`
	Context         string    `json:"context,omitempty"`
	At              time.Time `json:"at,omitempty"`
}

// Validate checks the job can be composed.
func (j Job) Validate() error {
	if j.RecipientEmail == "" {
		return fmt.Errorf("recipient email required for %q", j.RecipientName)
	}
	if !j.Kind.Valid() {
		return fmt.Errorf("unknown notification kind %q", j.Kind)
	}
	if j.Kind == KindCheckOut && j.DurationMinutes == nil {
		return fmt.Errorf("check-out notification for %q has no duration", j.RecipientName)
	}
	if j.Kind == KindPass && j.Payload == "" {
		return fmt.Errorf("pass notification for %q has no payload", j.RecipientName)
	}
	return nil
}

// Message is what the transport delivers.
type Message struct {
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"message"`
	FromEmail string `json:"fromEmail"`
	FromName  string `json:"fromName"`
}

// FormatDuration renders minutes as "<H>h <M>m".
func FormatDuration(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

// Compose builds the message for j. Sender fields are filled by the Dispatcher.
func Compose(j Job) Message {
	name := j.RecipientName
	if name == "" {
		name = "there"
	}
	where := ""
	if j.Context != "" {
		where = " (" + j.Context + ")"
	}
	at := j.At.Format("Mon 2 Jan 2006 15:04 MST")

	m := Message{To: j.RecipientEmail}
	switch j.Kind {
	case KindCheckIn:
		m.Subject = "You're checked in"
		m.Body = fmt.Sprintf("Hi %s,\n\nYou checked in%s at %s.\nScan your code again when you leave to check out.", name, where, at)
	case KindCheckOut:
		d := 0
		if j.DurationMinutes != nil {
			d = *j.DurationMinutes
		}
		m.Subject = "You're checked out"
		m.Body = fmt.Sprintf("Hi %s,\n\nYou checked out%s at %s.\nTime attended: %s.", name, where, at, FormatDuration(d))
	case KindPass:
		m.Subject = "Your attendance code"
		m.Body = fmt.Sprintf("Hi %s,\n\nPresent this code at the scanner to check in and out%s:\n\n%s", name, where, j.Payload)
	}
	return m
}
