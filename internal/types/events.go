// internal/types/events.go
package types

import "time"

// EventKind identifies what a bus event carries.
type EventKind string

const (
	EventMoodLog EventKind = "mood_log"
	EventAlert   EventKind = "alert"
	EventMessage EventKind = "message"
)

// Event is the envelope fanned out to live guardian subscriptions.
// Exactly one of Entry, Alert, or Message is non-nil, matching Kind.
type Event struct {
	Kind    EventKind     `json:"kind"`
	ChildID ChildID       `json:"child_id"`
	At      time.Time     `json:"at"`
	Entry   *MoodLogEntry `json:"entry,omitempty"`
	Alert   *Alert        `json:"alert,omitempty"`
	Message *Message      `json:"message,omitempty"`
}

// NewMoodEvent wraps a mood log entry for publication.
func NewMoodEvent(entry *MoodLogEntry) Event {
	return Event{Kind: EventMoodLog, ChildID: entry.ChildID, At: entry.Timestamp, Entry: entry}
}

// NewAlertEvent wraps an alert for publication.
func NewAlertEvent(alert *Alert) Event {
	return Event{Kind: EventAlert, ChildID: alert.ChildID, At: alert.Timestamp, Alert: alert}
}

// NewMessageEvent wraps a message for publication.
func NewMessageEvent(msg *Message) Event {
	return Event{Kind: EventMessage, ChildID: msg.ChildID, At: msg.CreatedAt, Message: msg}
}
