package database

import (
	"encoding/json"
	"time"

	"github.com/smukkama/metarmap-console/internal/protocol"
)

// EventRecord is one row of the display event journal
type EventRecord struct {
	ID         int64
	EventID    string
	EventType  string
	SessionID  string
	OccurredAt time.Time
	Payload    []byte // JSON, nil when the event carries none
	RecordedAt time.Time
}

// NewEventRecord converts a display event into its journal row
func NewEventRecord(event *protocol.Event) *EventRecord {
	rec := &EventRecord{
		EventID:    event.ID,
		EventType:  string(event.Type),
		SessionID:  event.SessionID,
		OccurredAt: event.At,
	}
	if len(event.Payload) > 0 {
		rec.Payload = []byte(event.Payload)
	}
	return rec
}

// Event converts the row back into a display event
func (r *EventRecord) Event() *protocol.Event {
	event := &protocol.Event{
		ID:        r.EventID,
		Type:      protocol.EventType(r.EventType),
		SessionID: r.SessionID,
		At:        r.OccurredAt,
	}
	if len(r.Payload) > 0 {
		event.Payload = json.RawMessage(r.Payload)
	}
	return event
}

// AppliedSelection is the last selection a session applied
type AppliedSelection struct {
	SessionID string    `json:"session_id"`
	Filters   []string  `json:"filters"`
	Codes     []string  `json:"codes"`
	Count     int       `json:"count"`
	AppliedAt time.Time `json:"applied_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HourlyCount is one row of the hourly event rollup
type HourlyCount struct {
	SessionID string
	EventType string
	Hour      time.Time
	Count     int
}
