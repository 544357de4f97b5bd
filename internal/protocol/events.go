package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a display event published to the sinks
type EventType string

const (
	EventMarkersLoaded     EventType = "markers_loaded"
	EventFreshnessChanged  EventType = "freshness_changed"
	EventSelectionApplied  EventType = "selection_applied"
	EventSelectionRejected EventType = "selection_rejected"
	EventKioskReset        EventType = "kiosk_reset"
	EventMapViewSaved      EventType = "map_view_saved"
)

// Event is the envelope written to kafka, the websocket hub and the journal
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent stamps an event with a fresh ID and the current time
func NewEvent(sessionID string, eventType EventType, payload interface{}) (*Event, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}

	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		SessionID: sessionID,
		At:        time.Now().UTC(),
		Payload:   raw,
	}, nil
}

// FreshnessPayload accompanies EventFreshnessChanged
type FreshnessPayload struct {
	LastUpdated string  `json:"last_updated"`
	AgeMinutes  float64 `json:"age_minutes"`
	Threshold   float64 `json:"threshold"`
	Fresh       bool    `json:"fresh"`
	Error       string  `json:"error,omitempty"`
}

// SelectionPayload accompanies the selection events
type SelectionPayload struct {
	Filters []string `json:"filters"`
	Codes   []string `json:"codes,omitempty"`
	Invalid []string `json:"invalid,omitempty"`
	Count   int      `json:"count"`
	Error   string   `json:"error,omitempty"`
}

// MarkersPayload accompanies EventMarkersLoaded
type MarkersPayload struct {
	Loaded  int `json:"loaded"`
	Skipped int `json:"skipped"`
}

// EncodeEvent encodes an Event to JSON
func EncodeEvent(event *Event) ([]byte, error) {
	return json.Marshal(event)
}

// DecodeEvent decodes JSON to Event
func DecodeEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
