package models

import (
	"encoding/json"
	"time"
)

// EventName identifies a realtime event on the push transport.
type EventName string

const (
	// EventConnected is delivered locally by a transport each time it (re)connects.
	EventConnected EventName = "connected"

	// Outbound room management.
	EventJoinProjectUpdates  EventName = "join_project_updates"
	EventLeaveProjectUpdates EventName = "leave_project_updates"

	// Inbound notifications.
	EventProjectNewUpdate EventName = "project_new_update"
	EventNewUpdate        EventName = "new_update"
	EventNewMessage       EventName = "new_message"
)

// Event is one realtime envelope.
type Event struct {
	Name      EventName       `json:"event"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"ts,omitempty"`
}

// ProjectRoom is the payload of join/leave requests.
type ProjectRoom struct {
	ProjectID string `json:"project_id"`
}

// ProjectUpdateNotice is the payload of EventProjectNewUpdate.
type ProjectUpdateNotice struct {
	ProjectID  string     `json:"project_id"`
	ThreadID   string     `json:"thread_id,omitempty"`
	UpdateKind UpdateKind `json:"update_kind,omitempty"`
	Preview    string     `json:"preview,omitempty"`
}

// MessageNotice is the payload of EventNewMessage.
type MessageNotice struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	RecipientID    string `json:"recipient_id"`
}

// NewEvent marshals payload into an Event stamped with the current time.
func NewEvent(name EventName, payload any) (Event, error) {
	event := Event{Name: name, Timestamp: time.Now().UTC()}
	if payload == nil {
		return event, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	event.Payload = data
	return event, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}
