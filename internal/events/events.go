package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Server to client.
const (
	ExamAttemptStarted   = "exam-attempt-started"
	ExamAttemptCompleted = "exam-attempt-completed"
	BookingCreated       = "booking-created"
	PaymentProcessed     = "payment-processed"
	UserLogin            = "user-login"
	UserLogout           = "user-logout"
	Notification         = "notification"
	NewExamAvailable     = "new-exam-available"
)

// Client to server.
const (
	JoinChannel      = "join-channel"
	SendNotification = "send-notification"
)

// ConnectionState is dispatched locally, never received from the server.
const ConnectionState = "connection-state"

// Mutations lists the server events that change data a view may be showing.
var Mutations = []string{
	ExamAttemptStarted,
	ExamAttemptCompleted,
	BookingCreated,
	PaymentProcessed,
	UserLogin,
	UserLogout,
	Notification,
	NewExamAvailable,
}

var ErrEmptyName = errors.New("event name is empty")

// Event is one inbound message. It is consumed by the handlers registered at
// the moment it arrives and then discarded.
type Event struct {
	Name       string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// New builds an Event from a Go value, used for locally originated events.
func New(name string, payload any, at time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return Event{Name: name, Payload: data, ReceivedAt: at}, nil
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Name, err)
	}
	return nil
}

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals name and payload into a wire frame.
func Encode(name string, payload any) ([]byte, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	env := Envelope{Event: name}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", name, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Parse decodes a wire frame into an Event stamped with at.
func Parse(frame []byte, at time.Time) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Event{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Event == "" {
		return Event{}, ErrEmptyName
	}
	return Event{Name: env.Event, Payload: env.Data, ReceivedAt: at}, nil
}
