// Package live fans call events out to connected CRM sessions over
// websockets. Delivery is best-effort: no acknowledgement, no replay.
package live

import (
	"crypto/rand"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event names sent to clients.
const (
	EventCall    = "call-event"
	EventActive  = "call-active"
	EventEnded   = "call-ended"
	EventUpdated = "call-updated"
	EventError   = "call-error"
)

// Message is the frame written to a session.
type Message struct {
	ID    string `json:"id"`
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// CallEventData is the call-event payload.
type CallEventData struct {
	CallID     string    `json:"callId"`
	PartyID    string    `json:"partyId,omitempty"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	CallerName string    `json:"callerName"`
	Status     string    `json:"status"`
	Direction  string    `json:"direction,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// StatusData is the narrower call-active / call-ended payload.
type StatusData struct {
	CallID    string    `json:"callId"`
	Status    string    `json:"status"`
	Duration  *int      `json:"duration,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorData is sent to a single session when one of its commands fails.
type ErrorData struct {
	Command string `json:"command"`
	CallID  string `json:"callId,omitempty"`
	Error   string `json:"error"`
}

func newID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func encode(event string, data any, now time.Time) ([]byte, error) {
	return json.Marshal(Message{ID: newID(now), Event: event, Data: data})
}
