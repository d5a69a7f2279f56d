package live

import (
	"context"
	"time"

	"crm-telephony/internal/calls"
	"crm-telephony/internal/telephony"
)

// Publisher turns reconciled webhook events and call-control results into
// live frames.
type Publisher struct {
	hub *Hub
}

var (
	_ telephony.EventPublisher  = (*Publisher)(nil)
	_ telephony.ControlNotifier = (*Publisher)(nil)
)

func NewPublisher(hub *Hub) *Publisher { return &Publisher{hub: hub} }

// PublishCallEvent always sends call-event, whether or not the store write
// succeeded, then call-active or call-ended on a transition into that state.
func (p *Publisher) PublishCallEvent(_ context.Context, ev calls.CallEvent, out calls.Outcome) {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = p.hub.clock().UTC()
	}
	p.hub.Broadcast(EventCall, CallEventData{
		CallID:     ev.CallID,
		PartyID:    ev.PartyID,
		From:       ev.FromNumber,
		To:         ev.ToNumber,
		CallerName: ev.CallerName,
		Status:     ev.Status,
		Direction:  string(ev.Direction),
		Timestamp:  ts,
	})

	switch {
	case out.Entered(calls.StatusActive):
		p.hub.Broadcast(EventActive, StatusData{CallID: ev.CallID, Status: string(calls.StatusActive), Timestamp: ts})
	case out.Entered(calls.StatusEnded):
		data := StatusData{CallID: ev.CallID, Status: string(calls.StatusEnded), Timestamp: ts}
		if out.Record != nil {
			d := out.Record.Duration
			data.Duration = &d
		}
		p.hub.Broadcast(EventEnded, data)
	}
}

// PublishControl announces a successful call-control action.
func (p *Publisher) PublishControl(_ context.Context, r telephony.ControlResult) {
	now := p.hub.clock().UTC()
	switch r.Action {
	case telephony.ActionAnswer:
		p.hub.Broadcast(EventActive, StatusData{CallID: r.CallID, Status: string(calls.StatusActive), Timestamp: now})
	case telephony.ActionHangup:
		p.hub.Broadcast(EventEnded, StatusData{CallID: r.CallID, Status: string(calls.StatusEnded), Timestamp: now})
	default:
		p.hub.Broadcast(EventUpdated, updatedData{ControlResult: r, Timestamp: now})
	}
}

type updatedData struct {
	telephony.ControlResult
	Timestamp time.Time `json:"timestamp"`
}
