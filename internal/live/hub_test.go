package live

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"crm-telephony/internal/audit"
	"crm-telephony/internal/calls"
	"crm-telephony/internal/telephony"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func attach(h *Hub, id string, buffer int) *Session {
	s := newSession(id, audit.Actor{UserID: id}, buffer, nil)
	h.register(s)
	return s
}

type decoded struct {
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func drain(t *testing.T, s *Session) []decoded {
	t.Helper()
	var out []decoded
	for {
		select {
		case frame := <-s.send:
			var m decoded
			if err := json.Unmarshal(frame, &m); err != nil {
				t.Fatalf("decode frame: %v", err)
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestHub_BroadcastReachesEverySession(t *testing.T) {
	h := NewHub(4, quietLogger())
	a, b := attach(h, "a", 4), attach(h, "b", 4)

	h.Broadcast(EventCall, CallEventData{CallID: "S1", Status: "ringing"})

	for _, s := range []*Session{a, b} {
		msgs := drain(t, s)
		if len(msgs) != 1 || msgs[0].Event != EventCall || msgs[0].ID == "" {
			t.Fatalf("session %s: unexpected frames %+v", s.ID, msgs)
		}
	}
}

func TestHub_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(1, quietLogger())
	s := attach(h, "slow", 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			h.Broadcast(EventCall, CallEventData{CallID: "S1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("broadcast blocked on a full session")
	}
	if got := len(drain(t, s)); got != 1 {
		t.Fatalf("expected 1 buffered frame, got %d", got)
	}
}

func TestHub_UnregisteredSessionGetsNothing(t *testing.T) {
	h := NewHub(4, quietLogger())
	s := attach(h, "gone", 4)
	h.unregister(s)

	h.Broadcast(EventCall, CallEventData{CallID: "S1"})
	if h.Len() != 0 || len(drain(t, s)) != 0 {
		t.Fatalf("expected no delivery after unregister")
	}
}

type chanRelay chan string

func (c chanRelay) Publish(_ context.Context, event string, _ []byte) error {
	c <- event
	return nil
}

func TestHub_BroadcastPublishesToRelay(t *testing.T) {
	h := NewHub(4, quietLogger())
	relay := make(chanRelay, 1)
	h.SetRelay(relay)

	h.Broadcast(EventEnded, StatusData{CallID: "S1"})
	select {
	case ev := <-relay:
		if ev != EventEnded {
			t.Fatalf("unexpected relayed event %q", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected relay publish")
	}
}

func TestRedisRelay_SkipsOwnFrames(t *testing.T) {
	h := NewHub(4, quietLogger())
	s := attach(h, "a", 4)
	r := NewRedisRelay(nil, "", h, quietLogger())

	frame, _ := encode(EventCall, CallEventData{CallID: "S1"}, time.Now())
	own, _ := json.Marshal(relayEnvelope{Origin: r.nodeID, Event: EventCall, Frame: frame})
	other, _ := json.Marshal(relayEnvelope{Origin: "other-node", Event: EventCall, Frame: frame})

	r.handle(string(own))
	r.handle("not json")
	r.handle(string(other))

	if got := len(drain(t, s)); got != 1 {
		t.Fatalf("expected only the remote frame, got %d", got)
	}
}

func TestPublisher_TransitionsAddNarrowEvents(t *testing.T) {
	h := NewHub(8, quietLogger())
	s := attach(h, "a", 8)
	p := NewPublisher(h)
	ev := calls.CallEvent{CallID: "S1", Status: "ringing", Timestamp: time.Now()}

	p.PublishCallEvent(context.Background(), ev, calls.Outcome{Status: calls.StatusRinging})
	if msgs := drain(t, s); len(msgs) != 1 || msgs[0].Event != EventCall {
		t.Fatalf("ringing should only send call-event, got %+v", msgs)
	}

	prev := calls.StatusRinging
	ev.Status = "answered"
	p.PublishCallEvent(context.Background(), ev, calls.Outcome{Status: calls.StatusActive, Previous: &prev})
	if msgs := drain(t, s); len(msgs) != 2 || msgs[1].Event != EventActive {
		t.Fatalf("expected call-event + call-active, got %+v", msgs)
	}

	active := calls.StatusActive
	rec := calls.CallRecord{CallID: "S1", Duration: 42}
	ev.Status = "disconnected"
	p.PublishCallEvent(context.Background(), ev, calls.Outcome{Status: calls.StatusEnded, Previous: &active, Record: &rec})
	msgs := drain(t, s)
	if len(msgs) != 2 || msgs[1].Event != EventEnded {
		t.Fatalf("expected call-event + call-ended, got %+v", msgs)
	}
	var data StatusData
	if err := json.Unmarshal(msgs[1].Data, &data); err != nil || data.Duration == nil || *data.Duration != 42 {
		t.Fatalf("expected duration in call-ended, got %s", msgs[1].Data)
	}

	// Replay of the ended event: call-event only.
	ended := calls.StatusEnded
	p.PublishCallEvent(context.Background(), ev, calls.Outcome{Status: calls.StatusEnded, Previous: &ended, Record: &rec})
	if msgs := drain(t, s); len(msgs) != 1 {
		t.Fatalf("replay should not re-send call-ended, got %+v", msgs)
	}
}

func TestPublisher_ControlResults(t *testing.T) {
	h := NewHub(8, quietLogger())
	s := attach(h, "a", 8)
	p := NewPublisher(h)
	muted := true

	p.PublishControl(context.Background(), telephony.ControlResult{CallID: "S1", Action: telephony.ActionAnswer})
	p.PublishControl(context.Background(), telephony.ControlResult{CallID: "S1", Action: telephony.ActionMute, Muted: &muted})
	p.PublishControl(context.Background(), telephony.ControlResult{CallID: "S1", Action: telephony.ActionHangup})

	msgs := drain(t, s)
	want := []string{EventActive, EventUpdated, EventEnded}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d frames, got %d", len(want), len(msgs))
	}
	for i, w := range want {
		if msgs[i].Event != w {
			t.Fatalf("frame %d: expected %s, got %s", i, w, msgs[i].Event)
		}
	}
}
