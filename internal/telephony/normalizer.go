package telephony

import (
	"encoding/json"
	"strings"
	"time"

	"crm-telephony/internal/calls"
)

type ParseKind int

const (
	// Recognized carries a CallEvent.
	Recognized ParseKind = iota + 1
	// Ignored is a well-formed delivery that is not a call event
	// (subscription notices, sessions without parties).
	Ignored
	// Malformed is a body that is not a JSON object.
	Malformed
)

func (k ParseKind) String() string {
	switch k {
	case Recognized:
		return "recognized"
	case Ignored:
		return "ignored"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// ParseResult is the outcome of normalizing one webhook body.
type ParseResult struct {
	Kind   ParseKind
	Event  calls.CallEvent
	Reason string
}

func recognized(ev calls.CallEvent) ParseResult { return ParseResult{Kind: Recognized, Event: ev} }
func ignored(reason string) ParseResult         { return ParseResult{Kind: Ignored, Reason: reason} }
func malformed(reason string) ParseResult       { return ParseResult{Kind: Malformed, Reason: reason} }

type partyEndpoint struct {
	PhoneNumber     string `json:"phoneNumber"`
	ExtensionNumber string `json:"extensionNumber"`
	Name            string `json:"name"`
	CallerIDName    string `json:"callerIdName"`
}

type sessionParty struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
	Status    struct {
		Code string `json:"code"`
	} `json:"status"`
	From partyEndpoint `json:"from"`
	To   partyEndpoint `json:"to"`

	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Duration  *int   `json:"duration"`
}

type sessionBody struct {
	TelephonySessionID string         `json:"telephonySessionId"`
	SessionID          string         `json:"sessionId"`
	EventTime          string         `json:"eventTime"`
	Parties            []sessionParty `json:"parties"`

	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Duration  *int   `json:"duration"`
}

// Timestamps stay strings so one unparseable value does not sink the event.
type envelope struct {
	UUID      string          `json:"uuid"`
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Body      json.RawMessage `json:"body"`
}

// Normalize converts a raw webhook body into a CallEvent.
//
// Extraction order:
//  1. notification envelope: {"event", "timestamp", "body": {session}}
//  2. bare session object:   {"telephonySessionId", "parties": [...]}
//
// Anything else is Ignored; only undecodable JSON is Malformed.
func Normalize(raw []byte, received time.Time) ParseResult {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return malformed("body is not a json object")
	}

	sessionRaw := []byte(env.Body)
	if len(env.Body) == 0 || string(env.Body) == "null" {
		sessionRaw = raw
	}
	var body sessionBody
	if err := json.Unmarshal(sessionRaw, &body); err != nil {
		return ignored("no session block")
	}

	callID := strings.TrimSpace(body.TelephonySessionID)
	if callID == "" {
		callID = strings.TrimSpace(body.SessionID)
	}
	if callID == "" {
		return ignored("no session id")
	}
	if len(body.Parties) == 0 {
		return ignored("no parties")
	}

	p := pickParty(body.Parties)
	ev := calls.CallEvent{
		CallID:     callID,
		PartyID:    p.ID,
		Direction:  direction(p.Direction),
		FromNumber: firstNonEmpty(p.From.PhoneNumber, p.From.ExtensionNumber, calls.UnknownValue),
		ToNumber:   firstNonEmpty(p.To.PhoneNumber, p.To.ExtensionNumber, calls.UnknownValue),
		CallerName: firstNonEmpty(p.From.Name, p.From.CallerIDName, calls.UnknownValue),
		Status:     strings.ToLower(strings.TrimSpace(p.Status.Code)),
		Timestamp:  received.UTC(),
		RawPayload: json.RawMessage(append([]byte(nil), sessionRaw...)),
	}
	if ts := firstTime(env.Timestamp, body.EventTime); ts != nil {
		ev.Timestamp = *ts
	}

	ev.StartTime = firstTime(p.StartTime, body.StartTime)
	ev.EndTime = firstTime(p.EndTime, body.EndTime)
	ev.Duration = p.Duration
	if ev.Duration == nil {
		ev.Duration = body.Duration
	}
	return recognized(ev)
}

// pickParty returns the first party that is not Disconnected, or the first
// party when all of them are (the final delivery of a finished call).
func pickParty(parties []sessionParty) sessionParty {
	for _, p := range parties {
		if !strings.EqualFold(strings.TrimSpace(p.Status.Code), PartyStatusDisconnected) {
			return p
		}
	}
	return parties[0]
}

func direction(s string) calls.Direction {
	switch {
	case strings.EqualFold(s, string(calls.DirectionInbound)):
		return calls.DirectionInbound
	case strings.EqualFold(s, string(calls.DirectionOutbound)):
		return calls.DirectionOutbound
	default:
		return ""
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// firstTime parses the first RFC 3339 value in vals.
func firstTime(vals ...string) *time.Time {
	for _, v := range vals {
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v))
		if err != nil || t.IsZero() {
			continue
		}
		u := t.UTC()
		return &u
	}
	return nil
}
