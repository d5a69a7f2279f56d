package calls

import (
	"encoding/json"
	"time"
)

// CallRecord is one telephony call attempt, keyed by the provider call id.
//
// Invariants:
// - CallID is unique; every write is an upsert on it.
// - Status only moves forward (ringing -> active -> ended).
// - Once ended, StartTime and Direction are frozen.
type CallRecord struct {
	CallID  string `json:"callId" db:"call_id"`
	PartyID string `json:"partyId,omitempty" db:"party_id"`

	Direction  Direction `json:"direction,omitempty" db:"direction"`
	FromNumber *string   `json:"fromNumber" db:"from_number"`
	ToNumber   *string   `json:"toNumber" db:"to_number"`
	CallerName *string   `json:"callerName" db:"caller_name"`

	StartTime *time.Time `json:"startTime" db:"start_time"`
	EndTime   *time.Time `json:"endTime" db:"end_time"`
	// Duration is in seconds.
	Duration int     `json:"duration" db:"duration"`
	Result   *string `json:"result" db:"result"`
	Status   Status  `json:"status" db:"status"`

	RecordingID            *string `json:"recordingId" db:"recording_id"`
	RecordingURL           *string `json:"recordingUrl" db:"recording_url"`
	RecordingFetchAttempts int     `json:"recordingFetchAttempts" db:"recording_fetch_attempts"`

	Transcript *string  `json:"transcript" db:"transcript"`
	AISummary  *string  `json:"aiSummary" db:"ai_summary"`
	AIScore    *float64 `json:"aiScore" db:"ai_score"`
	Highlights []string `json:"highlights" db:"highlights"`
	CallNotes  *string  `json:"callNotes" db:"call_notes"`

	InsightsStatus        InsightsStatus `json:"insightsStatus,omitempty" db:"insights_status"`
	InsightsFetchAttempts int            `json:"insightsFetchAttempts" db:"insights_fetch_attempts"`
	InsightsLastFetch     *time.Time     `json:"insightsLastFetch" db:"insights_last_fetch"`

	RawPayload json.RawMessage `json:"rawPayload,omitempty" db:"raw_payload"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "Inbound"
	DirectionOutbound Direction = "Outbound"
)

type Status string

const (
	StatusRinging Status = "ringing"
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
)

// rank orders statuses along the lifecycle; unknown statuses rank lowest.
func (s Status) rank() int {
	switch s {
	case StatusRinging:
		return 1
	case StatusActive:
		return 2
	case StatusEnded:
		return 3
	default:
		return 0
	}
}

// Advances reports whether moving from s to next keeps the lifecycle monotonic.
func (s Status) Advances(next Status) bool {
	return next.rank() >= s.rank()
}

type InsightsStatus string

const (
	InsightsPending    InsightsStatus = "pending"
	InsightsProcessing InsightsStatus = "processing"
	InsightsCompleted  InsightsStatus = "completed"
	InsightsFailed     InsightsStatus = "failed"
)

// Insights is the AI-derived payload for a recorded call.
type Insights struct {
	Transcript string   `json:"transcript"`
	Summary    string   `json:"summary"`
	Score      *float64 `json:"score,omitempty"`
	Highlights []string `json:"highlights"`
	CallNotes  string   `json:"callNotes"`
}

// CallEvent is the normalized form of one webhook delivery. It is never
// persisted on its own.
type CallEvent struct {
	CallID     string    `json:"callId"`
	PartyID    string    `json:"partyId"`
	Direction  Direction `json:"direction"`
	FromNumber string    `json:"from"`
	ToNumber   string    `json:"to"`
	CallerName string    `json:"callerName"`
	// Status is the lower-cased, trimmed provider status token.
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`

	// Optional provider-supplied timing.
	StartTime *time.Time `json:"-"`
	EndTime   *time.Time `json:"-"`
	Duration  *int       `json:"-"`

	RawPayload json.RawMessage `json:"-"`
}

// UnknownValue is the placeholder the normalizer uses for missing party fields.
const UnknownValue = "Unknown"
