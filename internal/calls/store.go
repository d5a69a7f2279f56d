package calls

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("calls: not found")
	ErrInvalidCallID = errors.New("calls: call id required")
)

// Store is the durable call-log contract. Implementations enforce the
// CallRecord invariants; lifecycle policy belongs to the Reconciler and poller.
type Store interface {
	// UpsertByCallID creates the record on first sight, otherwise merges u into it.
	UpsertByCallID(ctx context.Context, callID string, u Update) (CallRecord, error)
	// FindByCallID returns ErrNotFound for unknown ids.
	FindByCallID(ctx context.Context, callID string) (CallRecord, error)
	// FindEndedWithoutRecording returns up to limit ended records with no
	// recording and fewer than maxAttempts recording fetches, newest first.
	FindEndedWithoutRecording(ctx context.Context, limit, maxAttempts int) ([]CallRecord, error)
	// FindPendingInsights returns up to limit ended records that have a recording,
	// insights not yet completed or failed, and fewer than maxAttempts insight fetches.
	FindPendingInsights(ctx context.Context, limit, maxAttempts int) ([]CallRecord, error)
	// List is the read-only query surface used by reporting.
	List(ctx context.Context, f Filter) ([]CallRecord, error)
}

// Update is a partial field set. Nil fields are left untouched.
type Update struct {
	PartyID    *string
	Direction  *Direction
	FromNumber *string
	ToNumber   *string
	CallerName *string

	// StartTime overwrites the stored start unless the record has ended.
	StartTime *time.Time
	// DefaultStartTime only fills an empty start.
	DefaultStartTime *time.Time
	EndTime          *time.Time
	Duration         *int
	Result           *string
	Status           *Status

	RecordingID  *string
	RecordingURL *string

	Insights          *Insights
	InsightsStatus    *InsightsStatus
	InsightsLastFetch *time.Time

	IncRecordingFetchAttempts bool
	IncInsightsFetchAttempts  bool

	RawPayload json.RawMessage
}

// Filter narrows List. Zero values mean "no constraint", except Numbers:
// a non-nil slice restricts results to calls touching one of those numbers
// (an empty non-nil slice matches nothing).
type Filter struct {
	From      time.Time
	To        time.Time
	Direction Direction
	Numbers   []string
	Limit     int
}

// apply merges u into r following the record invariants. It is the reference
// behavior the SQL upsert mirrors.
func apply(r *CallRecord, u Update, now time.Time) {
	ended := r.Status == StatusEnded

	if u.PartyID != nil && *u.PartyID != "" {
		r.PartyID = *u.PartyID
	}
	if u.Direction != nil && *u.Direction != "" && !ended {
		r.Direction = *u.Direction
	}
	if u.FromNumber != nil {
		r.FromNumber = u.FromNumber
	}
	if u.ToNumber != nil {
		r.ToNumber = u.ToNumber
	}
	if u.CallerName != nil {
		r.CallerName = u.CallerName
	}

	if !ended {
		if u.StartTime != nil {
			r.StartTime = u.StartTime
		} else if r.StartTime == nil && u.DefaultStartTime != nil {
			r.StartTime = u.DefaultStartTime
		}
	}
	if u.EndTime != nil {
		r.EndTime = u.EndTime
	}
	if u.Duration != nil {
		r.Duration = *u.Duration
	}
	if u.Result != nil {
		r.Result = u.Result
	}
	if u.Status != nil && r.Status.Advances(*u.Status) {
		r.Status = *u.Status
	}
	if r.Status == "" {
		r.Status = StatusRinging
	}

	if u.RecordingID != nil {
		r.RecordingID = u.RecordingID
	}
	if u.RecordingURL != nil {
		r.RecordingURL = u.RecordingURL
	}
	if u.IncRecordingFetchAttempts {
		r.RecordingFetchAttempts++
	}

	if in := u.Insights; in != nil {
		r.Transcript = &in.Transcript
		r.AISummary = &in.Summary
		r.AIScore = in.Score
		r.Highlights = append([]string{}, in.Highlights...)
		r.CallNotes = &in.CallNotes
	}
	if u.InsightsStatus != nil {
		r.InsightsStatus = *u.InsightsStatus
	}
	if u.IncInsightsFetchAttempts {
		r.InsightsFetchAttempts++
	}
	if u.InsightsLastFetch != nil {
		r.InsightsLastFetch = u.InsightsLastFetch
	}

	if len(u.RawPayload) > 0 {
		r.RawPayload = append(json.RawMessage(nil), u.RawPayload...)
	}
	r.UpdatedAt = now
}

// NormalizeDigits strips everything but digits so numbers stored in
// different formats compare equal.
func NormalizeDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeNumbers applies NormalizeDigits to each entry and drops empties.
// A nil input stays nil.
func NormalizeNumbers(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, n := range in {
		if d := NormalizeDigits(n); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// KnownNumber maps the normalizer's "Unknown" placeholder and blanks to nil.
func KnownNumber(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" || s == UnknownValue {
		return nil
	}
	return &s
}
