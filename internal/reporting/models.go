package reporting

import (
	"time"

	"crm-telephony/internal/calls"
)

// Range tokens accepted by the summary endpoints.
const (
	Range7Days  = "7days"
	Range1Month = "1month"
	Range1Year  = "1year"
	RangeAll    = "all"
)

// TimeRange bounds a summary. Zero values are open ends.
type TimeRange struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// SummaryRequest asks for one direction's summary.
//
// Numbers is the caller's allow-list: nil means every number (admins),
// an empty non-nil slice matches nothing.
type SummaryRequest struct {
	Direction calls.Direction
	Range     string
	Numbers   []string
	// IncludeCalls attaches the matching records to each group.
	IncludeCalls bool
}

// NumberSummary aggregates the calls of one of our numbers.
type NumberSummary struct {
	Number string `json:"number"`

	TotalCalls     int `json:"totalCalls"`
	MissedCalls    int `json:"missedCalls"`
	CompletedCalls int `json:"completedCalls"`
	// TotalDuration is in seconds.
	TotalDuration int `json:"totalDuration"`

	Calls []calls.CallRecord `json:"callDetails,omitempty"`
}

type Summary struct {
	Direction  calls.Direction `json:"direction"`
	Range      string          `json:"range"`
	Window     TimeRange       `json:"window"`
	TotalCalls int             `json:"totalCalls"`
	Numbers    []NumberSummary `json:"summary"`
}
