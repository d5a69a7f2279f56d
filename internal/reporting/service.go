package reporting

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"crm-telephony/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// unknownNumber groups calls whose our-side number was never captured.
const unknownNumber = "Unknown"

// Service builds per-number call summaries from the call store. It is
// read-only; calls.Store.List enforces the number allow-list.
type Service struct {
	store calls.Store
	clock func() time.Time
}

func NewService(store calls.Store) *Service {
	return &Service{store: store, clock: time.Now}
}

// ParseRange resolves a range token relative to now. An empty token is
// treated as 7days.
func ParseRange(token string, now time.Time) (TimeRange, error) {
	now = now.UTC()
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "", Range7Days:
		return TimeRange{From: now.AddDate(0, 0, -7), To: now}, nil
	case Range1Month:
		return TimeRange{From: now.AddDate(0, -1, 0), To: now}, nil
	case Range1Year:
		return TimeRange{From: now.AddDate(-1, 0, 0), To: now}, nil
	case RangeAll:
		return TimeRange{}, nil
	default:
		return TimeRange{}, ErrInvalidRequest
	}
}

func (s *Service) Inbound(ctx context.Context, rangeToken string, numbers []string) (Summary, error) {
	return s.Summarize(ctx, SummaryRequest{Direction: calls.DirectionInbound, Range: rangeToken, Numbers: numbers})
}

func (s *Service) Outbound(ctx context.Context, rangeToken string, numbers []string) (Summary, error) {
	return s.Summarize(ctx, SummaryRequest{Direction: calls.DirectionOutbound, Range: rangeToken, Numbers: numbers})
}

// Summarize groups the direction's calls by our-side number: the dialed
// number for inbound calls and the caller number for outbound ones.
func (s *Service) Summarize(ctx context.Context, req SummaryRequest) (Summary, error) {
	if req.Direction != calls.DirectionInbound && req.Direction != calls.DirectionOutbound {
		return Summary{}, ErrInvalidRequest
	}
	if s.store == nil {
		return Summary{}, errors.New("reporting: store not configured")
	}
	window, err := ParseRange(req.Range, s.clock())
	if err != nil {
		return Summary{}, err
	}

	rows, err := s.store.List(ctx, calls.Filter{
		From:      window.From,
		To:        window.To,
		Direction: req.Direction,
		Numbers:   req.Numbers,
	})
	if err != nil {
		return Summary{}, err
	}

	token := strings.ToLower(strings.TrimSpace(req.Range))
	if token == "" {
		token = Range7Days
	}
	out := Summary{Direction: req.Direction, Range: token, Window: window, TotalCalls: len(rows)}

	groups := map[string]*NumberSummary{}
	for _, r := range rows {
		key := ourNumber(r)
		g, ok := groups[key]
		if !ok {
			g = &NumberSummary{Number: key}
			groups[key] = g
		}
		g.TotalCalls++
		g.TotalDuration += r.Duration
		switch {
		case Missed(r):
			g.MissedCalls++
		case r.Status == calls.StatusEnded:
			g.CompletedCalls++
		}
		if req.IncludeCalls {
			g.Calls = append(g.Calls, r)
		}
	}

	out.Numbers = make([]NumberSummary, 0, len(groups))
	for _, g := range groups {
		out.Numbers = append(out.Numbers, *g)
	}
	sort.Slice(out.Numbers, func(i, j int) bool {
		if out.Numbers[i].TotalCalls != out.Numbers[j].TotalCalls {
			return out.Numbers[i].TotalCalls > out.Numbers[j].TotalCalls
		}
		return out.Numbers[i].Number < out.Numbers[j].Number
	})
	return out, nil
}

// Missed reports whether an ended call never connected. The provider result
// wins when present; otherwise an ended call with no talk time counts.
func Missed(r calls.CallRecord) bool {
	if r.Result != nil && *r.Result != "" {
		res := strings.ToLower(*r.Result)
		return strings.Contains(res, "missed") || strings.Contains(res, "no answer")
	}
	return r.Status == calls.StatusEnded && r.Duration == 0
}

func ourNumber(r calls.CallRecord) string {
	n := r.ToNumber
	if r.Direction == calls.DirectionOutbound {
		n = r.FromNumber
	}
	if n == nil || strings.TrimSpace(*n) == "" {
		return unknownNumber
	}
	return *n
}
