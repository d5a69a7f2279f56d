package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"crm-telephony/internal/calls"
)

type seed struct {
	id       string
	dir      calls.Direction
	from, to string
	status   calls.Status
	result   string
	duration int
	start    time.Time
}

func seedStore(t *testing.T, rows ...seed) *calls.MemoryStore {
	t.Helper()
	st := calls.NewMemoryStore()
	for _, r := range rows {
		r := r
		u := calls.Update{
			Direction:  &r.dir,
			FromNumber: &r.from,
			ToNumber:   &r.to,
			StartTime:  &r.start,
			Status:     &r.status,
			Duration:   &r.duration,
		}
		if r.result != "" {
			u.Result = &r.result
		}
		if _, err := st.UpsertByCallID(context.Background(), r.id, u); err != nil {
			t.Fatalf("seed %s: %v", r.id, err)
		}
	}
	return st
}

func newTestService(st calls.Store, now time.Time) *Service {
	s := NewService(st)
	s.clock = func() time.Time { return now }
	return s
}

func TestParseRange(t *testing.T) {
	now := time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		token string
		from  time.Time
	}{
		{"", now.AddDate(0, 0, -7)},
		{"7days", now.AddDate(0, 0, -7)},
		{"1MONTH", now.AddDate(0, -1, 0)},
		{"1year", now.AddDate(-1, 0, 0)},
	}
	for _, tc := range cases {
		got, err := ParseRange(tc.token, now)
		if err != nil {
			t.Fatalf("%q: unexpected err: %v", tc.token, err)
		}
		if !got.From.Equal(tc.from) || !got.To.Equal(now) {
			t.Fatalf("%q: unexpected window %+v", tc.token, got)
		}
	}

	all, err := ParseRange("all", now)
	if err != nil || !all.From.IsZero() || !all.To.IsZero() {
		t.Fatalf("expected open window for all, got %+v err=%v", all, err)
	}
	if _, err := ParseRange("fortnight", now); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestInboundSummary_GroupsByDialedNumber(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-time.Hour)
	st := seedStore(t,
		seed{id: "c1", dir: calls.DirectionInbound, from: "+15550001", to: "+15551000", status: calls.StatusEnded, result: "Call connected", duration: 40, start: recent},
		seed{id: "c2", dir: calls.DirectionInbound, from: "+15550002", to: "+15551000", status: calls.StatusEnded, result: "Missed", start: recent},
		seed{id: "c3", dir: calls.DirectionInbound, from: "+15550003", to: "+15552000", status: calls.StatusEnded, duration: 0, start: recent},
		seed{id: "c4", dir: calls.DirectionInbound, from: "+15550004", to: "+15552000", status: calls.StatusActive, start: recent},
		seed{id: "old", dir: calls.DirectionInbound, from: "+15550005", to: "+15551000", status: calls.StatusEnded, duration: 10, start: now.AddDate(0, 0, -30)},
		seed{id: "out", dir: calls.DirectionOutbound, from: "+15551000", to: "+15550009", status: calls.StatusEnded, duration: 5, start: recent},
	)
	svc := newTestService(st, now)

	sum, err := svc.Inbound(context.Background(), "7days", nil)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if sum.TotalCalls != 4 {
		t.Fatalf("expected 4 inbound calls, got %d", sum.TotalCalls)
	}
	if len(sum.Numbers) != 2 {
		t.Fatalf("expected 2 groups, got %+v", sum.Numbers)
	}

	byNumber := map[string]NumberSummary{}
	for _, g := range sum.Numbers {
		byNumber[g.Number] = g
	}
	a := byNumber["+15551000"]
	if a.TotalCalls != 2 || a.MissedCalls != 1 || a.CompletedCalls != 1 || a.TotalDuration != 40 {
		t.Fatalf("unexpected group for +15551000: %+v", a)
	}
	b := byNumber["+15552000"]
	if b.TotalCalls != 2 || b.MissedCalls != 1 || b.CompletedCalls != 0 {
		t.Fatalf("unexpected group for +15552000: %+v", b)
	}
	if a.Calls != nil {
		t.Fatalf("call details should be omitted by default")
	}
}

func TestOutboundSummary_AllRangeGroupsByCallerNumber(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	st := seedStore(t,
		seed{id: "o1", dir: calls.DirectionOutbound, from: "+15551000", to: "+15550001", status: calls.StatusEnded, result: "Call connected", duration: 30, start: now.AddDate(-2, 0, 0)},
		seed{id: "o2", dir: calls.DirectionOutbound, from: "+15551000", to: "+15550002", status: calls.StatusEnded, result: "No Answer", start: now.Add(-time.Minute)},
	)
	svc := newTestService(st, now)

	sum, err := svc.Summarize(context.Background(), SummaryRequest{Direction: calls.DirectionOutbound, Range: "all", IncludeCalls: true})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if sum.TotalCalls != 2 || len(sum.Numbers) != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	g := sum.Numbers[0]
	if g.Number != "+15551000" || g.CompletedCalls != 1 || g.MissedCalls != 1 || g.TotalDuration != 30 {
		t.Fatalf("unexpected group: %+v", g)
	}
	if len(g.Calls) != 2 {
		t.Fatalf("expected call details, got %d", len(g.Calls))
	}
}

func TestSummary_AllowListUsesDigits(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-time.Hour)
	st := seedStore(t,
		seed{id: "c1", dir: calls.DirectionInbound, from: "+15550001", to: "+1 (555) 100-0000", status: calls.StatusEnded, duration: 12, start: recent},
		seed{id: "c2", dir: calls.DirectionInbound, from: "+15550002", to: "+15559999", status: calls.StatusEnded, duration: 8, start: recent},
	)
	svc := newTestService(st, now)

	sum, err := svc.Inbound(context.Background(), "1month", []string{"15551000000"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if sum.TotalCalls != 1 || sum.Numbers[0].TotalDuration != 12 {
		t.Fatalf("expected only the assigned number, got %+v", sum)
	}

	none, err := svc.Inbound(context.Background(), "1month", []string{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if none.TotalCalls != 0 || len(none.Numbers) != 0 {
		t.Fatalf("empty allow-list must match nothing, got %+v", none)
	}
}

func TestSummary_RejectsBadInput(t *testing.T) {
	svc := newTestService(calls.NewMemoryStore(), time.Now())
	if _, err := svc.Inbound(context.Background(), "yesterday", nil); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for bad range, got %v", err)
	}
	if _, err := svc.Summarize(context.Background(), SummaryRequest{Range: "all"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for missing direction, got %v", err)
	}
}
