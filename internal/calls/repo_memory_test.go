package calls

import (
	"context"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func seedEnded(t *testing.T, s *MemoryStore, id string, start time.Time, from, to string) {
	t.Helper()
	ended := StatusEnded
	dir := DirectionInbound
	if _, err := s.UpsertByCallID(context.Background(), id, Update{
		Status:     &ended,
		Direction:  &dir,
		StartTime:  &start,
		FromNumber: strPtr(from),
		ToNumber:   strPtr(to),
	}); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestMemoryStore_UpsertRejectsEmptyID(t *testing.T) {
	if _, err := NewMemoryStore().UpsertByCallID(context.Background(), "", Update{}); err != ErrInvalidCallID {
		t.Fatalf("expected ErrInvalidCallID, got %v", err)
	}
}

func TestMemoryStore_FindEndedWithoutRecordingNewestFirstAndBounded(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c", "d"} {
		seedEnded(t, s, id, t0.Add(time.Duration(i)*time.Minute), "+1555", "+1666")
	}
	// d already has a recording; c has exhausted its attempts.
	if _, err := s.UpsertByCallID(ctx, "d", Update{RecordingID: strPtr("r-d")}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := s.UpsertByCallID(ctx, "c", Update{IncRecordingFetchAttempts: true}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	got, err := s.FindEndedWithoutRecording(ctx, 2, 5)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 2 || got[0].CallID != "b" || got[1].CallID != "a" {
		t.Fatalf("unexpected candidates: %+v", got)
	}
}

func TestMemoryStore_FindPendingInsights(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	pending := InsightsPending
	completed := InsightsCompleted

	seedEnded(t, s, "a", t0, "+1555", "+1666")
	seedEnded(t, s, "b", t0.Add(time.Minute), "+1555", "+1666")
	seedEnded(t, s, "c", t0.Add(2*time.Minute), "+1555", "+1666")
	s.UpsertByCallID(ctx, "a", Update{RecordingID: strPtr("r-a"), InsightsStatus: &pending})
	s.UpsertByCallID(ctx, "b", Update{RecordingID: strPtr("r-b"), InsightsStatus: &completed})

	got, _ := s.FindPendingInsights(ctx, 5, 5)
	if len(got) != 1 || got[0].CallID != "a" {
		t.Fatalf("unexpected pending insights: %+v", got)
	}
}

func TestMemoryStore_ListFiltersByRangeDirectionAndNumbers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedEnded(t, s, "a", t0, "+1 (555) 123-0000", "+15559998888")
	seedEnded(t, s, "b", t0.Add(48*time.Hour), "+15550001111", "+15557776666")
	out := DirectionOutbound
	s.UpsertByCallID(ctx, "c", Update{Direction: &out, StartTime: timePtr(t0), FromNumber: strPtr("+15559998888")})

	all, _ := s.List(ctx, Filter{})
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}

	ranged, _ := s.List(ctx, Filter{From: t0.Add(-time.Hour), To: t0.Add(time.Hour)})
	if len(ranged) != 2 {
		t.Fatalf("expected 2 records in range, got %d", len(ranged))
	}

	inbound, _ := s.List(ctx, Filter{Direction: DirectionInbound})
	if len(inbound) != 2 {
		t.Fatalf("expected 2 inbound, got %d", len(inbound))
	}

	scoped, _ := s.List(ctx, Filter{Numbers: []string{"15551230000"}})
	if len(scoped) != 1 || scoped[0].CallID != "a" {
		t.Fatalf("expected digits-normalized match on a, got %+v", scoped)
	}

	none, _ := s.List(ctx, Filter{Numbers: []string{}})
	if len(none) != 0 {
		t.Fatalf("empty allow-list must match nothing, got %d", len(none))
	}
}

func TestNormalizeDigits(t *testing.T) {
	if got := NormalizeDigits("+1 (555) 123-0000"); got != "15551230000" {
		t.Fatalf("unexpected digits %q", got)
	}
	if NormalizeNumbers(nil) != nil {
		t.Fatalf("nil allow-list must stay nil")
	}
}
