//go:build integration

package calls

import (
	"context"
	"os"
	"testing"
	"time"

	"crm-telephony/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := utils.OpenPostgres(ctx, "pgx", dsn, utils.PostgresPoolConfig{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s := NewPostgresStore(db)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM call_records WHERE call_id LIKE 'it-%'`); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	return s
}

func TestPostgresStore_LifecycleMatchesMemoryStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := NewReconciler(s, nil)

	ev := ringingEvent()
	ev.CallID = "it-S1"
	if _, err := rec.Apply(ctx, ev); err != nil {
		t.Fatalf("ringing: %v", err)
	}
	end := disconnectedEvent()
	end.CallID = "it-S1"
	if _, err := rec.Apply(ctx, end); err != nil {
		t.Fatalf("ended: %v", err)
	}

	ringing := StatusRinging
	out := DirectionOutbound
	// Bypass the reconciler to check the SQL guard directly.
	r, err := s.UpsertByCallID(ctx, "it-S1", Update{Status: &ringing, Direction: &out, StartTime: timePtr(t0.Add(time.Hour))})
	if err != nil {
		t.Fatalf("late upsert: %v", err)
	}
	if r.Status != StatusEnded || r.Direction != DirectionInbound || !r.StartTime.Equal(t0) {
		t.Fatalf("terminal record regressed: %+v", r)
	}
	if r.Duration != 42 || r.EndTime == nil || !r.EndTime.Equal(t0.Add(42*time.Second)) {
		t.Fatalf("unexpected timing: %+v", r)
	}

	if _, err := s.UpsertByCallID(ctx, "it-S1", Update{IncRecordingFetchAttempts: true}); err != nil {
		t.Fatalf("inc: %v", err)
	}
	cands, err := s.FindEndedWithoutRecording(ctx, 5, 5)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	found := false
	for _, c := range cands {
		if c.CallID == "it-S1" {
			found = true
			if c.RecordingFetchAttempts != 1 {
				t.Fatalf("expected 1 attempt, got %d", c.RecordingFetchAttempts)
			}
		}
	}
	if !found {
		t.Fatalf("expected it-S1 among candidates")
	}

	score := 7.5
	completed := InsightsCompleted
	r, err = s.UpsertByCallID(ctx, "it-S1", Update{
		RecordingID:    strPtr("rec-1"),
		Insights:       &Insights{Transcript: "hi", Summary: "s", Score: &score, Highlights: []string{"h1"}},
		InsightsStatus: &completed,
	})
	if err != nil {
		t.Fatalf("insights: %v", err)
	}
	if r.AIScore == nil || *r.AIScore != 7.5 || len(r.Highlights) != 1 || r.InsightsStatus != InsightsCompleted {
		t.Fatalf("unexpected insights: %+v", r)
	}

	scoped, err := s.List(ctx, Filter{Numbers: []string{"1 555 123 0000"}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(scoped) == 0 {
		t.Fatalf("expected scoped match")
	}
}
