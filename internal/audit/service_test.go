package audit

import (
	"context"
	"errors"
	"testing"
)

func TestService_AppendRequiresTypeAndCallFields(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	if err := svc.Append(context.Background(), Event{}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if err := svc.Append(context.Background(), Event{Type: EventTypeCallControl, Action: "answer"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent for missing call id, got %v", err)
	}
}

func TestService_LogCallControl(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	actor := Actor{UserID: "u1", Role: "agent", IP: "1.2.3.4"}

	if err := svc.LogCallControl(context.Background(), actor, "S1", "p1", "answer", nil); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := svc.LogCallControl(context.Background(), actor, "S1", "p1", "hangup", errors.New("boom")); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].Outcome != OutcomeOK || evs[0].IPAddress != "1.2.3.4" || evs[0].ID == "" {
		t.Fatalf("unexpected first event: %+v", evs[0])
	}
	if evs[1].Outcome != OutcomeError || evs[1].Message != "boom" {
		t.Fatalf("expected failed event with message, got %+v", evs[1])
	}
}

func TestService_LogAdminActionEncodesMetadata(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogAdminAction(context.Background(), Actor{UserID: "admin"}, "calls sync", map[string]int{"upserted": 3}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	evs := repo.Events()
	if len(evs) != 1 || evs[0].Type != EventTypeAdminAction {
		t.Fatalf("expected one admin_action event, got %+v", evs)
	}
	if string(evs[0].Metadata) != `{"upserted":3}` {
		t.Fatalf("unexpected metadata: %s", evs[0].Metadata)
	}
}

func TestMemoryRepo_ForCallAndCancelledContext(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()
	actor := Actor{UserID: "u1", Role: "agent"}

	_ = svc.LogCallControl(ctx, actor, "S1", "p1", "answer", nil)
	_ = svc.LogCallControl(ctx, actor, "S2", "p1", "answer", nil)
	_ = svc.LogAdminAction(ctx, Actor{UserID: "admin"}, "poller sweep", nil)
	_ = svc.LogCallControl(ctx, actor, "S1", "p1", "hangup", nil)

	hist := repo.ForCall("S1")
	if len(hist) != 2 || hist[0].Action != "answer" || hist[1].Action != "hangup" {
		t.Fatalf("unexpected history for S1: %+v", hist)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := svc.LogCallControl(cancelled, actor, "S1", "p1", "mute", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := len(repo.Events()); got != 4 {
		t.Fatalf("expected 4 events, got %d", got)
	}
}
