package telephony

import (
	"context"
	"testing"
	"time"

	"crm-telephony/internal/credcache"
)

func TestSIPProvisioner_CachesPerUser(t *testing.T) {
	p := &fakeProvider{}
	s := NewSIPProvisioner(p, credcache.NewMemoryCache(), time.Minute)
	ctx := context.Background()

	if _, cached, err := s.Provision(ctx, "u1"); err != nil || cached {
		t.Fatalf("expected fresh provision, cached=%v err=%v", cached, err)
	}
	info, cached, err := s.Provision(ctx, "u1")
	if err != nil || !cached {
		t.Fatalf("expected cache hit, cached=%v err=%v", cached, err)
	}
	if len(info.SIPErrorCodes) != 1 {
		t.Fatalf("expected cached payload round-trip, got %+v", info)
	}
	if _, cached, _ := s.Provision(ctx, "u2"); cached {
		t.Fatalf("cache must be per user")
	}
	if p.sipCalls != 2 {
		t.Fatalf("expected 2 provider calls, got %d", p.sipCalls)
	}

	if err := s.Forget(ctx, "u1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if _, cached, _ := s.Provision(ctx, "u1"); cached {
		t.Fatalf("expected miss after forget")
	}
}
