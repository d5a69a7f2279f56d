package audit

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryRepo keeps audit events in process, in append order. Tests and
// local runs without Postgres use it.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.Metadata = append(json.RawMessage(nil), e.Metadata...)

	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

// Events returns every stored event.
func (r *MemoryRepo) Events() []Event {
	return r.filter(func(Event) bool { return true })
}

// ForCall returns the call-control history of one call.
func (r *MemoryRepo) ForCall(callID string) []Event {
	return r.filter(func(e Event) bool {
		return e.Type == EventTypeCallControl && e.CallID == callID
	})
}

func (r *MemoryRepo) filter(keep func(Event) bool) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
