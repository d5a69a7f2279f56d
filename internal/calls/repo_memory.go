package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-node development.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]CallRecord
	clock   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]CallRecord{}, clock: time.Now}
}

func (s *MemoryStore) UpsertByCallID(ctx context.Context, callID string, u Update) (CallRecord, error) {
	if callID == "" {
		return CallRecord{}, ErrInvalidCallID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	r, ok := s.records[callID]
	if !ok {
		r = CallRecord{CallID: callID, CreatedAt: now}
	}
	apply(&r, u, now)
	s.records[callID] = r
	return clone(r), nil
}

func (s *MemoryStore) FindByCallID(ctx context.Context, callID string) (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[callID]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return clone(r), nil
}

func (s *MemoryStore) FindEndedWithoutRecording(ctx context.Context, limit, maxAttempts int) ([]CallRecord, error) {
	return s.selectNewest(limit, func(r CallRecord) bool {
		return r.Status == StatusEnded && r.RecordingID == nil && r.RecordingFetchAttempts < maxAttempts
	}), nil
}

func (s *MemoryStore) FindPendingInsights(ctx context.Context, limit, maxAttempts int) ([]CallRecord, error) {
	return s.selectNewest(limit, func(r CallRecord) bool {
		if r.Status != StatusEnded || r.RecordingID == nil {
			return false
		}
		if r.InsightsStatus == InsightsCompleted || r.InsightsStatus == InsightsFailed {
			return false
		}
		return r.InsightsFetchAttempts < maxAttempts
	}), nil
}

func (s *MemoryStore) List(ctx context.Context, f Filter) ([]CallRecord, error) {
	allowed := map[string]struct{}{}
	for _, n := range NormalizeNumbers(f.Numbers) {
		allowed[n] = struct{}{}
	}
	touches := func(p *string) bool {
		if p == nil {
			return false
		}
		_, ok := allowed[NormalizeDigits(*p)]
		return ok
	}

	return s.selectNewest(f.Limit, func(r CallRecord) bool {
		if f.Direction != "" && r.Direction != f.Direction {
			return false
		}
		if !f.From.IsZero() || !f.To.IsZero() {
			if r.StartTime == nil {
				return false
			}
			if !f.From.IsZero() && r.StartTime.Before(f.From) {
				return false
			}
			if !f.To.IsZero() && !r.StartTime.Before(f.To) {
				return false
			}
		}
		if f.Numbers != nil && !touches(r.FromNumber) && !touches(r.ToNumber) {
			return false
		}
		return true
	}), nil
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *MemoryStore) selectNewest(limit int, keep func(CallRecord) bool) []CallRecord {
	s.mu.Lock()
	out := make([]CallRecord, 0)
	for _, r := range s.records {
		if keep(r) {
			out = append(out, clone(r))
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		ti, tj := sortTime(out[i]), sortTime(out[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].CallID < out[j].CallID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortTime(r CallRecord) time.Time {
	if r.StartTime != nil {
		return *r.StartTime
	}
	return r.CreatedAt
}

func clone(r CallRecord) CallRecord {
	if r.Highlights != nil {
		r.Highlights = append([]string{}, r.Highlights...)
	}
	if r.RawPayload != nil {
		r.RawPayload = append([]byte(nil), r.RawPayload...)
	}
	return r
}
