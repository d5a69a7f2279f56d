package calls

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// ClassifyStatus maps a provider status token onto the lifecycle.
// ok is false for tokens the lifecycle does not know.
func ClassifyStatus(token string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "ringing", "setup", "proceeding":
		return StatusRinging, true
	case "answered", "connected":
		return StatusActive, true
	case "disconnected", "completed", "terminated":
		return StatusEnded, true
	default:
		return "", false
	}
}

// Outcome describes what applying one event did to the store.
type Outcome struct {
	// Status is the lifecycle status the event maps to ("" when unrecognized).
	Status Status
	// Previous is the stored status before the event, nil when unknown
	// (unseen call or failed lookup).
	Previous *Status
	// Record is the stored record after a successful write.
	Record *CallRecord

	Unrecognized bool
	// Stale marks an event the store did not take as a transition: it would
	// have moved the call backwards, either against the record read before the
	// write or against a concurrent writer that got there first.
	Stale bool
}

// Entered reports whether the event moved the call into s.
func (o Outcome) Entered(s Status) bool {
	if o.Unrecognized || o.Stale || o.Status != s {
		return false
	}
	return o.Previous == nil || *o.Previous != s
}

// Reconciler applies normalized call events to the Store.
type Reconciler struct {
	store Store
	log   *slog.Logger
}

func NewReconciler(store Store, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{store: store, log: log}
}

// Apply upserts ev by call id. Replaying the same event leaves the record
// unchanged. A returned error is a persistence failure; the Outcome is still
// usable for fan-out.
func (r *Reconciler) Apply(ctx context.Context, ev CallEvent) (Outcome, error) {
	if ev.CallID == "" {
		return Outcome{}, ErrInvalidCallID
	}

	status, ok := ClassifyStatus(ev.Status)
	if !ok {
		r.log.InfoContext(ctx, "ignoring unrecognized call status", "call_id", ev.CallID, "status", ev.Status)
		return Outcome{Unrecognized: true}, nil
	}
	out := Outcome{Status: status}

	existing, err := r.store.FindByCallID(ctx, ev.CallID)
	switch {
	case err == nil:
		prev := existing.Status
		out.Previous = &prev
		if !prev.Advances(status) {
			r.log.InfoContext(ctx, "dropping stale call event", "call_id", ev.CallID, "stored", prev, "incoming", status)
			out.Stale = true
			out.Record = &existing
			if len(ev.RawPayload) == 0 {
				return out, nil
			}
			// Only the delivery body is kept; the lifecycle fields stay put.
			rec, err := r.store.UpsertByCallID(ctx, ev.CallID, Update{RawPayload: ev.RawPayload})
			if err != nil {
				return out, err
			}
			out.Record = &rec
			return out, nil
		}
	case errors.Is(err, ErrNotFound):
		existing = CallRecord{}
	default:
		// Lookup failed; still attempt the write, the upsert guards monotonicity.
		r.log.WarnContext(ctx, "call lookup failed", "call_id", ev.CallID, "err", err)
		existing = CallRecord{}
	}

	u := eventUpdate(ev, status)
	if status == StatusEnded {
		finalize(&u, ev, existing)
	}

	rec, err := r.store.UpsertByCallID(ctx, ev.CallID, u)
	if err != nil {
		return out, err
	}
	out.Record = &rec
	if rec.Status != status {
		r.log.InfoContext(ctx, "call moved past event during write", "call_id", ev.CallID, "stored", rec.Status, "incoming", status)
		out.Stale = true
	}
	return out, nil
}

func eventUpdate(ev CallEvent, status Status) Update {
	u := Update{
		Status:     &status,
		FromNumber: KnownNumber(ev.FromNumber),
		ToNumber:   KnownNumber(ev.ToNumber),
		RawPayload: ev.RawPayload,
	}
	if ev.PartyID != "" {
		u.PartyID = &ev.PartyID
	}
	if ev.Direction != "" {
		d := ev.Direction
		u.Direction = &d
	}
	if name := strings.TrimSpace(ev.CallerName); name != "" && name != UnknownValue {
		u.CallerName = &name
	}
	if ev.StartTime != nil {
		u.StartTime = ev.StartTime
	} else if !ev.Timestamp.IsZero() {
		ts := ev.Timestamp
		u.DefaultStartTime = &ts
	}
	if ev.Duration != nil {
		d := *ev.Duration
		u.Duration = &d
	}
	return u
}

// finalize fills end time and duration for a transition into ended.
// Provider end time wins, then start+duration, then a previously stored end,
// then the event timestamp. Duration is taken verbatim when supplied, else
// derived from the two timestamps.
func finalize(u *Update, ev CallEvent, existing CallRecord) {
	start := existing.StartTime
	if existing.Status != StatusEnded && ev.StartTime != nil {
		start = ev.StartTime
	}

	var end *time.Time
	switch {
	case ev.EndTime != nil:
		end = ev.EndTime
	case start != nil && ev.Duration != nil:
		e := start.Add(time.Duration(*ev.Duration) * time.Second)
		end = &e
	case existing.EndTime != nil:
		end = existing.EndTime
	case !ev.Timestamp.IsZero():
		e := ev.Timestamp
		end = &e
	}
	if end == nil {
		return
	}
	e := end.UTC()
	u.EndTime = &e

	// Unknown start with a known duration: back-date from the end.
	if start == nil && ev.Duration != nil {
		s := e.Add(-time.Duration(*ev.Duration) * time.Second)
		u.DefaultStartTime = &s
		start = &s
	}
	if u.Duration == nil && start != nil && !e.Before(*start) {
		d := int(e.Sub(*start) / time.Second)
		u.Duration = &d
	}
}
