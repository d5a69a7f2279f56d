package poller

import (
	"context"
	"errors"
	"strings"
	"time"

	"crm-telephony/internal/calls"
	"crm-telephony/internal/telephony"
)

const resultInProgress = "In Progress"

// SyncReport summarizes one call-log sync.
type SyncReport struct {
	Fetched  int `json:"fetched"`
	Upserted int `json:"upserted"`
	Failed   int `json:"failed"`
}

// SyncCallLogs pulls inbound and outbound call logs for [from, to) and
// upserts each as a call record. Records are keyed by telephony session id
// when the log carries one, so they merge with webhook-created records.
func (p *Poller) SyncCallLogs(ctx context.Context, from, to time.Time) (SyncReport, error) {
	var rep SyncReport
	var errs []error
	for _, dir := range []calls.Direction{calls.DirectionInbound, calls.DirectionOutbound} {
		entries, err := p.provider.ListCallLogs(ctx, telephony.CallLogQuery{From: from, To: to, Direction: dir})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rep.Fetched += len(entries)
		for _, e := range entries {
			callID := callLogKey(e)
			if callID == "" {
				rep.Failed++
				continue
			}
			if _, err := p.store.UpsertByCallID(ctx, callID, callLogUpdate(e, dir)); err != nil {
				rep.Failed++
				p.log.Error("sync upsert failed", "call_id", callID, "err", err)
				continue
			}
			rep.Upserted++
		}
	}
	p.log.Info("call log sync finished", "fetched", rep.Fetched, "upserted", rep.Upserted, "failed", rep.Failed)
	return rep, errors.Join(errs...)
}

// RunSync syncs the trailing SyncWindow every SyncInterval; a zero
// interval disables it.
func (p *Poller) RunSync(ctx context.Context) {
	if p.cfg.SyncInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := p.clock().UTC()
			if _, err := p.SyncCallLogs(ctx, now.Add(-p.cfg.SyncWindow), now); err != nil {
				p.log.Warn("call log sync failed", "err", err)
			}
		}
	}
}

func callLogKey(e telephony.CallLogRecord) string {
	if id := strings.TrimSpace(e.TelephonySessionID); id != "" {
		return id
	}
	return strings.TrimSpace(e.ID)
}

func callLogUpdate(e telephony.CallLogRecord, dir calls.Direction) calls.Update {
	status := calls.StatusEnded
	if e.Result == resultInProgress {
		status = calls.StatusActive
	}
	u := calls.Update{
		Direction:  &dir,
		FromNumber: calls.KnownNumber(endpointNumber(e.From)),
		ToNumber:   calls.KnownNumber(endpointNumber(e.To)),
		Status:     &status,
		RawPayload: e.Raw,
	}
	if name := strings.TrimSpace(e.From.Name); name != "" {
		u.CallerName = &name
	}
	if e.Result != "" {
		res := e.Result
		u.Result = &res
	}
	d := e.Duration
	u.Duration = &d
	if !e.StartTime.IsZero() {
		start := e.StartTime.UTC()
		u.StartTime = &start
		if e.Duration > 0 && status == calls.StatusEnded {
			end := start.Add(time.Duration(e.Duration) * time.Second)
			u.EndTime = &end
		}
	}
	if e.Recording != nil && e.Recording.ID != "" {
		id, uri := e.Recording.ID, e.Recording.ContentURI
		u.RecordingID = &id
		if uri != "" {
			u.RecordingURL = &uri
		}
	}
	return u
}

func endpointNumber(ep telephony.CallLogEndpoint) string {
	if ep.PhoneNumber != "" {
		return ep.PhoneNumber
	}
	return ep.ExtensionNumber
}
