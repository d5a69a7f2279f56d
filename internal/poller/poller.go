// Package poller reconciles call records with data the provider produces
// after a call ends: recordings first, then AI insights.
//
// A sweep is serial and paced. Each candidate's failure is logged and
// counted on the record; the sweep itself never fails.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"crm-telephony/internal/calls"
	"crm-telephony/internal/observability"
	"crm-telephony/internal/telephony"
)

// Config is the poller policy.
type Config struct {
	Interval             time.Duration
	BatchSize            int
	MaxRecordingAttempts int
	MaxInsightsAttempts  int
	// Pacing is the pause between two candidates of one sweep.
	Pacing           time.Duration
	RateLimitBackoff time.Duration
	RateLimitRetries int

	SyncInterval time.Duration
	SyncWindow   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.MaxRecordingAttempts <= 0 {
		c.MaxRecordingAttempts = 5
	}
	if c.MaxInsightsAttempts <= 0 {
		c.MaxInsightsAttempts = 5
	}
	if c.RateLimitRetries < 0 {
		c.RateLimitRetries = 0
	}
	if c.SyncWindow <= 0 {
		c.SyncWindow = 24 * time.Hour
	}
	return c
}

// Locker serializes sweeps across processes.
type Locker interface {
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

type Poller struct {
	store    calls.Store
	provider telephony.Provider
	cfg      Config
	log      *slog.Logger

	lock  Locker
	sleep func(ctx context.Context, d time.Duration) error
	clock func() time.Time

	running sync.Mutex
}

func New(store calls.Store, provider telephony.Provider, cfg Config, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		store:    store,
		provider: provider,
		cfg:      cfg.withDefaults(),
		log:      log,
		sleep:    sleepCtx,
		clock:    time.Now,
	}
}

// WithLock makes every sweep take l first; a held lock skips the sweep.
func (p *Poller) WithLock(l Locker) *Poller {
	p.lock = l
	return p
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Skipped             bool `json:"skipped"`
	RecordingCandidates int  `json:"recordingCandidates"`
	RecordingsFound     int  `json:"recordingsFound"`
	RecordingsMissing   int  `json:"recordingsMissing"`
	InsightsCandidates  int  `json:"insightsCandidates"`
	InsightsCompleted   int  `json:"insightsCompleted"`
	InsightsPending     int  `json:"insightsPending"`
	InsightsFailed      int  `json:"insightsFailed"`
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	p.log.Info("poller started", "interval", p.cfg.Interval, "batch_size", p.cfg.BatchSize)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		p.Sweep(ctx)
		select {
		case <-ctx.Done():
			p.log.Info("poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs one recording pass and one insights pass.
func (p *Poller) Sweep(ctx context.Context) SweepReport {
	var rep SweepReport
	if !p.running.TryLock() {
		p.log.Info("sweep already running, skipping")
		rep.Skipped = true
		return rep
	}
	defer p.running.Unlock()

	if p.lock != nil {
		release, ok, err := p.lock.TryLock(ctx)
		if err != nil {
			p.log.Warn("sweep lock failed, skipping", "err", err)
			rep.Skipped = true
			return rep
		}
		if !ok {
			p.log.Debug("sweep lock held elsewhere, skipping")
			rep.Skipped = true
			return rep
		}
		defer release()
	}

	start := p.clock()
	defer func() {
		observability.PollerSweepDuration.Observe(p.clock().Sub(start).Seconds())
	}()

	handled := p.recordingPass(ctx, &rep)
	p.insightsPass(ctx, &rep, handled)

	p.log.Info("sweep finished",
		"recording_candidates", rep.RecordingCandidates,
		"recordings_found", rep.RecordingsFound,
		"insights_completed", rep.InsightsCompleted,
		"insights_failed", rep.InsightsFailed,
	)
	return rep
}

func (p *Poller) recordingPass(ctx context.Context, rep *SweepReport) map[string]bool {
	handled := map[string]bool{}
	candidates, err := p.store.FindEndedWithoutRecording(ctx, p.cfg.BatchSize, p.cfg.MaxRecordingAttempts)
	if err != nil {
		p.log.Error("recording candidates query failed", "err", err)
		return handled
	}
	rep.RecordingCandidates = len(candidates)

	for i, rec := range candidates {
		if i > 0 && p.pace(ctx) != nil {
			return handled
		}
		log := p.log.With("call_id", rec.CallID)

		recording, err := p.fetchRecording(ctx, rec.CallID)
		if err != nil {
			if ctx.Err() != nil {
				return handled
			}
			rep.RecordingsMissing++
			p.recordingMiss(ctx, log, rec.CallID, err)
			continue
		}

		rep.RecordingsFound++
		observability.PollerFetches.WithLabelValues("recording", "found").Inc()
		pending := calls.InsightsPending
		_, err = p.store.UpsertByCallID(ctx, rec.CallID, calls.Update{
			RecordingID:    &recording.ID,
			RecordingURL:   &recording.ContentURI,
			InsightsStatus: &pending,
		})
		if err != nil {
			log.Error("store recording failed", "err", err)
			continue
		}
		log.Info("recording stored", "recording_id", recording.ID)

		handled[rec.CallID] = true
		p.updateInsights(ctx, rep, rec.CallID, recording.ID)
	}
	return handled
}

func (p *Poller) insightsPass(ctx context.Context, rep *SweepReport, skip map[string]bool) {
	candidates, err := p.store.FindPendingInsights(ctx, p.cfg.BatchSize, p.cfg.MaxInsightsAttempts)
	if err != nil {
		p.log.Error("insights candidates query failed", "err", err)
		return
	}
	first := rep.RecordingCandidates == 0
	for _, rec := range candidates {
		if skip[rec.CallID] || rec.RecordingID == nil {
			continue
		}
		if !first && p.pace(ctx) != nil {
			return
		}
		first = false
		rep.InsightsCandidates++
		p.updateInsights(ctx, rep, rec.CallID, *rec.RecordingID)
	}
}

func (p *Poller) recordingMiss(ctx context.Context, log *slog.Logger, callID string, cause error) {
	result := "error"
	switch {
	case telephony.IsNotFound(cause):
		result = "not_ready"
		log.Info("recording not ready", "err", cause)
	case telephony.IsRateLimited(cause):
		result = "rate_limited"
		log.Warn("recording fetch rate limited, retries exhausted", "err", cause)
	default:
		log.Warn("recording fetch failed", "err", cause)
	}
	observability.PollerFetches.WithLabelValues("recording", result).Inc()

	if _, err := p.store.UpsertByCallID(ctx, callID, calls.Update{IncRecordingFetchAttempts: true}); err != nil {
		log.Error("recording attempt increment failed", "err", err)
	}
}

// fetchRecording resolves the call log to its recording descriptor.
func (p *Poller) fetchRecording(ctx context.Context, callID string) (telephony.Recording, error) {
	var out telephony.Recording
	err := p.retryRateLimited(ctx, "recording", func() error {
		entry, err := p.provider.GetCallLog(ctx, callID)
		if err != nil {
			return err
		}
		if entry.Recording == nil || entry.Recording.ID == "" {
			return telephony.ErrNotReady
		}
		r, err := p.provider.GetRecording(ctx, entry.Recording.ID)
		if err != nil {
			return err
		}
		if r.ID == "" {
			r.ID = entry.Recording.ID
		}
		if r.ContentURI == "" {
			r.ContentURI = entry.Recording.ContentURI
		}
		out = r
		return nil
	})
	return out, err
}

// updateInsights fetches insights for one record unless they are already
// resolved. Reaching the attempt ceiling marks the record failed.
func (p *Poller) updateInsights(ctx context.Context, rep *SweepReport, callID, recordingID string) {
	log := p.log.With("call_id", callID, "recording_id", recordingID)

	current, err := p.store.FindByCallID(ctx, callID)
	if err != nil {
		log.Error("insights lookup failed", "err", err)
		return
	}
	if current.InsightsStatus == calls.InsightsCompleted ||
		current.InsightsStatus == calls.InsightsFailed ||
		current.InsightsFetchAttempts >= p.cfg.MaxInsightsAttempts {
		return
	}

	var in calls.Insights
	err = p.retryRateLimited(ctx, "insights", func() error {
		var ferr error
		in, ferr = p.provider.GetInsights(ctx, recordingID)
		return ferr
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		u := calls.Update{IncInsightsFetchAttempts: true}
		result := "not_ready"
		if !telephony.IsNotFound(err) {
			result = "error"
			log.Warn("insights fetch failed", "err", err)
		} else {
			log.Info("insights still processing")
		}
		if current.InsightsFetchAttempts+1 >= p.cfg.MaxInsightsAttempts {
			failed := calls.InsightsFailed
			u.InsightsStatus = &failed
			result = "failed"
			rep.InsightsFailed++
			log.Warn("insights attempts exhausted", "attempts", current.InsightsFetchAttempts+1)
		} else {
			rep.InsightsPending++
		}
		observability.PollerFetches.WithLabelValues("insights", result).Inc()
		if _, err := p.store.UpsertByCallID(ctx, callID, u); err != nil {
			log.Error("insights attempt increment failed", "err", err)
		}
		return
	}

	completed := calls.InsightsCompleted
	now := p.clock().UTC()
	if _, err := p.store.UpsertByCallID(ctx, callID, calls.Update{
		Insights:          &in,
		InsightsStatus:    &completed,
		InsightsLastFetch: &now,
	}); err != nil {
		log.Error("store insights failed", "err", err)
		return
	}
	rep.InsightsCompleted++
	observability.PollerFetches.WithLabelValues("insights", "completed").Inc()
	log.Info("insights stored")
}

// retryRateLimited runs fn, waiting RateLimitBackoff after each 429 for at
// most RateLimitRetries extra attempts. Other errors return immediately.
func (p *Poller) retryRateLimited(ctx context.Context, kind string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !telephony.IsRateLimited(err) || attempt >= p.cfg.RateLimitRetries {
			return err
		}
		p.log.Warn("provider rate limited, backing off",
			"kind", kind, "attempt", attempt+1, "backoff", p.cfg.RateLimitBackoff)
		if serr := p.sleep(ctx, p.cfg.RateLimitBackoff); serr != nil {
			return errors.Join(err, serr)
		}
	}
}

func (p *Poller) pace(ctx context.Context) error {
	if p.cfg.Pacing <= 0 {
		return ctx.Err()
	}
	return p.sleep(ctx, p.cfg.Pacing)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
