package httpapi

import (
	"context"
	"net/http"
	"time"

	"crm-telephony/internal/audit"
	"crm-telephony/internal/auth"
	"crm-telephony/internal/calls"
	"crm-telephony/internal/poller"
	"crm-telephony/internal/reporting"
	"crm-telephony/internal/telephony"
	"crm-telephony/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallReader is the read side of the call store.
type CallReader interface {
	FindByCallID(ctx context.Context, callID string) (calls.CallRecord, error)
	List(ctx context.Context, f calls.Filter) ([]calls.CallRecord, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, req reporting.SummaryRequest) (reporting.Summary, error)
}

// CallController is satisfied by *telephony.CallControl.
type CallController interface {
	Answer(ctx context.Context, actor audit.Actor, callID, partyID string) (telephony.ControlResult, error)
	Hangup(ctx context.Context, actor audit.Actor, callID, partyID string) (telephony.ControlResult, error)
	SetMuted(ctx context.Context, actor audit.Actor, callID, partyID string, muted bool) (telephony.ControlResult, error)
	SetHold(ctx context.Context, actor audit.Actor, callID, partyID string, hold bool) (telephony.ControlResult, error)
	SetRecording(ctx context.Context, actor audit.Actor, callID, partyID string, active bool) (telephony.ControlResult, error)
}

type SIPProvisioner interface {
	Provision(ctx context.Context, userID string) (telephony.SIPInfo, bool, error)
	Forget(ctx context.Context, userID string) error
}

// Reconciliation is the on-demand face of the background poller.
type Reconciliation interface {
	Sweep(ctx context.Context) poller.SweepReport
	SyncCallLogs(ctx context.Context, from, to time.Time) (poller.SyncReport, error)
}

// EventProcessor runs a raw session payload through the webhook pipeline.
type EventProcessor interface {
	Process(ctx context.Context, raw []byte) telephony.ParseResult
}

// ReadyCheck reports whether one backing service is reachable.
type ReadyCheck func(ctx context.Context) error

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls   CallReader
	Reports Summarizer
	Control CallController
	SIP     SIPProvisioner
	Poller  Reconciliation
	Events  EventProcessor
	Audit   *audit.Service

	// AllowSimulate enables POST /v1/calls/simulate outside production.
	AllowSimulate bool
	Ready         map[string]ReadyCheck

	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// --- Health ---

func (h Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz runs every readiness check with a short deadline.
func (h Handlers) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for name, check := range h.Ready {
		if err := check(ctx); err != nil {
			logger.FromGin(c).Warn("readiness check failed", "check", name, "err", err)
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	c.JSON(status, gin.H{"ready": status == http.StatusOK, "checks": checks})
}

// --- Identity ---

func (h Handlers) Me(c *gin.Context) {
	id, ok := auth.IdentityFrom(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	if id.AssignedNumbers == nil {
		id.AssignedNumbers = []string{}
	}
	c.JSON(http.StatusOK, id)
}

func identity(c *gin.Context) (auth.Identity, bool) {
	id, ok := auth.IdentityFrom(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
	}
	return id, ok
}

func actor(c *gin.Context) (audit.Actor, bool) {
	a, ok := auth.Actor(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
	}
	return a, ok
}
