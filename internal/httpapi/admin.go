package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"crm-telephony/internal/audit"
	"crm-telephony/internal/telephony"
	"crm-telephony/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const defaultSyncWindow = 24 * time.Hour

type syncRequest struct {
	From *time.Time `json:"from"`
	To   *time.Time `json:"to"`
}

// SyncCalls pulls the provider call log for a window (default: last 24h)
// into the store. Admin only.
func (h Handlers) SyncCalls(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	if h.Poller == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "poller not configured"})
		return
	}

	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	to := h.now().UTC()
	if req.To != nil {
		to = req.To.UTC()
	}
	from := to.Add(-defaultSyncWindow)
	if req.From != nil {
		from = req.From.UTC()
	}
	if !to.After(from) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be after from"})
		return
	}

	ctx := c.Request.Context()
	rep, err := h.Poller.SyncCallLogs(ctx, from, to)
	h.auditAdmin(c, a, "call log sync", gin.H{"from": from, "to": to, "report": rep, "ok": err == nil})
	if err != nil {
		logger.FromGin(c).Error("call log sync failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "call log sync failed", "report": rep})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": rep, "from": from, "to": to})
}

// SweepNow runs one recording/insights sweep inline. Admin only.
func (h Handlers) SweepNow(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	if h.Poller == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "poller not configured"})
		return
	}
	// A sweep runs to completion once started, even if the caller goes away.
	rep := h.Poller.Sweep(context.WithoutCancel(c.Request.Context()))
	h.auditAdmin(c, a, "poller sweep", rep)
	if rep.Skipped {
		c.JSON(http.StatusConflict, gin.H{"error": "sweep already running", "report": rep})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": rep})
}

// simulateRequest describes one synthetic session notification.
type simulateRequest struct {
	CallID     string `json:"callId"`
	PartyID    string `json:"partyId"`
	Status     string `json:"status"`
	Direction  string `json:"direction"`
	From       string `json:"from"`
	To         string `json:"to"`
	CallerName string `json:"callerName"`
	Duration   *int   `json:"duration"`
}

// SimulateCall feeds a synthetic session payload through the webhook
// pipeline. Admin only, disabled in production.
func (h Handlers) SimulateCall(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	if !h.AllowSimulate {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "simulation disabled"})
		return
	}
	if h.Events == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event pipeline not configured"})
		return
	}

	var req simulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "status required"})
		return
	}
	if req.CallID == "" {
		req.CallID = "sim-" + uuid.NewString()
	}

	raw, err := simulatedPayload(req, h.now().UTC())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "payload build failed"})
		return
	}
	res := h.Events.Process(c.Request.Context(), raw)
	h.auditAdmin(c, a, "simulated call event", gin.H{"call_id": req.CallID, "status": req.Status, "result": res.Kind.String()})

	body := gin.H{"callId": req.CallID, "result": res.Kind.String()}
	if res.Kind == telephony.Recognized {
		body["event"] = res.Event
	} else {
		body["reason"] = res.Reason
	}
	c.JSON(http.StatusOK, body)
}

type simEndpoint struct {
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Name        string `json:"name,omitempty"`
}

type simParty struct {
	ID        string `json:"id"`
	Direction string `json:"direction,omitempty"`
	Status    struct {
		Code string `json:"code"`
	} `json:"status"`
	From     simEndpoint `json:"from"`
	To       simEndpoint `json:"to"`
	Duration *int        `json:"duration,omitempty"`
}

type simBody struct {
	TelephonySessionID string     `json:"telephonySessionId"`
	EventTime          string     `json:"eventTime"`
	Parties            []simParty `json:"parties"`
}

type simEnvelope struct {
	UUID      string  `json:"uuid"`
	Event     string  `json:"event"`
	Timestamp string  `json:"timestamp"`
	Body      simBody `json:"body"`
}

func simulatedPayload(req simulateRequest, now time.Time) ([]byte, error) {
	p := simParty{
		ID:        req.PartyID,
		Direction: req.Direction,
		From:      simEndpoint{PhoneNumber: req.From, Name: req.CallerName},
		To:        simEndpoint{PhoneNumber: req.To},
		Duration:  req.Duration,
	}
	if p.ID == "" {
		p.ID = req.CallID + "-1"
	}
	p.Status.Code = req.Status

	ts := now.Format(time.RFC3339Nano)
	return json.Marshal(simEnvelope{
		UUID:      uuid.NewString(),
		Event:     "/restapi/v1.0/account/~/telephony/sessions",
		Timestamp: ts,
		Body: simBody{
			TelephonySessionID: req.CallID,
			EventTime:          ts,
			Parties:            []simParty{p},
		},
	})
}

func (h Handlers) auditAdmin(c *gin.Context, a audit.Actor, message string, metadata any) {
	if h.Audit == nil {
		return
	}
	if err := h.Audit.LogAdminAction(c.Request.Context(), a, message, metadata); err != nil {
		logger.FromGin(c).Warn("audit append failed", "message", message, "err", err)
	}
}
