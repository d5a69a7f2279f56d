package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"crm-telephony/internal/audit"
	"crm-telephony/internal/calls"
	"crm-telephony/internal/telephony"
	"crm-telephony/pkg/logger"

	"github.com/gin-gonic/gin"
)

// controlRequest is the optional body of every call-control route. The
// toggles default to true when omitted.
type controlRequest struct {
	PartyID string `json:"partyId"`
	Muted   *bool  `json:"muted"`
	Hold    *bool  `json:"hold"`
	Active  *bool  `json:"active"`
}

type controlFunc func(c *gin.Context, a audit.Actor, callID string, req controlRequest) (telephony.ControlResult, error)

func (h Handlers) AnswerCall(c *gin.Context) {
	h.control(c, func(c *gin.Context, a audit.Actor, callID string, req controlRequest) (telephony.ControlResult, error) {
		return h.Control.Answer(c.Request.Context(), a, callID, req.PartyID)
	})
}

func (h Handlers) HangupCall(c *gin.Context) {
	h.control(c, func(c *gin.Context, a audit.Actor, callID string, req controlRequest) (telephony.ControlResult, error) {
		return h.Control.Hangup(c.Request.Context(), a, callID, req.PartyID)
	})
}

func (h Handlers) MuteCall(c *gin.Context) {
	h.control(c, func(c *gin.Context, a audit.Actor, callID string, req controlRequest) (telephony.ControlResult, error) {
		return h.Control.SetMuted(c.Request.Context(), a, callID, req.PartyID, boolOr(req.Muted, true))
	})
}

func (h Handlers) HoldCall(c *gin.Context) {
	h.control(c, func(c *gin.Context, a audit.Actor, callID string, req controlRequest) (telephony.ControlResult, error) {
		return h.Control.SetHold(c.Request.Context(), a, callID, req.PartyID, boolOr(req.Hold, true))
	})
}

func (h Handlers) RecordCall(c *gin.Context) {
	h.control(c, func(c *gin.Context, a audit.Actor, callID string, req controlRequest) (telephony.ControlResult, error) {
		return h.Control.SetRecording(c.Request.Context(), a, callID, req.PartyID, boolOr(req.Active, true))
	})
}

func (h Handlers) control(c *gin.Context, fn controlFunc) {
	a, ok := actor(c)
	if !ok {
		return
	}
	if h.Control == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call control not configured"})
		return
	}
	callID := strings.TrimSpace(c.Param("call_id"))
	if callID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return
	}

	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.PartyID = strings.TrimSpace(req.PartyID)

	res, err := fn(c, a, callID, req)
	if err != nil {
		status, msg := controlError(err)
		if status >= http.StatusInternalServerError {
			logger.FromGin(c).Error("call control failed", "call_id", callID, "err", err)
		}
		c.AbortWithStatusJSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, res)
}

// controlError maps call-control failures onto HTTP statuses.
func controlError(err error) (int, string) {
	var apiErr *telephony.APIError
	switch {
	case errors.Is(err, calls.ErrInvalidCallID):
		return http.StatusBadRequest, "call_id required"
	case errors.Is(err, telephony.ErrNotRingable), errors.Is(err, telephony.ErrAlreadyActive):
		return http.StatusConflict, err.Error()
	case errors.Is(err, telephony.ErrNoActiveParty):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, telephony.ErrNotConfigured):
		return http.StatusServiceUnavailable, "telephony provider not configured"
	case telephony.IsTransient(err):
		return http.StatusServiceUnavailable, "telephony provider unavailable"
	case telephony.IsNotFound(err):
		return http.StatusNotFound, "call session not found"
	case errors.As(err, &apiErr):
		return http.StatusBadGateway, "telephony provider rejected the request"
	default:
		return http.StatusInternalServerError, "call control failed"
	}
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// ProvisionSIP returns the caller's WebRTC SIP registration.
func (h Handlers) ProvisionSIP(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	if h.SIP == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sip provisioning not configured"})
		return
	}
	info, cached, err := h.SIP.Provision(c.Request.Context(), id.UserID)
	if err != nil {
		status, _ := controlError(err)
		if status < http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		logger.FromGin(c).Error("sip provisioning failed", "user_id", id.UserID, "err", err)
		c.AbortWithStatusJSON(status, gin.H{"error": "sip provisioning failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sipInfo": info, "cached": cached})
}

// ResetSIP drops the caller's cached registration so the next provision
// request fetches a fresh one.
func (h Handlers) ResetSIP(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	if h.SIP == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sip provisioning not configured"})
		return
	}
	if err := h.SIP.Forget(c.Request.Context(), id.UserID); err != nil {
		logger.FromGin(c).Error("sip cache reset failed", "user_id", id.UserID, "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "sip cache unavailable"})
		return
	}
	c.Status(http.StatusNoContent)
}
