package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crm-telephony/internal/calls"
	"crm-telephony/internal/rbac"
	"crm-telephony/internal/reporting"
	"crm-telephony/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// ListCalls returns stored call records, newest first.
//
// Query: direction=inbound|outbound, from/to (RFC 3339) or range token,
// limit. Non-admins only see calls touching their assigned numbers.
func (h Handlers) ListCalls(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call store not configured"})
		return
	}

	f := calls.Filter{Numbers: rbac.NumberScope(id), Limit: defaultListLimit}

	if d := c.Query("direction"); d != "" {
		dir, ok := parseDirection(d)
		if !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "direction must be inbound or outbound"})
			return
		}
		f.Direction = dir
	}

	if tok := c.Query("range"); tok != "" {
		win, err := reporting.ParseRange(tok, h.now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "range must be one of 7days, 1month, 1year, all"})
			return
		}
		f.From, f.To = win.From, win.To
	}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		v := c.Query(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": p.name + " must be RFC 3339"})
			return
		}
		*p.dst = t.UTC()
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.To.After(f.From) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be after from"})
		return
	}

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		f.Limit = min(n, maxListLimit)
	}

	rows, err := h.Calls.List(c.Request.Context(), f)
	if err != nil {
		logger.FromGin(c).Error("list calls failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": rows, "count": len(rows)})
}

// GetCall returns one record. Records outside the caller's numbers are
// reported as not found.
func (h Handlers) GetCall(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call store not configured"})
		return
	}
	callID := strings.TrimSpace(c.Param("call_id"))
	if callID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return
	}

	rec, err := h.Calls.FindByCallID(c.Request.Context(), callID)
	switch {
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	case err != nil:
		logger.FromGin(c).Error("get call failed", "call_id", callID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	if !inScope(rec, rbac.NumberScope(id)) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) InboundSummary(c *gin.Context) {
	h.summary(c, calls.DirectionInbound)
}

func (h Handlers) OutboundSummary(c *gin.Context) {
	h.summary(c, calls.DirectionOutbound)
}

func (h Handlers) summary(c *gin.Context, dir calls.Direction) {
	id, ok := identity(c)
	if !ok {
		return
	}
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	tok := c.Query("dateRange")
	if tok == "" {
		tok = c.Query("range")
	}
	details, _ := strconv.ParseBool(c.Query("details"))

	out, err := h.Reports.Summarize(c.Request.Context(), reporting.SummaryRequest{
		Direction:    dir,
		Range:        tok,
		Numbers:      rbac.NumberScope(id),
		IncludeCalls: details,
	})
	switch {
	case errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "range must be one of 7days, 1month, 1year, all"})
		return
	case err != nil:
		logger.FromGin(c).Error("call summary failed", "direction", dir, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func parseDirection(s string) (calls.Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inbound":
		return calls.DirectionInbound, true
	case "outbound":
		return calls.DirectionOutbound, true
	default:
		return "", false
	}
}

// inScope reports whether rec touches one of scope's numbers. A nil scope
// allows everything.
func inScope(rec calls.CallRecord, scope []string) bool {
	if scope == nil {
		return true
	}
	for _, n := range calls.NormalizeNumbers(scope) {
		for _, p := range []*string{rec.FromNumber, rec.ToNumber} {
			if p != nil && calls.NormalizeDigits(*p) == n {
				return true
			}
		}
	}
	return false
}
