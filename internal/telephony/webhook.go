package telephony

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"time"

	"crm-telephony/internal/calls"
	"crm-telephony/internal/observability"
	"crm-telephony/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	headerValidationToken   = "Validation-Token"
	headerVerificationToken = "Verification-Token"

	defaultMaxWebhookBody = 1 << 20
)

// Applier writes a normalized event to the call store.
type Applier interface {
	Apply(ctx context.Context, ev calls.CallEvent) (calls.Outcome, error)
}

// EventPublisher fans a processed event out to live sessions. It must not block.
type EventPublisher interface {
	PublishCallEvent(ctx context.Context, ev calls.CallEvent, out calls.Outcome)
}

// WebhookHandler receives RingCentral telephony session notifications.
//
// The provider always gets 200: parse errors, stale events and store failures
// are logged and counted, never surfaced, so the provider does not start
// redelivering.
type WebhookHandler struct {
	Reconciler Applier
	Publisher  EventPublisher

	// VerificationToken, when set, must match the Verification-Token header.
	VerificationToken string

	MaxBodyBytes int64
	Now          func() time.Time
}

func (h WebhookHandler) HandleCallEvent(c *gin.Context) {
	log := logger.FromGin(c)
	defer func() {
		if r := recover(); r != nil {
			log.Error("webhook processing panicked", "panic", r)
			observability.WebhookEvents.WithLabelValues("panic").Inc()
			if !c.Writer.Written() {
				c.Status(http.StatusOK)
			}
		}
	}()

	// Subscription handshake takes priority over the body.
	if token := c.GetHeader(headerValidationToken); token != "" {
		log.Info("webhook validation handshake")
		observability.WebhookEvents.WithLabelValues("handshake").Inc()
		c.Header(headerValidationToken, token)
		c.Status(http.StatusOK)
		return
	}

	if h.VerificationToken != "" {
		got := c.GetHeader(headerVerificationToken)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.VerificationToken)) != 1 {
			log.Warn("webhook verification token mismatch")
			observability.WebhookEvents.WithLabelValues("rejected").Inc()
			c.Status(http.StatusOK)
			return
		}
	}

	limit := h.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxWebhookBody
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, limit))
	if err != nil {
		log.Warn("webhook body read failed", "err", err)
		observability.WebhookEvents.WithLabelValues("malformed").Inc()
		c.Status(http.StatusOK)
		return
	}

	h.Process(c.Request.Context(), raw)
	c.Status(http.StatusOK)
}

// Process runs one body through normalize, reconcile and publish. It is
// also the entry point for simulated events.
func (h WebhookHandler) Process(ctx context.Context, raw []byte) ParseResult {
	log := logger.From(ctx)
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}

	res := Normalize(raw, now())
	observability.WebhookEvents.WithLabelValues(res.Kind.String()).Inc()
	switch res.Kind {
	case Malformed:
		log.Warn("discarding malformed webhook", "reason", res.Reason)
		return res
	case Ignored:
		log.Debug("ignoring non-call webhook", "reason", res.Reason)
		return res
	}

	ev := res.Event
	log = log.With("call_id", ev.CallID, "status", ev.Status)

	var out calls.Outcome
	if h.Reconciler != nil {
		var err error
		out, err = h.Reconciler.Apply(ctx, ev)
		switch {
		case err != nil:
			observability.ReconcileResults.WithLabelValues("error").Inc()
			if errors.Is(err, calls.ErrInvalidCallID) {
				log.Warn("call event rejected", "err", err)
			} else {
				log.Error("call event persistence failed", "err", err)
			}
		case out.Unrecognized:
			observability.ReconcileResults.WithLabelValues("unrecognized").Inc()
		case out.Stale:
			observability.ReconcileResults.WithLabelValues("stale").Inc()
		default:
			observability.ReconcileResults.WithLabelValues("applied").Inc()
		}
	}

	if h.Publisher != nil {
		h.Publisher.PublishCallEvent(ctx, ev, out)
	}
	return res
}

// HandleTest lets operators check the webhook route is reachable.
func (h WebhookHandler) HandleTest(c *gin.Context) {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"message":   "webhook endpoint reachable",
		"timestamp": now().UTC().Format(time.RFC3339),
	})
}
