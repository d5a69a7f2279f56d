package main

import (
	"crm-telephony/internal/auth"
	"crm-telephony/internal/httpapi"
	"crm-telephony/internal/live"
	"crm-telephony/internal/rbac"
	"crm-telephony/internal/telephony"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeDeps struct {
	auth     *auth.Manager
	api      httpapi.Handlers
	webhook  telephony.WebhookHandler
	live     *live.Handler
	registry *prometheus.Registry
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := d.api

	// public
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})))

	// Provider webhooks (public). Authenticity is the optional Verification-Token.
	r.POST("/webhooks/ringcentral", d.webhook.HandleCallEvent)
	r.POST("/webhooks/ringcentral/test", d.webhook.HandleTest)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(d.auth))
	{
		v1.GET("/me", h.Me)
		v1.GET("/live", d.live.Serve)
		v1.GET("/sip/provision", h.ProvisionSIP)
		v1.DELETE("/sip/provision", h.ResetSIP)

		// CALLS routes
		callsGroup := v1.Group("/calls")
		callsGroup.Use(rbac.RequireAnyRole(rbac.RoleSalesManager, rbac.RoleAgent))
		{
			callsGroup.GET("", h.ListCalls)
			callsGroup.GET("/summary/inbound", h.InboundSummary)
			callsGroup.GET("/summary/outbound", h.OutboundSummary)
			callsGroup.GET("/:call_id", h.GetCall)

			callsGroup.POST("/:call_id/answer", h.AnswerCall)
			callsGroup.POST("/:call_id/hangup", h.HangupCall)
			callsGroup.POST("/:call_id/mute", h.MuteCall)
			callsGroup.POST("/:call_id/hold", h.HoldCall)
			callsGroup.POST("/:call_id/record", h.RecordCall)
		}

		// ADMIN routes. RequireAnyRole with no roles admits admins only.
		adminOnly := rbac.RequireAnyRole()
		v1.POST("/calls/sync", adminOnly, h.SyncCalls)
		v1.POST("/calls/simulate", adminOnly, h.SimulateCall)

		admin := v1.Group("/admin")
		admin.Use(adminOnly)
		{
			admin.POST("/poller/sweep", h.SweepNow)
		}
	}
}
