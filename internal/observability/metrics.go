package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "crm_webhook_events_total", Help: "Inbound telephony webhook deliveries by parse result"},
		[]string{"result"},
	)
	ReconcileResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "crm_reconcile_total", Help: "Call event reconciliation outcomes"},
		[]string{"result"},
	)
	Broadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "crm_live_broadcast_total", Help: "Live fan-out messages by event"},
		[]string{"event"},
	)
	LiveDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "crm_live_dropped_total", Help: "Live messages dropped because a session buffer was full"},
	)
	LiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "crm_live_sessions", Help: "Connected live sessions"},
	)
	PollerFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "crm_poller_fetch_total", Help: "Recording/insights fetch outcomes"},
		[]string{"kind", "result"},
	)
	PollerSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "crm_poller_sweep_seconds", Help: "Poller sweep duration", Buckets: prometheus.ExponentialBuckets(1, 2, 10)},
	)
	ProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "crm_provider_requests_total", Help: "RingCentral REST calls"},
		[]string{"op", "http_status"},
	)
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "crm_provider_latency_seconds", Help: "RingCentral REST latency"},
		[]string{"op"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		WebhookEvents,
		ReconcileResults,
		Broadcasts,
		LiveDropped,
		LiveSessions,
		PollerFetches,
		PollerSweepDuration,
		ProviderRequests,
		ProviderLatency,
	)
}
