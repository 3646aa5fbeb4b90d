package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every gateway collector.
// Collectors are registered on the registry passed to New so tests can use
// an isolated prometheus.Registry.
type Metrics struct {
	ProxyRequests       *prometheus.CounterVec
	UpstreamErrors      *prometheus.CounterVec
	RateLimited         *prometheus.CounterVec
	RateLimitStoreError prometheus.Counter
	AuthFailures        *prometheus.CounterVec
	WSConnections       *prometheus.GaugeVec
	WSRooms             *prometheus.GaugeVec
	FramesRelayed       *prometheus.CounterVec
	AuditDropped        prometheus.Counter
}

// New creates and registers all collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ProxyRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_proxy_requests_total",
				Help: "Proxied requests by upstream service and response code",
			},
			[]string{"service", "code"},
		),
		UpstreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_proxy_upstream_errors_total",
				Help: "Proxied requests that failed to reach the upstream",
			},
			[]string{"service"},
		),
		RateLimited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_rate_limited_total",
				Help: "Requests rejected by a rate limit policy",
			},
			[]string{"policy"},
		),
		RateLimitStoreError: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_rate_limit_store_errors_total",
				Help: "Rate limit checks answered by the failure policy because the bucket store failed",
			},
		),
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_auth_failures_total",
				Help: "Credential verification failures",
			},
			[]string{"scheme", "reason"},
		),
		WSConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_ws_connections",
				Help: "Open realtime connections by namespace",
			},
			[]string{"namespace"},
		),
		WSRooms: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_ws_rooms",
				Help: "Live rooms by namespace",
			},
			[]string{"namespace"},
		),
		FramesRelayed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_ws_frames_relayed_total",
				Help: "Inbound frames rebroadcast to a room",
			},
			[]string{"namespace"},
		),
		AuditDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_audit_dropped_total",
				Help: "Audit events dropped because the journal queue was full",
			},
		),
	}
}

// NewNop returns collectors registered on a throwaway registry
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
