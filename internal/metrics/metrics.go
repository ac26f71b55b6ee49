// Package metrics holds the Prometheus instrumentation for the integration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors. Construct one per process with
// New; tests use NewWith and a private registry.
type Metrics struct {
	PollsTotal      prometheus.Counter
	PollFailures    prometheus.Counter
	AlertsAdmitted  prometheus.Counter
	AlertsDropped   prometheus.Counter
	AlertsEvicted   prometheus.Counter
	CacheSize       prometheus.Gauge
	QueueDepth      prometheus.Gauge
	QueueDrops      prometheus.Counter
	RequestsTotal   *prometheus.CounterVec
	TokenRefreshes  prometheus.Counter
	LookupEntities  prometheus.Counter
	RateLimitStalls prometheus.Counter
}

// New registers all collectors with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers all collectors with the given registerer.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PollsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dataminr_polls_total",
			Help: "Total number of alert poll cycles started",
		}),
		PollFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "dataminr_poll_failures_total",
			Help: "Total number of alert poll cycles that ended with an error",
		}),
		AlertsAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "dataminr_alerts_admitted_total",
			Help: "Total number of alerts admitted to the cache",
		}),
		AlertsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "dataminr_alerts_dropped_total",
			Help: "Total number of alerts rejected at admission (type, duplicate, age)",
		}),
		AlertsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "dataminr_alerts_evicted_total",
			Help: "Total number of alerts evicted by the cache bound",
		}),
		CacheSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dataminr_cache_alerts",
			Help: "Alerts currently cached",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dataminr_request_queue_depth",
			Help: "Outbound requests currently queued",
		}),
		QueueDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "dataminr_request_queue_drops_total",
			Help: "Requests rejected because the outbound queue was full or timed out",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dataminr_vendor_requests_total",
			Help: "Vendor API requests by status class",
		}, []string{"status"}),
		TokenRefreshes: factory.NewCounter(prometheus.CounterOpts{
			Name: "dataminr_token_refreshes_total",
			Help: "Bearer token fetches against the auth endpoint",
		}),
		LookupEntities: factory.NewCounter(prometheus.CounterOpts{
			Name: "dataminr_lookup_entities_total",
			Help: "Entities searched through the lookup action",
		}),
		RateLimitStalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "dataminr_rate_limit_stalls_total",
			Help: "Times the dispatcher slept waiting for a rate-limit window reset",
		}),
	}
}

// ObserveRequest records a vendor API response under its status class.
func (m *Metrics) ObserveRequest(status int) {
	class := "error"
	switch {
	case status >= 200 && status < 300:
		class = "2xx"
	case status >= 300 && status < 400:
		class = "3xx"
	case status >= 400 && status < 500:
		class = "4xx"
	case status >= 500:
		class = "5xx"
	}
	m.RequestsTotal.WithLabelValues(class).Inc()
}
