package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gateway-specific counters and gauges, registered on the default
// Prometheus registry. Enrichment pulled from the pack's own gateway/proxy
// repos (krishna-kudari-go-ratelimit, Laisky-one-api both depend on
// prometheus/client_golang for exactly this purpose) — this supersedes the
// teacher's hand-rolled text writer in prometheus.go for these specific
// counters; see DESIGN.md.
var (
	RateLimitAllowed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_ratelimit_allowed_total",
		Help: "Total requests admitted by the rate limiter.",
	})
	RateLimitDenied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_ratelimit_denied_total",
		Help: "Total requests denied by the rate limiter.",
	})
	RateLimitEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_ratelimit_entries",
		Help: "Current number of tracked rate-limit client entries.",
	})

	PoolActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_pool_active",
		Help: "Currently executing requests per backend pool.",
	}, []string{"backend"})
	PoolQueued = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_pool_queued",
		Help: "Currently queued requests per backend pool.",
	}, []string{"backend"})
	PoolProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_pool_processed_total",
		Help: "Total requests run to completion per backend pool.",
	}, []string{"backend"})
	PoolQueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_pool_queued_total",
		Help: "Total requests that passed through the queue per backend pool.",
	}, []string{"backend"})
	PoolFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_pool_failed_total",
		Help: "Total requests rejected (QueueFull, QueueTimeout, Shutdown) per backend pool.",
	}, []string{"backend"})

	RouterDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_router_decisions_total",
		Help: "Total routing decisions, labelled by chosen backend and fallback state.",
	}, []string{"backend", "fallback"})
)
