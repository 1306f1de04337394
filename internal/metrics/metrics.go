// Package metrics exposes Prometheus collectors for the helpserver service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cacheRequestsTotal     *prometheus.CounterVec
	cachePromotionsTotal   *prometheus.CounterVec
	dedupFetchesTotal      *prometheus.CounterVec
	syncOutcomesTotal      *prometheus.CounterVec
	pipelineMessagesTotal  *prometheus.CounterVec
	deadLetterTotal        *prometheus.CounterVec
	originRequestSeconds   *prometheus.HistogramVec
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDurationSec *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call multiple
// times; the Observe helpers are no-ops until it has run.
func Init() {
	once.Do(func() {
		cacheRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "helpserver_cache_requests_total",
				Help: "Cache tier probes, labeled by tier and result.",
			},
			[]string{"tier", "result"},
		)

		cachePromotionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "helpserver_cache_promotions_total",
				Help: "Backfill writes into faster tiers after a slow-tier hit.",
			},
			[]string{"tier", "result"},
		)

		dedupFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "helpserver_dedup_fetches_total",
				Help: "Deduplicated fetches: owner ran the fetch, coalesced attached to one in flight.",
			},
			[]string{"role"},
		)

		syncOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "helpserver_sync_outcomes_total",
				Help: "Resource sync outcomes, labeled by status.",
			},
			[]string{"status"},
		)

		pipelineMessagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "helpserver_pipeline_messages_total",
				Help: "Pipeline messages processed, labeled by queue and status.",
			},
			[]string{"queue", "status"},
		)

		deadLetterTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "helpserver_dead_letter_total",
				Help: "Messages moved to a dead-letter queue after exhausting attempts.",
			},
			[]string{"queue"},
		)

		originRequestSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "helpserver_origin_request_duration_seconds",
				Help:    "Origin zipball fetch latencies, labeled by status.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "helpserver_http_requests_total",
				Help: "HTTP requests served, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSec = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "helpserver_http_request_duration_seconds",
				Help:    "HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCacheRequest records one tier probe.
func ObserveCacheRequest(tier, result string) {
	if cacheRequestsTotal == nil {
		return
	}
	cacheRequestsTotal.WithLabelValues(tier, result).Inc()
}

// ObserveCachePromotion records one backfill write.
func ObserveCachePromotion(tier, result string) {
	if cachePromotionsTotal == nil {
		return
	}
	cachePromotionsTotal.WithLabelValues(tier, result).Inc()
}

// ObserveDedup records a deduplicated fetch by role.
func ObserveDedup(role string) {
	if dedupFetchesTotal == nil {
		return
	}
	dedupFetchesTotal.WithLabelValues(role).Inc()
}

// ObserveSync records one sync outcome.
func ObserveSync(status string) {
	if syncOutcomesTotal == nil {
		return
	}
	syncOutcomesTotal.WithLabelValues(status).Inc()
}

// ObservePipelineMessage records one processed pipeline message.
func ObservePipelineMessage(queue, status string) {
	if pipelineMessagesTotal == nil {
		return
	}
	pipelineMessagesTotal.WithLabelValues(queue, status).Inc()
}

// ObserveDeadLetter records a dead-letter move.
func ObserveDeadLetter(queue string) {
	if deadLetterTotal == nil {
		return
	}
	deadLetterTotal.WithLabelValues(queue).Inc()
}

// ObserveOriginRequest records an origin fetch latency.
func ObserveOriginRequest(status string, duration time.Duration) {
	if originRequestSeconds == nil {
		return
	}
	originRequestSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveHTTPRequest records a served HTTP request.
func ObserveHTTPRequest(method, route, code string, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, code).Inc()
	httpRequestDurationSec.WithLabelValues(method, route).Observe(duration.Seconds())
}
