package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the ad server.
type Metrics struct {
	// Impression pipeline
	Impressions    *prometheus.CounterVec
	Rejections     *prometheus.CounterVec
	TrackDuration  *prometheus.HistogramVec
	RecordFailures prometheus.Counter

	// Nonce lifecycle
	NoncesIssued   prometheus.Counter
	NoncesConsumed *prometheus.CounterVec

	// Click rate limiting (fraud heuristic)
	ClickRatelimited prometheus.Counter

	// Analytics dispatch
	AnalyticsEvents *prometheus.CounterVec

	// Geo lookups
	GeoLookupLatency *prometheus.HistogramVec

	// HTTP rate limiting
	RateLimitHits *prometheus.CounterVec

	// Reports
	ReportRequests *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Impressions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "impressions_total",
				Help:      "Tracked impressions by type and result",
			},
			[]string{"type", "result"}, // result: billed, rejected
		),
		Rejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "impression_rejections_total",
				Help:      "Rejected impressions by filter reason",
			},
			[]string{"reason"},
		),
		TrackDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "track_duration_seconds",
				Help:      "Tracking request processing latency",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
			[]string{"type"},
		),
		RecordFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "impression_record_failures_total",
				Help:      "Accepted impressions that could not be recorded",
			},
		),
		NoncesIssued: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "nonces_issued_total",
				Help:      "Single-use tokens issued",
			},
		),
		NoncesConsumed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "nonces_consumed_total",
				Help:      "Nonce consume attempts by result",
			},
			[]string{"result"}, // result: consumed, replayed
		),
		ClickRatelimited: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "click_ratelimited_total",
				Help:      "Clicks rejected by the per-client rate limiter",
			},
		),
		AnalyticsEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analytics_events_total",
				Help:      "Analytics dispatch outcomes",
			},
			[]string{"status"}, // status: sent, dropped, failed
		),
		GeoLookupLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "geo_lookup_latency_seconds",
				Help:      "GeoIP lookup latency",
				Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01},
			},
			[]string{"cache_hit"},
		),
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "HTTP rate limit rejections",
			},
			[]string{"endpoint"},
		),
		ReportRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "report_requests_total",
				Help:      "Report requests by entity kind",
			},
			[]string{"kind"},
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordImpression records a tracking decision.
func (m *Metrics) RecordImpression(impressionType string, billed bool, latency time.Duration) {
	result := "billed"
	if !billed {
		result = "rejected"
	}
	m.Impressions.WithLabelValues(impressionType, result).Inc()
	m.TrackDuration.WithLabelValues(impressionType).Observe(latency.Seconds())
}

// RecordRejection records the filter reason for a rejected impression.
func (m *Metrics) RecordRejection(reason string) {
	m.Rejections.WithLabelValues(reason).Inc()
}

// RecordNonceIssued records an issued nonce.
func (m *Metrics) RecordNonceIssued() {
	m.NoncesIssued.Inc()
}

// RecordNonceConsume records a consume attempt.
func (m *Metrics) RecordNonceConsume(consumed bool) {
	result := "consumed"
	if !consumed {
		result = "replayed"
	}
	m.NoncesConsumed.WithLabelValues(result).Inc()
}

// RecordAnalyticsEvent records a dispatch outcome: sent, dropped or failed.
func (m *Metrics) RecordAnalyticsEvent(status string) {
	m.AnalyticsEvents.WithLabelValues(status).Inc()
}

// RecordGeoLookup records a geo lookup.
func (m *Metrics) RecordGeoLookup(cacheHit bool, latency time.Duration) {
	hit := "false"
	if cacheHit {
		hit = "true"
	}
	m.GeoLookupLatency.WithLabelValues(hit).Observe(latency.Seconds())
}

// RecordRateLimitHit records an HTTP rate limit hit.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.RateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordReportRequest records a report request.
func (m *Metrics) RecordReportRequest(kind string) {
	m.ReportRequests.WithLabelValues(kind).Inc()
}
