package core

import (
	"gemini-relay/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP 请求指标
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gemini_relay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gemini_relay_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"method", "path", "status_class"},
	)

	// 上游调用指标
	upstreamAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gemini_relay_upstream_attempts_total",
			Help: "Upstream generate calls per candidate model",
		},
		[]string{"model", "outcome"},
	)

	upstreamAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gemini_relay_upstream_attempt_duration_seconds",
			Help:    "Latency of a single upstream generate call",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"model"},
	)

	upstreamExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gemini_relay_fallback_exhausted_total",
			Help: "Requests for which every candidate model failed",
		},
	)

	// 凭证相关指标（只使用前缀作为标签）
	credentialAcquisitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gemini_relay_credential_acquisitions_total",
			Help: "API key acquisitions from the rotator",
		},
		[]string{"key"},
	)

	titleFallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gemini_relay_title_fallback_total",
			Help: "Title requests answered with the default title",
		},
	)
)

func observeAttempt(rec models.AttemptRecord) {
	outcome := "success"
	if !rec.OK() {
		outcome = "failure"
	}
	upstreamAttemptsTotal.WithLabelValues(rec.Model, outcome).Inc()
	upstreamAttemptDuration.WithLabelValues(rec.Model).Observe(rec.Duration.Seconds())
}

func observeCredential(key models.Credential) {
	credentialAcquisitionsTotal.WithLabelValues(key.Prefix()).Inc()
}
