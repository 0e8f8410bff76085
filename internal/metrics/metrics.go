package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	VerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "license_verifications_total",
			Help: "License verifications by reported status.",
		},
		[]string{"status"},
	)

	TamperDetectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "license_tamper_detections_total",
			Help: "Checksum mismatches that suspended a license.",
		},
	)

	ClientAlertsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "license_client_alerts_total",
			Help: "Tamper reports recorded from clients.",
		},
	)

	RevisionConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "license_revision_conflicts_total",
			Help: "Optimistic concurrency conflicts while persisting a verification.",
		},
	)

	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "license_rate_limited_total",
			Help: "Requests rejected by the per-IP rate limiter.",
		},
	)

	IntegrityTripped = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "license_server_integrity_tripped",
			Help: "1 when the server self-integrity check has failed and verification is disabled.",
		},
	)
)

// MustRegister adds every collector to reg. Call it once per process.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		VerificationsTotal,
		TamperDetectionsTotal,
		ClientAlertsTotal,
		RevisionConflictsTotal,
		RateLimitedTotal,
		IntegrityTripped,
	)
}
