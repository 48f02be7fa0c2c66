// Package metrics provides Prometheus metrics for the security observability service.
//
// Exposed at /metrics on the HTTP server:
//
// Audit Chain:
//   - secobs_audit_writes_total: audit records written, by action family and result
//   - secobs_audit_verify_runs_total: chain verification runs, by result
//   - secobs_audit_tampered_records: tamper findings reported by the last verification
//
// Baselines and Anomalies:
//   - secobs_baseline_calculations_total: baseline calculations, by type and result
//   - secobs_baseline_recalc_duration_seconds: duration of the daily sweep
//   - secobs_anomalies_detected_total: findings, by type and severity
//
// Geolocation:
//   - secobs_geo_lookups_total: IP lookups, by source and result
package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuditWritesTotal counts audit chain appends
	AuditWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secobs_audit_writes_total",
			Help: "Total number of audit chain writes",
		},
		[]string{"family", "result"},
	)

	// AuditVerifyRunsTotal counts chain verification runs
	AuditVerifyRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secobs_audit_verify_runs_total",
			Help: "Total number of audit chain verification runs",
		},
		[]string{"result"},
	)

	// AuditTamperedRecords is the number of tamper findings from the last run
	AuditTamperedRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "secobs_audit_tampered_records",
			Help: "Tamper findings reported by the most recent verification",
		},
	)

	// BaselineCalculationsTotal counts per-type baseline calculations
	BaselineCalculationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secobs_baseline_calculations_total",
			Help: "Total number of baseline calculations",
		},
		[]string{"type", "result"},
	)

	// BaselineRecalcDuration tracks the daily sweep duration
	BaselineRecalcDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "secobs_baseline_recalc_duration_seconds",
			Help:    "Duration of full baseline recalculation sweeps",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// AnomaliesDetectedTotal counts persisted anomaly findings
	AnomaliesDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secobs_anomalies_detected_total",
			Help: "Total number of anomaly findings",
		},
		[]string{"type", "severity"},
	)

	// GeoLookupsTotal counts geolocation lookups
	GeoLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secobs_geo_lookups_total",
			Help: "Total number of IP geolocation lookups",
		},
		[]string{"source", "result"},
	)

	// HTTPRequestsTotal counts API requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secobs_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks API latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "secobs_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordAuditWrite records one audit append
func RecordAuditWrite(action string, err error) {
	AuditWritesTotal.WithLabelValues(actionFamily(action), resultLabel(err)).Inc()
}

// RecordVerification records a verification run and its tamper count
func RecordVerification(tampered int, err error) {
	if err != nil {
		AuditVerifyRunsTotal.WithLabelValues("error").Inc()
		return
	}
	if tampered > 0 {
		AuditVerifyRunsTotal.WithLabelValues("tampered").Inc()
	} else {
		AuditVerifyRunsTotal.WithLabelValues("valid").Inc()
	}
	AuditTamperedRecords.Set(float64(tampered))
}

// RecordBaseline records one baseline calculation
func RecordBaseline(baselineType string, err error) {
	BaselineCalculationsTotal.WithLabelValues(baselineType, resultLabel(err)).Inc()
}

// RecordAnomaly records one persisted finding
func RecordAnomaly(anomalyType, severity string) {
	AnomaliesDetectedTotal.WithLabelValues(anomalyType, severity).Inc()
}

// RecordGeoLookup records a geolocation lookup
func RecordGeoLookup(source, result string) {
	GeoLookupsTotal.WithLabelValues(source, result).Inc()
}

// RecordRequest records an HTTP request
func RecordRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// actionFamily keeps label cardinality bounded: "phi.view" -> "phi".
func actionFamily(action string) string {
	if i := strings.IndexByte(action, '.'); i > 0 {
		return action[:i]
	}
	if action == "" {
		return "unknown"
	}
	return action
}
