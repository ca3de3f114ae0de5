package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cloudpilot",
			Subsystem: "scan",
			Name:      "runs_total",
			Help:      "Total number of scan runs",
		},
		[]string{"outcome"},
	)

	scanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cloudpilot",
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Scan duration in seconds",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	incidentsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cloudpilot",
			Subsystem: "scan",
			Name:      "incidents_total",
			Help:      "Total incidents detected, by rule and severity",
		},
		[]string{"rule", "severity"},
	)

	detectorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cloudpilot",
			Subsystem: "scan",
			Name:      "detector_failures_total",
			Help:      "Total detector failures captured by the engine",
		},
		[]string{"detector"},
	)
)

// RecordScan records the outcome and duration of one scan run.
func RecordScan(outcome string, seconds float64) {
	scansTotal.WithLabelValues(outcome).Inc()
	scanDuration.Observe(seconds)
}

// RecordIncident counts one detected incident.
func RecordIncident(rule, severity string) {
	incidentsDetected.WithLabelValues(rule, severity).Inc()
}

// RecordDetectorFailure counts one captured detector failure.
func RecordDetectorFailure(detector string) {
	detectorFailures.WithLabelValues(detector).Inc()
}

// Handler exposes the prometheus endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
