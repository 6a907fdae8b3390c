// Package metrics holds the Prometheus collectors shared by the network
// layer, the batch checker and the health monitor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request retry metrics
var (
	RequestAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmnet_request_attempts_total",
			Help: "Total number of request attempts made through the retry wrapper",
		},
		[]string{"operation", "result"},
	)

	RequestRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmnet_request_retries_total",
			Help: "Total number of retries scheduled after a failed attempt",
		},
		[]string{"operation"},
	)

	RequestFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmnet_request_failures_total",
			Help: "Total number of requests that failed after exhausting retries",
		},
		[]string{"operation"},
	)

	BackoffSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "llmnet_backoff_seconds",
			Help:    "Backoff delay inserted between retry attempts",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)

	ProxyScopesActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llmnet_proxy_scopes_active",
			Help: "Number of proxy environment scopes currently held",
		},
		[]string{"mode"},
	)
)

// Health probe metrics
var (
	HealthChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmnet_health_checks_total",
			Help: "Total number of API health probes",
		},
		[]string{"provider", "result"},
	)

	HealthCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmnet_health_check_duration_seconds",
			Help:    "Duration of API health probes in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		},
		[]string{"provider"},
	)

	ProviderConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llmnet_provider_connected",
			Help: "Whether the last health probe reached the provider (1) or not (0)",
		},
		[]string{"provider"},
	)

	MonitorRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmnet_monitor_runs_total",
			Help: "Total number of health monitor refresh runs",
		},
		[]string{"result"},
	)
)

// BoolResult maps a success flag to the "success"/"failure" label pair
func BoolResult(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
