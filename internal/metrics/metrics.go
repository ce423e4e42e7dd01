package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"method", "path"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests in flight",
		},
	)

	// Bybit API metrics
	BybitAPIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bybit_api_requests_total",
			Help: "Total number of Bybit API requests",
		},
		[]string{"endpoint", "status"},
	)
	BybitAPIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "bybit_api_request_duration_seconds",
			Help: "Duration of Bybit API requests in seconds",
		},
		[]string{"endpoint"},
	)
	BybitFailovers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bybit_endpoint_failovers_total",
			Help: "Number of times a Bybit endpoint was skipped for the next one",
		},
		[]string{"endpoint", "reason"},
	)

	// Webhook metrics
	WebhookAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_alerts_total",
			Help: "Webhook alerts received, labelled by final status",
		},
		[]string{"status"},
	)

	// SMS metrics
	SMSAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sms_attempts_total",
			Help: "SMS delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Open positions as reported by the local store
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "open_positions",
			Help: "Number of positions currently open",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(HTTPRequestsInFlight)

	prometheus.MustRegister(BybitAPIRequestsTotal)
	prometheus.MustRegister(BybitAPIRequestDuration)
	prometheus.MustRegister(BybitFailovers)

	prometheus.MustRegister(WebhookAlertsTotal)
	prometheus.MustRegister(SMSAttemptsTotal)
	prometheus.MustRegister(OpenPositions)

	prometheus.MustRegister(prometheus.NewGoCollector())
	prometheus.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}
