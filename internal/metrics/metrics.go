package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widgetly_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "widgetly_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "widgetly_http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		},
	)

	AdmissionDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widgetly_admission_decisions_total",
			Help: "Admission gate outcomes by entity kind and result code.",
		},
		[]string{"entity_kind", "result"},
	)

	UsageIncrementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widgetly_usage_increments_total",
			Help: "Usage counter increments by entity kind, usage type, and outcome.",
		},
		[]string{"entity_kind", "type", "status"},
	)

	CounterResetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widgetly_usage_counter_resets_total",
			Help: "Period counter resets persisted, by entity kind and period.",
		},
		[]string{"entity_kind", "period"},
	)

	AssistantCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "widgetly_assistant_call_duration_seconds",
			Help:    "Latency of calls to the external assistant service.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"operation", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPInFlight,
		AdmissionDecisionsTotal,
		UsageIncrementsTotal,
		CounterResetsTotal,
		AssistantCallDuration,
	)
}
