package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const subsystem = "webhook"

// Prometheus implements Recorder.
type Prometheus struct {
	registry *prometheus.Registry

	eventsTotal          *prometheus.CounterVec
	processingDuration   *prometheus.HistogramVec
	errorsTotal          *prometheus.CounterVec
	policyViolations     *prometheus.CounterVec
	creditsGrantedTotal  *prometheus.CounterVec
	verificationsTotal   *prometheus.CounterVec
	verificationDuration prometheus.Histogram
}

// NewPrometheus registers all collectors on a fresh registry, including Go and process collectors.
func NewPrometheus(namespace string) *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,

		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "Total number of handled provider webhook events by outcome.",
		}, []string{"event_type", "outcome"}),

		processingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "processing_duration_seconds",
			Help:      "Duration of webhook processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),

		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of rejected or failed webhook deliveries.",
		}, []string{"error_type"}),

		policyViolations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "policy_violations_total",
			Help:      "Total number of audited policy violations.",
		}, []string{"reason"}),

		creditsGrantedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "credits_granted_total",
			Help:      "Total credits committed to the ledger.",
		}, []string{"type"}),

		verificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "signature_verifications_total",
			Help:      "Total number of provider signature verification calls.",
		}, []string{"status"}),

		verificationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "signature_verification_duration_seconds",
			Help:      "Duration of provider signature verification calls in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Prometheus) RecordWebhookEvent(eventType, outcome string) {
	m.eventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func (m *Prometheus) RecordWebhookDuration(eventType string, duration time.Duration) {
	m.processingDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *Prometheus) RecordWebhookError(errorType string) {
	m.errorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Prometheus) RecordPolicyViolation(reason string) {
	m.policyViolations.WithLabelValues(reason).Inc()
}

func (m *Prometheus) RecordCreditsGranted(txType string, credits int64) {
	m.creditsGrantedTotal.WithLabelValues(txType).Add(float64(credits))
}

func (m *Prometheus) RecordVerification(status string, duration time.Duration) {
	m.verificationsTotal.WithLabelValues(status).Inc()
	m.verificationDuration.Observe(duration.Seconds())
}

// Handler exposes the registry for scraping.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Prometheus) Registry() *prometheus.Registry {
	return m.registry
}
