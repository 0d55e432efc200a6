package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpErrors   *prometheus.CounterVec

	scanRuns          *prometheus.CounterVec
	scanDuration      prometheus.Histogram
	casesEvaluated    prometheus.Counter
	escalationsFired  *prometheus.CounterVec
	escalationSkipped *prometheus.CounterVec
	escalationErrors  *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	timelineFailures  *prometheus.CounterVec
}

// NewMetrics registers collectors on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method, route, and status code",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "HTTP errors by route and error code",
		}, []string{"method", "route", "code"}),
		scanRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escalation_scan_runs_total",
			Help: "Escalation scanner runs by outcome",
		}, []string{"outcome"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "escalation_scan_duration_seconds",
			Help:    "Duration of a full escalation sweep",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		casesEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "escalation_cases_evaluated_total",
			Help: "Open cases evaluated by the scanner",
		}),
		escalationsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escalations_fired_total",
			Help: "Escalations created by stage and level",
		}, []string{"stage", "level"}),
		escalationSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escalations_skipped_total",
			Help: "Overdue (case, rule) pairs skipped because an unresolved escalation exists",
		}, []string{"reason"}),
		escalationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escalation_errors_total",
			Help: "Escalation failures by phase",
		}, []string{"phase"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escalation_notifications_total",
			Help: "Escalation notifications dispatched by channel and outcome",
		}, []string{"channel", "outcome"}),
		timelineFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeline_write_failures_total",
			Help: "Timeline events that failed to persist after a case mutation",
		}, []string{"event_type"}),
	}

	m.registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.httpErrors,
		m.scanRuns,
		m.scanDuration,
		m.casesEvaluated,
		m.escalationsFired,
		m.escalationSkipped,
		m.escalationErrors,
		m.notifications,
		m.timelineFailures,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.httpErrors.WithLabelValues(method, route, code).Inc()
}

// RecordScan records a finished or skipped scanner run.
func (m *Metrics) RecordScan(outcome string, duration time.Duration, casesEvaluated int) {
	if m == nil {
		return
	}
	m.scanRuns.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.scanDuration.Observe(duration.Seconds())
	}
	m.casesEvaluated.Add(float64(casesEvaluated))
}

// RecordEscalationFired counts a newly created escalation.
func (m *Metrics) RecordEscalationFired(stage, level string) {
	if m == nil {
		return
	}
	m.escalationsFired.WithLabelValues(stage, level).Inc()
}

// RecordEscalationSkipped counts an idempotent skip.
func (m *Metrics) RecordEscalationSkipped(reason string) {
	if m == nil {
		return
	}
	m.escalationSkipped.WithLabelValues(reason).Inc()
}

// RecordEscalationError counts a failure in the given phase (decision, reassign, priority).
func (m *Metrics) RecordEscalationError(phase string) {
	if m == nil {
		return
	}
	m.escalationErrors.WithLabelValues(phase).Inc()
}

// RecordNotification counts a dispatch attempt.
func (m *Metrics) RecordNotification(channel string, ok bool) {
	if m == nil {
		return
	}
	outcome := "sent"
	if !ok {
		outcome = "failed"
	}
	m.notifications.WithLabelValues(channel, outcome).Inc()
}

// RecordTimelineFailure counts a dependent timeline write that failed.
func (m *Metrics) RecordTimelineFailure(eventType string) {
	if m == nil {
		return
	}
	m.timelineFailures.WithLabelValues(eventType).Inc()
}
