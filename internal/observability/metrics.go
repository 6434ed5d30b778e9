package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "helpdesk"

// Metrics holds the service's Prometheus collectors on a private registry.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	escalations     *prometheus.CounterVec
	maxEscalations  *prometheus.CounterVec
	duplicates      prometheus.Counter
	detectorDown    prometheus.Counter
	casConflicts    prometheus.Counter
	scanDuration    prometheus.Histogram
	scanTickets     *prometheus.CounterVec
	outboxRelayed   *prometheus.CounterVec
}

// NewMetrics registers every collector plus the Go and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"path", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_errors_total",
			Help:      "Error responses by route, method and error code.",
		}, []string{"path", "method", "code"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticket_transitions_total",
			Help:      "Applied ticket status transitions.",
		}, []string{"from", "to"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticket_escalations_total",
			Help:      "Escalation level changes by trigger and target level.",
		}, []string{"trigger", "to_level"}),
		maxEscalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticket_max_escalation_reached_total",
			Help:      "Escalation attempts on tickets already at the terminal level.",
		}, []string{"trigger"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticket_duplicates_linked_total",
			Help:      "Tickets created pre-linked to an existing ticket.",
		}),
		detectorDown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_detector_unavailable_total",
			Help:      "Intakes that skipped duplicate detection.",
		}),
		casConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticket_concurrent_modifications_total",
			Help:      "Transitions that lost the version compare-and-swap.",
		}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "escalation_scan_duration_seconds",
			Help:      "Duration of one expired-deadline scan.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		scanTickets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalation_scan_tickets_total",
			Help:      "Expired tickets processed by the scheduler, by outcome.",
		}, []string{"outcome"}),
		outboxRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_relayed_total",
			Help:      "Outbox events handed to the external stream, by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.requestDuration,
		m.errors,
		m.transitions,
		m.escalations,
		m.maxEscalations,
		m.duplicates,
		m.detectorDown,
		m.casConflicts,
		m.scanDuration,
		m.scanTickets,
		m.outboxRelayed,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordEscalation(trigger string, toLevel int) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(trigger, strconv.Itoa(toLevel)).Inc()
}

func (m *Metrics) RecordMaxEscalation(trigger string) {
	if m == nil {
		return
	}
	m.maxEscalations.WithLabelValues(trigger).Inc()
}

func (m *Metrics) RecordDuplicateLinked() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

func (m *Metrics) RecordDetectorUnavailable() {
	if m == nil {
		return
	}
	m.detectorDown.Inc()
}

func (m *Metrics) RecordConcurrentModification() {
	if m == nil {
		return
	}
	m.casConflicts.Inc()
}

// ObserveScan records one scheduler pass.
func (m *Metrics) ObserveScan(duration time.Duration, escalated, failed int) {
	if m == nil {
		return
	}
	m.scanDuration.Observe(duration.Seconds())
	m.scanTickets.WithLabelValues("escalated").Add(float64(escalated))
	m.scanTickets.WithLabelValues("failed").Add(float64(failed))
}

// RecordOutboxRelay counts one relay pass.
func (m *Metrics) RecordOutboxRelay(delivered, failed int) {
	if m == nil {
		return
	}
	m.outboxRelayed.WithLabelValues("delivered").Add(float64(delivered))
	m.outboxRelayed.WithLabelValues("failed").Add(float64(failed))
}
